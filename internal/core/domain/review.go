package domain

import "time"

type ReviewStatus string

const (
	ReviewOpen     ReviewStatus = "open"
	ReviewAssigned ReviewStatus = "assigned"
	ReviewRejected ReviewStatus = "rejected"
)

// ReviewEntry is one manual-review queue item. It snapshots everything the
// operator needs to assign an employee/request or reject the document: the
// extracted fields, the match attempt with its reason, the candidate pool the
// matcher saw, and the validation diff when one exists.
type ReviewEntry struct {
	ID                 string           `json:"id"`
	DocumentID         string           `json:"document_id"`
	Reason             string           `json:"reason"`
	Extraction         ExtractionResult `json:"extraction"`
	Match              MatchResult      `json:"match"`
	Candidates         []Candidate      `json:"candidates,omitempty"`
	Validation         ValidationResult `json:"validation"`
	Status             ReviewStatus     `json:"status"`
	AssignedEmployeeID string           `json:"assigned_employee_id,omitempty"`
	AssignedRequestID  string           `json:"assigned_request_id,omitempty"`
	ResolutionNote     string           `json:"resolution_note,omitempty"`
	ResolvedBy         string           `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type ReviewAction string

const (
	ReviewActionQueued   ReviewAction = "queued"
	ReviewActionAssigned ReviewAction = "assigned"
	ReviewActionRejected ReviewAction = "rejected"
)

// ReviewEvent is published for downstream tooling whenever a queue entry is
// created or resolved.
type ReviewEvent struct {
	EntryID    string       `json:"entry_id"`
	DocumentID string       `json:"document_id"`
	Action     ReviewAction `json:"action"`
	EmployeeID string       `json:"employee_id,omitempty"`
	RequestID  string       `json:"request_id,omitempty"`
	Note       string       `json:"note,omitempty"`
	At         time.Time    `json:"at"`
}
