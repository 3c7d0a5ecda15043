package domain

import "time"

type RouteAction string

const (
	ActionAutoApprove          RouteAction = "auto_approve"
	ActionAutoApproveWithAudit RouteAction = "auto_approve_with_audit"
	ActionManualReview         RouteAction = "manual_review"
)

type RoutingDecision struct {
	Action            RouteAction `json:"action"`
	Reason            string      `json:"reason"`
	ValidationAllowed bool        `json:"validation_allowed"`
}

type FinalStatus string

const (
	FinalVerified             FinalStatus = "verified"
	FinalVerifiedWithAudit    FinalStatus = "verified_with_audit"
	FinalValidationFailed     FinalStatus = "validation_failed"
	FinalManualReviewRequired FinalStatus = "manual_review_required"
)

// ProcessingOutcome is the per-document terminal event consumed by the
// approval workflow.
type ProcessingOutcome struct {
	DocumentID  string           `json:"document_id"`
	Match       MatchResult      `json:"match"`
	Extraction  ExtractionResult `json:"extraction"`
	Validation  ValidationResult `json:"validation"`
	Routing     RoutingDecision  `json:"routing"`
	FinalStatus FinalStatus      `json:"final_status"`
	CompletedAt time.Time        `json:"completed_at"`
}
