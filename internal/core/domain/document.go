package domain

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusClaimed    DocumentStatus = "claimed"
	StatusProcessing DocumentStatus = "processing"
	StatusArchived   DocumentStatus = "archived"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID            string         `json:"id"`
	StorageName   string         `json:"storage_name"`
	Generation    string         `json:"generation"`
	Status        DocumentStatus `json:"status"`
	OriginAddress string         `json:"origin_address,omitempty"`
	ReceivedAt    time.Time      `json:"received_at"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	RetryCount    int            `json:"retry_count"`
	LastError     string         `json:"last_error,omitempty"`
	FinalStatus   FinalStatus    `json:"final_status,omitempty"`
	// Outcome holds the terminal event payload once the document reaches
	// archived or failed; nil before that.
	Outcome   *ProcessingOutcome `json:"outcome,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// BlobRef rebuilds the blob-store reference for a persisted document, used by
// the orphan sweep to move the underlying file without re-listing the store.
func (d Document) BlobRef() BlobItem {
	return BlobItem{
		Name:          d.StorageName,
		Generation:    d.Generation,
		OriginAddress: d.OriginAddress,
		ReceivedAt:    d.ReceivedAt,
	}
}

// BlobItem is a single unclaimed object observed in the blob store. Generation
// identifies the exact uploaded version, not just the name: re-uploading a file
// under the same name produces a different generation.
type BlobItem struct {
	Name          string
	Generation    string
	Size          int64
	OriginAddress string
	ReceivedAt    time.Time
}
