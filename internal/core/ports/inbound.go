package ports

import (
	"context"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

// DocumentProcessor is the inbound contract for running one claimed document
// through the confirmation pipeline. The returned outcome is the terminal
// event; a non-nil error means the pipeline did not reach a terminal state and
// the claim is left for orphan recovery.
type DocumentProcessor interface {
	Process(ctx context.Context, doc domain.Document, item domain.BlobItem) (domain.ProcessingOutcome, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// ReviewQueue is the inbound contract for the manual-review surface (HTTP and
// MCP). Assign and Reject resolve an open entry on behalf of an operator.
type ReviewQueue interface {
	List(ctx context.Context, status domain.ReviewStatus, limit int) ([]domain.ReviewEntry, error)
	Get(ctx context.Context, entryID string) (*domain.ReviewEntry, error)
	Assign(ctx context.Context, entryID, employeeID, requestID, note, resolvedBy string) (*domain.ReviewEntry, error)
	Reject(ctx context.Context, entryID, note, resolvedBy string) (*domain.ReviewEntry, error)
}
