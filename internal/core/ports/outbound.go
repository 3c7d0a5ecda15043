package ports

import (
	"context"
	"time"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

// BlobStore abstracts the monitored document store. Claim must be atomic at
// the storage layer: of N concurrent claim attempts on one item exactly one
// succeeds, the rest get domain.ErrAlreadyClaimed.
type BlobStore interface {
	ListPending(ctx context.Context, limit int) ([]domain.BlobItem, error)
	Claim(ctx context.Context, item domain.BlobItem) error
	Read(ctx context.Context, item domain.BlobItem) ([]byte, error)
	Archive(ctx context.Context, item domain.BlobItem) error
	Quarantine(ctx context.Context, item domain.BlobItem, reason string) error
	Release(ctx context.Context, item domain.BlobItem) error
}

// DocumentStore persists the per-document claim state machine. Transition
// methods report whether the guarded update fired; false means another worker
// or the sweep got there first.
type DocumentStore interface {
	Register(ctx context.Context, doc domain.Document) (domain.Document, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	MarkClaimed(ctx context.Context, id string) (bool, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkArchived(ctx context.Context, id string, outcome domain.ProcessingOutcome) (bool, error)
	MarkFailed(ctx context.Context, id string, outcome domain.ProcessingOutcome, lastError string) (bool, error)
	ListOrphans(ctx context.Context, cutoff time.Time, limit int) ([]domain.Document, error)
	ResetToPending(ctx context.Context, id, reason string) (bool, error)
	FailOrphan(ctx context.Context, id, reason string) (bool, error)
}

// RequestStore reads pre-clearance trade requests owned by the compliance
// system.
type RequestStore interface {
	ListAwaitingConfirmation(ctx context.Context) ([]domain.Candidate, error)
	GetRequest(ctx context.Context, id string) (*domain.TradeRequest, error)
}

// ReviewStore persists the manual-review queue.
type ReviewStore interface {
	Create(ctx context.Context, entry domain.ReviewEntry) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.ReviewEntry, error)
	List(ctx context.Context, status domain.ReviewStatus, limit int) ([]domain.ReviewEntry, error)
	MarkAssigned(ctx context.Context, id, employeeID, requestID, note, resolvedBy string) (bool, error)
	MarkRejected(ctx context.Context, id, note, resolvedBy string) (bool, error)
}

// IdentityDirectory resolves an originating address to an employee id. An
// unknown address is a value (empty id), not an error.
type IdentityDirectory interface {
	ResolveByAddress(ctx context.Context, address string) (string, error)
}

// TextExtractor pulls the text layer out of a raw document.
type TextExtractor interface {
	Extract(ctx context.Context, name string, data []byte) (string, error)
}

// TradeExtractor is the language-model extraction engine: pass one classifies
// the document and isolates the trades section, pass two extracts structured
// trade fields from it. Both passes are schema-validated with self-correcting
// retries behind this interface.
type TradeExtractor interface {
	Classify(ctx context.Context, text string) (domain.DocumentClass, error)
	Extract(ctx context.Context, text string) (domain.TradeExtraction, error)
}

// EventPublisher emits terminal document outcomes and review-queue lifecycle
// events for downstream consumers.
type EventPublisher interface {
	PublishOutcome(ctx context.Context, outcome domain.ProcessingOutcome) error
	PublishReviewEvent(ctx context.Context, event domain.ReviewEvent) error
}
