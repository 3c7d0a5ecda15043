package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/complyte/tradeconfirm/internal/core/domain"
	"github.com/complyte/tradeconfirm/internal/core/ports"
)

const (
	defaultReviewPageSize = 50
	maxReviewPageSize     = 500
)

// ReviewService is the operator side of the manual-review queue: listing open
// entries and resolving them by assignment or rejection. Resolution is guarded
// at the store, so two operators racing on one entry leaves exactly one
// winner.
type ReviewService struct {
	store     ports.ReviewStore
	requests  ports.RequestStore
	publisher ports.EventPublisher
	logger    *slog.Logger
}

func NewReviewService(store ports.ReviewStore, requests ports.RequestStore, publisher ports.EventPublisher, logger *slog.Logger) *ReviewService {
	return &ReviewService{store: store, requests: requests, publisher: publisher, logger: logger}
}

func (s *ReviewService) List(ctx context.Context, status domain.ReviewStatus, limit int) ([]domain.ReviewEntry, error) {
	if limit <= 0 {
		limit = defaultReviewPageSize
	}
	if limit > maxReviewPageSize {
		limit = maxReviewPageSize
	}
	return s.store.List(ctx, status, limit)
}

func (s *ReviewService) Get(ctx context.Context, entryID string) (*domain.ReviewEntry, error) {
	if entryID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get review entry", errors.New("entry id is required"))
	}
	return s.store.GetByID(ctx, entryID)
}

// Assign resolves an entry to an employee/request pair. The pair must be
// coherent: the request exists, belongs to that employee and is still
// awaiting its confirmation.
func (s *ReviewService) Assign(ctx context.Context, entryID, employeeID, requestID, note, resolvedBy string) (*domain.ReviewEntry, error) {
	const op = "assign review entry"
	if entryID == "" || employeeID == "" || requestID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("entry, employee and request ids are required"))
	}

	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.EmployeeID != employeeID {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("request %s does not belong to employee %s", requestID, employeeID))
	}
	if req.Status != domain.RequestAwaitingConfirmation {
		return nil, domain.WrapError(domain.ErrConflict, op, fmt.Errorf("request %s is %s, not awaiting confirmation", requestID, req.Status))
	}

	ok, err := s.store.MarkAssigned(ctx, entryID, employeeID, requestID, note, resolvedBy)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrConflict, op, fmt.Errorf("entry %s is %s, not open", entryID, entry.Status))
	}

	s.publishEvent(ctx, domain.ReviewEvent{
		EntryID:    entry.ID,
		DocumentID: entry.DocumentID,
		Action:     domain.ReviewActionAssigned,
		EmployeeID: employeeID,
		RequestID:  requestID,
		Note:       note,
		At:         time.Now().UTC(),
	})
	return entry, nil
}

func (s *ReviewService) Reject(ctx context.Context, entryID, note, resolvedBy string) (*domain.ReviewEntry, error) {
	const op = "reject review entry"
	if entryID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("entry id is required"))
	}

	ok, err := s.store.MarkRejected(ctx, entryID, note, resolvedBy)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrConflict, op, fmt.Errorf("entry %s is %s, not open", entryID, entry.Status))
	}

	s.publishEvent(ctx, domain.ReviewEvent{
		EntryID:    entry.ID,
		DocumentID: entry.DocumentID,
		Action:     domain.ReviewActionRejected,
		Note:       note,
		At:         time.Now().UTC(),
	})
	return entry, nil
}

// The queue row is the source of truth; event delivery is best-effort.
func (s *ReviewService) publishEvent(ctx context.Context, event domain.ReviewEvent) {
	if err := s.publisher.PublishReviewEvent(ctx, event); err != nil {
		s.logger.Warn("review_event_publish_failed",
			"entry_id", event.EntryID,
			"action", string(event.Action),
			"error", err,
		)
	}
}
