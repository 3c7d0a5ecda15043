package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

// DocumentStore persists the per-document claim state machine. Every
// transition carries a WHERE clause on the current status and reports whether
// it actually fired, so concurrent workers and the orphan sweep can race
// without ever producing two terminal events for one claim cycle.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `id, storage_name, generation, status, origin_address, received_at, claimed_at, retry_count, last_error, final_status, outcome, created_at, updated_at`

// Register records a newly observed upload. The generation token dedups
// repeated sightings: the second observer gets the existing row and
// created=false.
func (s *DocumentStore) Register(ctx context.Context, doc domain.Document) (domain.Document, bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO trade_documents (id, storage_name, generation, status, origin_address, received_at, retry_count, last_error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,0,'',$7,$7)
ON CONFLICT (generation) DO NOTHING
`, doc.ID, doc.StorageName, doc.Generation, string(domain.StatusPending), doc.OriginAddress, doc.ReceivedAt, now)
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("register document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("register document rows affected: %w", err)
	}

	stored, err := s.getByGeneration(ctx, doc.Generation)
	if err != nil {
		return domain.Document{}, false, err
	}
	return *stored, affected == 1, nil
}

func (s *DocumentStore) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM trade_documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *DocumentStore) getByGeneration(ctx context.Context, generation string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM trade_documents
WHERE generation = $1
`, generation)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document by generation", fmt.Errorf("generation=%s", generation))
		}
		return nil, fmt.Errorf("get document by generation: %w", err)
	}
	return doc, nil
}

// MarkClaimed confirms a won blob claim. Reports false when the row was not
// pending, which the poller treats as a lost race.
func (s *DocumentStore) MarkClaimed(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, "mark claimed", `
UPDATE trade_documents
SET status = 'claimed', claimed_at = $2, updated_at = $2
WHERE id = $1 AND status = 'pending'
`, id, time.Now().UTC())
}

func (s *DocumentStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, "mark processing", `
UPDATE trade_documents
SET status = 'processing', updated_at = $2
WHERE id = $1 AND status = 'claimed'
`, id, time.Now().UTC())
}

// MarkArchived records the terminal outcome for a successfully processed
// document. The status guard makes the transition single-shot: whoever sees
// true owns publishing the terminal event.
func (s *DocumentStore) MarkArchived(ctx context.Context, id string, outcome domain.ProcessingOutcome) (bool, error) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return false, fmt.Errorf("marshal outcome: %w", err)
	}
	return s.transition(ctx, "mark archived", `
UPDATE trade_documents
SET status = 'archived', final_status = $2, outcome = $3, last_error = '', updated_at = $4
WHERE id = $1 AND status = 'processing'
`, id, string(outcome.FinalStatus), payload, time.Now().UTC())
}

func (s *DocumentStore) MarkFailed(ctx context.Context, id string, outcome domain.ProcessingOutcome, lastError string) (bool, error) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return false, fmt.Errorf("marshal outcome: %w", err)
	}
	return s.transition(ctx, "mark failed", `
UPDATE trade_documents
SET status = 'failed', final_status = $2, outcome = $3, last_error = $4, retry_count = retry_count + 1, updated_at = $5
WHERE id = $1 AND status = 'processing'
`, id, string(outcome.FinalStatus), payload, lastError, time.Now().UTC())
}

// ListOrphans returns documents stuck in claimed/processing whose claim is at
// or past the cutoff. The caller computes the cutoff as now minus the orphan
// timeout; a document claimed a second ago never appears here.
func (s *DocumentStore) ListOrphans(ctx context.Context, cutoff time.Time, limit int) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM trade_documents
WHERE status IN ('claimed', 'processing') AND claimed_at IS NOT NULL AND claimed_at <= $1
ORDER BY claimed_at ASC
LIMIT $2
`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphans: %w", err)
	}
	return out, nil
}

// ResetToPending returns an orphaned claim to the pending pool and counts the
// retry.
func (s *DocumentStore) ResetToPending(ctx context.Context, id, reason string) (bool, error) {
	return s.transition(ctx, "reset to pending", `
UPDATE trade_documents
SET status = 'pending', claimed_at = NULL, retry_count = retry_count + 1, last_error = $2, updated_at = $3
WHERE id = $1 AND status IN ('claimed', 'processing')
`, id, reason, time.Now().UTC())
}

// FailOrphan retires a poison document that exhausted its retries. There is
// no pipeline outcome to attach; the reason lands in last_error and the
// document routes to manual review.
func (s *DocumentStore) FailOrphan(ctx context.Context, id, reason string) (bool, error) {
	return s.transition(ctx, "fail orphan", `
UPDATE trade_documents
SET status = 'failed', final_status = $2, last_error = $3, updated_at = $4
WHERE id = $1 AND status IN ('claimed', 'processing')
`, id, string(domain.FinalManualReviewRequired), reason, time.Now().UTC())
}

func (s *DocumentStore) transition(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return affected == 1, nil
}

type documentScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row documentScanner) (*domain.Document, error) {
	var (
		doc         domain.Document
		status      string
		claimedAt   sql.NullTime
		finalStatus sql.NullString
		outcomeRaw  []byte
	)
	err := row.Scan(
		&doc.ID, &doc.StorageName, &doc.Generation, &status, &doc.OriginAddress,
		&doc.ReceivedAt, &claimedAt, &doc.RetryCount, &doc.LastError, &finalStatus, &outcomeRaw,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = domain.DocumentStatus(status)
	if claimedAt.Valid {
		t := claimedAt.Time
		doc.ClaimedAt = &t
	}
	if finalStatus.Valid {
		doc.FinalStatus = domain.FinalStatus(finalStatus.String)
	}
	if len(outcomeRaw) > 0 {
		var outcome domain.ProcessingOutcome
		if err := json.Unmarshal(outcomeRaw, &outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
		doc.Outcome = &outcome
	}
	return &doc, nil
}
