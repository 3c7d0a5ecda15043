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

type ReviewStore struct {
	db *sql.DB
}

func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

const reviewColumns = `id, document_id, reason, extraction, match_result, candidates, validation, status, assigned_employee_id, assigned_request_id, resolution_note, resolved_by, resolved_at, created_at, updated_at`

// Create enqueues a review entry. One entry per document: a re-processed
// document that lands in review again keeps its original entry, and the
// second insert reports created=false.
func (s *ReviewStore) Create(ctx context.Context, entry domain.ReviewEntry) (bool, error) {
	extraction, err := json.Marshal(entry.Extraction)
	if err != nil {
		return false, fmt.Errorf("marshal extraction snapshot: %w", err)
	}
	match, err := json.Marshal(entry.Match)
	if err != nil {
		return false, fmt.Errorf("marshal match snapshot: %w", err)
	}
	candidates, err := json.Marshal(entry.Candidates)
	if err != nil {
		return false, fmt.Errorf("marshal candidates snapshot: %w", err)
	}
	validation, err := json.Marshal(entry.Validation)
	if err != nil {
		return false, fmt.Errorf("marshal validation snapshot: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO review_queue (id, document_id, reason, extraction, match_result, candidates, validation, status, resolution_note, resolved_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'','',$9,$9)
ON CONFLICT (document_id) DO NOTHING
`, entry.ID, entry.DocumentID, entry.Reason, extraction, match, candidates, validation, string(domain.ReviewOpen), now)
	if err != nil {
		return false, fmt.Errorf("create review entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create review entry rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *ReviewStore) GetByID(ctx context.Context, id string) (*domain.ReviewEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+reviewColumns+`
FROM review_queue
WHERE id = $1
`, id)

	entry, err := scanReviewEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrEntryNotFound, "get review entry", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get review entry: %w", err)
	}
	return entry, nil
}

// List returns queue entries oldest first, optionally filtered by status.
func (s *ReviewStore) List(ctx context.Context, status domain.ReviewStatus, limit int) ([]domain.ReviewEntry, error) {
	query := `
SELECT ` + reviewColumns + `
FROM review_queue
`
	args := make([]any, 0, 2)
	if status != "" {
		query += "WHERE status = $1\n"
		args = append(args, string(status))
	}
	query += "ORDER BY created_at ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review entries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ReviewEntry, 0)
	for rows.Next() {
		entry, err := scanReviewEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review entry: %w", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review entries: %w", err)
	}
	return out, nil
}

// MarkAssigned resolves an open entry to an employee/request pair. Reports
// false when the entry was already resolved by someone else.
func (s *ReviewStore) MarkAssigned(ctx context.Context, id, employeeID, requestID, note, resolvedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE review_queue
SET status = 'assigned', assigned_employee_id = $2, assigned_request_id = $3, resolution_note = $4, resolved_by = $5, resolved_at = $6, updated_at = $6
WHERE id = $1 AND status = 'open'
`, id, employeeID, requestID, note, resolvedBy, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark assigned: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark assigned rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *ReviewStore) MarkRejected(ctx context.Context, id, note, resolvedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE review_queue
SET status = 'rejected', resolution_note = $2, resolved_by = $3, resolved_at = $4, updated_at = $4
WHERE id = $1 AND status = 'open'
`, id, note, resolvedBy, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark rejected: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark rejected rows affected: %w", err)
	}
	return affected == 1, nil
}

type reviewScanner interface {
	Scan(dest ...any) error
}

func scanReviewEntry(row reviewScanner) (*domain.ReviewEntry, error) {
	var (
		entry              domain.ReviewEntry
		extractionRaw      []byte
		matchRaw           []byte
		candidatesRaw      []byte
		validationRaw      []byte
		status             string
		assignedEmployeeID sql.NullString
		assignedRequestID  sql.NullString
		resolvedAt         sql.NullTime
	)
	err := row.Scan(
		&entry.ID, &entry.DocumentID, &entry.Reason, &extractionRaw, &matchRaw, &candidatesRaw, &validationRaw,
		&status, &assignedEmployeeID, &assignedRequestID, &entry.ResolutionNote, &entry.ResolvedBy, &resolvedAt,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Status = domain.ReviewStatus(status)
	entry.AssignedEmployeeID = assignedEmployeeID.String
	entry.AssignedRequestID = assignedRequestID.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		entry.ResolvedAt = &t
	}
	if len(extractionRaw) > 0 {
		if err := json.Unmarshal(extractionRaw, &entry.Extraction); err != nil {
			return nil, fmt.Errorf("unmarshal extraction snapshot: %w", err)
		}
	}
	if len(matchRaw) > 0 {
		if err := json.Unmarshal(matchRaw, &entry.Match); err != nil {
			return nil, fmt.Errorf("unmarshal match snapshot: %w", err)
		}
	}
	if len(candidatesRaw) > 0 {
		if err := json.Unmarshal(candidatesRaw, &entry.Candidates); err != nil {
			return nil, fmt.Errorf("unmarshal candidates snapshot: %w", err)
		}
	}
	if len(validationRaw) > 0 {
		if err := json.Unmarshal(validationRaw, &entry.Validation); err != nil {
			return nil, fmt.Errorf("unmarshal validation snapshot: %w", err)
		}
	}
	return &entry, nil
}
