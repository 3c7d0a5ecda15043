package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

// RequestStore reads the pre-clearance trade requests the matcher needs. The
// request and employee tables are owned by the compliance system; this store
// only ever reads them.
type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

// ListAwaitingConfirmation returns the matching universe: one candidate per
// request still waiting for its broker confirmation, joined with the
// requesting employee's names.
func (s *RequestStore) ListAwaitingConfirmation(ctx context.Context) ([]domain.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.employee_id, r.id, e.given_name, e.family_name, e.preferred_name, r.ticker, r.direction, r.quantity
FROM trade_requests r
JOIN employees e ON e.id = r.employee_id
WHERE r.status = $1
ORDER BY r.created_at ASC
`, domain.RequestAwaitingConfirmation)
	if err != nil {
		return nil, fmt.Errorf("list awaiting confirmation: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Candidate, 0)
	for rows.Next() {
		var c domain.Candidate
		var direction string
		if err := rows.Scan(&c.EmployeeID, &c.RequestID, &c.GivenName, &c.FamilyName, &c.PreferredName, &c.Ticker, &direction, &c.Quantity); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Direction = domain.TradeDirection(direction)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

func (s *RequestStore) GetRequest(ctx context.Context, id string) (*domain.TradeRequest, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, employee_id, ticker, direction, quantity, estimated_value, status
FROM trade_requests
WHERE id = $1
`, id)

	var req domain.TradeRequest
	var direction string
	err := row.Scan(&req.ID, &req.EmployeeID, &req.Ticker, &direction, &req.Quantity, &req.EstimatedValue, &req.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRequestNotFound, "get request", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	req.Direction = domain.TradeDirection(direction)
	return &req, nil
}
