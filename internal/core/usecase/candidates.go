package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/complyte/tradeconfirm/internal/core/domain"
	"github.com/complyte/tradeconfirm/internal/core/ports"
)

// poolCandidate pairs a candidate with its precomputed name keys so the
// matcher never re-normalizes inside a tier loop.
type poolCandidate struct {
	domain.Candidate
	fullKey      string
	preferredKey string
}

func (c poolCandidate) familyKey() string {
	_, family := splitNameKey(c.fullKey)
	return family
}

// initialMatches reports whether a leading initial agrees with the start of
// the candidate's given or preferred name.
func (c poolCandidate) initialMatches(initial rune) bool {
	for _, key := range []string{c.fullKey, c.preferredKey} {
		given, _ := splitNameKey(key)
		if len(given) > 0 && []rune(given[0])[0] == initial {
			return true
		}
	}
	return false
}

// CandidatePool materializes the matching universe: every trade request still
// awaiting its broker confirmation, joined with the requesting employee. A
// snapshot is taken fresh for each document and discarded afterwards.
type CandidatePool struct {
	requests ports.RequestStore
}

func NewCandidatePool(requests ports.RequestStore) *CandidatePool {
	return &CandidatePool{requests: requests}
}

func (p *CandidatePool) Snapshot(ctx context.Context) (*PoolSnapshot, error) {
	candidates, err := p.requests.ListAwaitingConfirmation(ctx)
	if err != nil {
		return nil, fmt.Errorf("candidate pool: %w", err)
	}
	return newPoolSnapshot(candidates), nil
}

// PoolSnapshot is the immutable per-document view of the pool.
type PoolSnapshot struct {
	entries    []poolCandidate
	byEmployee map[string][]domain.Candidate
}

func newPoolSnapshot(candidates []domain.Candidate) *PoolSnapshot {
	snap := &PoolSnapshot{
		entries:    make([]poolCandidate, 0, len(candidates)),
		byEmployee: make(map[string][]domain.Candidate),
	}
	for _, c := range candidates {
		pc := poolCandidate{
			Candidate: c,
			fullKey:   NormalizeName(c.GivenName + " " + c.FamilyName),
		}
		if strings.TrimSpace(c.PreferredName) != "" {
			key := NormalizeName(c.PreferredName + " " + c.FamilyName)
			if key != pc.fullKey {
				pc.preferredKey = key
			}
		}
		snap.entries = append(snap.entries, pc)
		snap.byEmployee[c.EmployeeID] = append(snap.byEmployee[c.EmployeeID], c)
	}
	return snap
}

func (s *PoolSnapshot) Size() int { return len(s.entries) }

// RequestsFor returns the open requests held by one employee, or nil when the
// employee has none in the pool.
func (s *PoolSnapshot) RequestsFor(employeeID string) []domain.Candidate {
	return s.byEmployee[employeeID]
}

// All returns every candidate in pool order, for review-entry snapshots.
func (s *PoolSnapshot) All() []domain.Candidate {
	out := make([]domain.Candidate, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Candidate
	}
	return out
}
