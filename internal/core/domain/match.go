package domain

type MatchMethod string

const (
	MatchByEmail       MatchMethod = "email"
	MatchByNameExact   MatchMethod = "name_exact"
	MatchByNameFuzzy   MatchMethod = "name_fuzzy"
	MatchDisambiguated MatchMethod = "disambiguated"
	MatchNone          MatchMethod = "none"
)

// MatchResult carries no-match and ambiguity as ordinary values: both are
// expected outcomes that route to a human, not faults.
type MatchResult struct {
	EmployeeID     string      `json:"employee_id,omitempty"`
	RequestID      string      `json:"request_id,omitempty"`
	Method         MatchMethod `json:"method"`
	Confidence     float64     `json:"confidence"`
	Reason         string      `json:"reason"`
	TiedCandidates []Candidate `json:"tied_candidates,omitempty"`
}

func (m MatchResult) Resolved() bool {
	return m.RequestID != ""
}
