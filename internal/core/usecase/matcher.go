package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/complyte/tradeconfirm/internal/core/domain"
	"github.com/complyte/tradeconfirm/internal/core/ports"
)

// MatcherConfig carries the matching tunables. FuzzyThreshold is the minimum
// Levenshtein similarity a name tier accepts; QuantityPct is the relative
// band inside which a quantity corroborates a candidate during tie-breaking.
type MatcherConfig struct {
	OrgDomain      string
	FuzzyThreshold float64
	QuantityPct    float64
}

// Matcher resolves which employee and trade request a document belongs to.
// It is an immutable value built per document; every piece of per-document
// state flows through arguments.
type Matcher struct {
	directory ports.IdentityDirectory
	cfg       MatcherConfig
}

func NewMatcher(directory ports.IdentityDirectory, cfg MatcherConfig) Matcher {
	cfg.OrgDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.OrgDomain), "@"))
	return Matcher{directory: directory, cfg: cfg}
}

type addressOutcome int

const (
	// addressDeferred: out-of-domain or absent sender, name tiers decide.
	addressDeferred addressOutcome = iota
	// addressResolved: one employee, one open request, done.
	addressResolved
	// addressAmbiguous: one employee, several open requests; trade details
	// pick the request once extraction has run.
	addressAmbiguous
	// addressTerminal: the address settles the question negatively. Name
	// matching is not attempted for in-domain senders.
	addressTerminal
)

// AddressResolution is what the email tier can say before extraction has run.
type AddressResolution struct {
	outcome    addressOutcome
	match      domain.MatchResult
	candidates []scoredCandidate
}

// ResolveAddress runs the email tier. It is called before extraction: a
// resolved or terminal outcome is final, an ambiguous one is settled by
// Match once trade details exist.
func (m Matcher) ResolveAddress(ctx context.Context, pool *PoolSnapshot, address string) (AddressResolution, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || m.cfg.OrgDomain == "" {
		return AddressResolution{outcome: addressDeferred}, nil
	}
	at := strings.LastIndex(address, "@")
	if at < 0 || address[at+1:] != m.cfg.OrgDomain {
		return AddressResolution{outcome: addressDeferred}, nil
	}

	employeeID, err := m.directory.ResolveByAddress(ctx, address)
	if err != nil {
		return AddressResolution{}, fmt.Errorf("resolve address %s: %w", address, err)
	}
	if employeeID == "" {
		return AddressResolution{
			outcome: addressTerminal,
			match: domain.MatchResult{
				Method:     domain.MatchNone,
				Confidence: 0,
				Reason:     "origin address is in the organization domain but not registered to any employee",
			},
		}, nil
	}

	requests := pool.RequestsFor(employeeID)
	switch len(requests) {
	case 0:
		return AddressResolution{
			outcome: addressTerminal,
			match: domain.MatchResult{
				Method:     domain.MatchNone,
				Confidence: 0,
				Reason:     "sender has no request awaiting confirmation",
			},
		}, nil
	case 1:
		return AddressResolution{
			outcome: addressResolved,
			match: domain.MatchResult{
				EmployeeID: employeeID,
				RequestID:  requests[0].RequestID,
				Method:     domain.MatchByEmail,
				Confidence: 1.0,
				Reason:     "origin address resolved an employee with a single open request",
			},
		}, nil
	default:
		scored := make([]scoredCandidate, len(requests))
		for i, c := range requests {
			scored[i] = scoredCandidate{Candidate: c, base: 1.0}
		}
		return AddressResolution{outcome: addressAmbiguous, candidates: scored}, nil
	}
}

// Match finishes identity resolution once extraction has produced an account
// holder and trade details. Tiers run in order, first success wins; ambiguity
// inside a tier goes to trade-detail disambiguation, never to a guess.
func (m Matcher) Match(pool *PoolSnapshot, addr AddressResolution, fields domain.TradeFields) domain.MatchResult {
	switch addr.outcome {
	case addressResolved, addressTerminal:
		return addr.match
	case addressAmbiguous:
		return m.disambiguate(addr.candidates, fields, true)
	}

	key := NormalizeName(fields.AccountHolder)
	if key == "" {
		return domain.MatchResult{
			Method: domain.MatchNone,
			Reason: "document names no account holder",
		}
	}
	if pool.Size() == 0 {
		return domain.MatchResult{
			Method: domain.MatchNone,
			Reason: "no requests awaiting confirmation",
		}
	}

	if res, ok := m.matchExact(pool, key, fields); ok {
		return res
	}
	if res, ok := m.matchFuzzy(pool, key, fields); ok {
		return res
	}
	if res, ok := m.matchInitial(pool, key, fields); ok {
		return res
	}
	return domain.MatchResult{
		Method: domain.MatchNone,
		Reason: fmt.Sprintf("account holder %q matched no awaiting-confirmation request", fields.AccountHolder),
	}
}

// scoredCandidate carries the identity confidence a candidate earned in the
// tier that produced it, so a tie-break win keeps that confidence.
type scoredCandidate struct {
	domain.Candidate
	base float64
}

func (m Matcher) matchExact(pool *PoolSnapshot, key string, fields domain.TradeFields) (domain.MatchResult, bool) {
	var hits []scoredCandidate
	employees := map[string]bool{}
	for _, e := range pool.entries {
		switch key {
		case e.fullKey:
			hits = append(hits, scoredCandidate{Candidate: e.Candidate, base: 1.0})
		case e.preferredKey:
			hits = append(hits, scoredCandidate{Candidate: e.Candidate, base: 0.95})
		default:
			continue
		}
		employees[e.EmployeeID] = true
	}
	if len(hits) == 0 {
		return domain.MatchResult{}, false
	}
	if len(hits) == 1 {
		c := hits[0]
		reason := "account holder name matched exactly"
		if c.base < 1.0 {
			reason = "account holder name matched a preferred name"
		}
		return domain.MatchResult{
			EmployeeID: c.EmployeeID,
			RequestID:  c.RequestID,
			Method:     domain.MatchByNameExact,
			Confidence: c.base,
			Reason:     reason,
		}, true
	}
	// Several requests behind one key, whether one employee or namesakes:
	// the trade details decide.
	sameEmployee := len(employees) == 1
	return m.disambiguate(hits, fields, sameEmployee), true
}

func (m Matcher) matchFuzzy(pool *PoolSnapshot, key string, fields domain.TradeFields) (domain.MatchResult, bool) {
	var hits []scoredCandidate
	employees := map[string]bool{}
	for _, e := range pool.entries {
		sim := nameSimilarity(key, e.fullKey)
		if s := nameSimilarity(key, e.preferredKey); s > sim {
			sim = s
		}
		if sim < m.cfg.FuzzyThreshold {
			continue
		}
		hits = append(hits, scoredCandidate{Candidate: e.Candidate, base: sim})
		employees[e.EmployeeID] = true
	}
	if len(hits) == 0 {
		return domain.MatchResult{}, false
	}
	if len(hits) == 1 {
		c := hits[0]
		return domain.MatchResult{
			EmployeeID: c.EmployeeID,
			RequestID:  c.RequestID,
			Method:     domain.MatchByNameFuzzy,
			Confidence: c.base,
			Reason:     fmt.Sprintf("account holder name matched %s %s with %.2f similarity", c.GivenName, c.FamilyName, c.base),
		}, true
	}
	return m.disambiguate(hits, fields, len(employees) == 1), true
}

// matchInitial handles initial-plus-surname renderings ("Mr B Smith"): the
// surname must match a candidate exactly and the initial must agree with the
// candidate's given or preferred name. Identity alone is never enough here,
// so every hit goes through disambiguation and needs trade corroboration to
// win.
func (m Matcher) matchInitial(pool *PoolSnapshot, key string, fields domain.TradeFields) (domain.MatchResult, bool) {
	initial := leadingInitial(key)
	if initial == 0 {
		return domain.MatchResult{}, false
	}
	_, family := splitNameKey(key)

	var hits []scoredCandidate
	for _, e := range pool.entries {
		if e.familyKey() != family {
			continue
		}
		if !e.initialMatches(initial) {
			continue
		}
		hits = append(hits, scoredCandidate{Candidate: e.Candidate, base: 0.85})
	}
	if len(hits) == 0 {
		return domain.MatchResult{}, false
	}
	return m.disambiguate(hits, fields, false), true
}

// disambiguate breaks a tie with trade details: ticker agreement weighs 3
// (1.5 for a substring hit), direction 2, quantity inside the tolerance band
// 1. The winner must be strictly ahead; an exact tie or an all-zero board is
// an ambiguity for a human, not a coin flip. sameEmployee marks a tie among
// one employee's own requests, where identity was already certain.
func (m Matcher) disambiguate(candidates []scoredCandidate, fields domain.TradeFields, sameEmployee bool) domain.MatchResult {
	best, runnerUp := -1.0, -1.0
	winner := scoredCandidate{}
	for _, c := range candidates {
		score := m.tradeScore(c.Candidate, fields)
		switch {
		case score > best:
			runnerUp = best
			best = score
			winner = c
		case score > runnerUp:
			runnerUp = score
		}
	}
	if runnerUp < 0 {
		runnerUp = 0
	}

	if best > 0 && best > runnerUp {
		return domain.MatchResult{
			EmployeeID: winner.EmployeeID,
			RequestID:  winner.RequestID,
			Method:     domain.MatchDisambiguated,
			Confidence: winner.base,
			Reason:     fmt.Sprintf("trade details disambiguated %d candidate requests", len(candidates)),
		}
	}

	tied := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if m.tradeScore(c.Candidate, fields) == best {
			tied = append(tied, c.Candidate)
		}
	}
	reason := fmt.Sprintf("%d candidate requests tied on trade details", len(tied))
	if best <= 0 {
		reason = fmt.Sprintf("trade details corroborated none of %d candidate requests", len(candidates))
	}
	if sameEmployee {
		return domain.MatchResult{
			EmployeeID:     candidates[0].EmployeeID,
			Method:         domain.MatchNone,
			Reason:         reason,
			TiedCandidates: tied,
		}
	}
	return domain.MatchResult{
		Method:         domain.MatchNone,
		Reason:         reason,
		TiedCandidates: tied,
	}
}

func (m Matcher) tradeScore(c domain.Candidate, fields domain.TradeFields) float64 {
	score := 0.0
	bestTicker := 0.0
	for _, id := range fields.SecurityIDs {
		if s := tickerScore(id, c.Ticker); s > bestTicker {
			bestTicker = s
		}
	}
	score += bestTicker
	if fields.Direction != "" && strings.EqualFold(fields.Direction, string(c.Direction)) {
		score += 2
	}
	if fields.Quantity > 0 && c.Quantity > 0 && withinPct(fields.Quantity, c.Quantity, m.cfg.QuantityPct) {
		score += 1
	}
	return score
}

func tickerScore(extracted, ticker string) float64 {
	a := strings.ToUpper(strings.TrimSpace(extracted))
	b := strings.ToUpper(strings.TrimSpace(ticker))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 3
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1.5
	}
	return 0
}

// nameSimilarity is 1 - levenshtein/len over runes, 0 for an empty side.
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func withinPct(got, want, pct float64) bool {
	if want == 0 {
		return got == 0
	}
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff/want <= pct
}
