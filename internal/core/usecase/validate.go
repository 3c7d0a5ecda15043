package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

// Validator compares extracted trade fields against the matched request.
// Tolerances are plain values fixed at construction; there is no shared
// mutable state.
type Validator struct {
	pricePct float64
}

func NewValidator(pricePct float64) Validator {
	return Validator{pricePct: pricePct}
}

// Validate runs the four field rules and reports every discrepancy as a
// structured issue. Verified means zero issues of any severity.
func (v Validator) Validate(fields domain.TradeFields, req domain.TradeRequest) domain.ValidationResult {
	var issues []domain.ValidationIssue

	if !strings.EqualFold(strings.TrimSpace(fields.Direction), string(req.Direction)) {
		issues = append(issues, domain.ValidationIssue{
			Field:     "direction",
			Severity:  domain.SeverityCritical,
			Rule:      "exact",
			Expected:  string(req.Direction),
			Extracted: fields.Direction,
		})
	}

	// Quantity is exact with zero tolerance: a partial fill is a discrepancy
	// the desk has to see, not noise to absorb.
	if fields.Quantity != req.Quantity {
		issues = append(issues, domain.ValidationIssue{
			Field:     "quantity",
			Severity:  domain.SeverityCritical,
			Rule:      "exact",
			Expected:  formatAmount(req.Quantity),
			Extracted: formatAmount(fields.Quantity),
		})
	}

	if !securityMatches(fields.SecurityIDs, req.Ticker) {
		issues = append(issues, domain.ValidationIssue{
			Field:     "security",
			Severity:  domain.SeverityCritical,
			Rule:      "substring",
			Expected:  req.Ticker,
			Extracted: strings.Join(fields.SecurityIDs, ", "),
		})
	}

	// The request only carries an estimated total, so the price check is a
	// band around the implied unit price. Skipped when no implied price can
	// be computed or no price was extracted.
	if req.Quantity > 0 && req.EstimatedValue > 0 && fields.Price > 0 {
		implied := req.EstimatedValue / req.Quantity
		if !withinPct(fields.Price, implied, v.pricePct) {
			issues = append(issues, domain.ValidationIssue{
				Field:     "price",
				Severity:  domain.SeverityWarning,
				Rule:      fmt.Sprintf("within %.0f%% of implied price", v.pricePct*100),
				Expected:  formatAmount(implied),
				Extracted: formatAmount(fields.Price),
			})
		}
	}

	return domain.ValidationResult{Ran: true, Verified: len(issues) == 0, Issues: issues}
}

// securityMatches accepts when any extracted identifier agrees with the
// request's ticker, exactly or by containment in either direction.
func securityMatches(ids []string, ticker string) bool {
	for _, id := range ids {
		if tickerScore(id, ticker) > 0 {
			return true
		}
	}
	return false
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
