package usecase

import (
	"fmt"
	"strings"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

// Identifier lengths of the standard security numbering schemes.
const (
	sedolLen = 7
	cusipLen = 9
	isinLen  = 12
)

// flagQuality runs the post-extraction sanity validators over a result. They
// only ever flag: nothing here blocks the pipeline or mutates an extracted
// value. Missing critical fields additionally mark the result partial.
func flagQuality(res *domain.ExtractionResult, proceedsPct float64) {
	var missing []string
	if strings.TrimSpace(res.Fields.AccountHolder) == "" {
		missing = append(missing, "account_holder")
	}
	if strings.TrimSpace(res.Fields.Direction) == "" {
		missing = append(missing, "direction")
	}
	if res.Fields.Quantity <= 0 {
		missing = append(missing, "quantity")
	}
	if !hasSecurityID(res.Fields.SecurityIDs) {
		missing = append(missing, "security_ids")
	}
	if len(missing) > 0 {
		res.Partial = true
		res.Flag("missing critical fields: " + strings.Join(missing, ", "))
	}

	if d := strings.TrimSpace(res.Fields.Direction); d != "" {
		if !strings.EqualFold(d, string(domain.DirectionBuy)) && !strings.EqualFold(d, string(domain.DirectionSell)) {
			res.Flag(fmt.Sprintf("direction %q is neither buy nor sell", d))
		}
	}

	var odd []string
	for _, id := range res.Fields.SecurityIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		switch len(id) {
		case sedolLen, cusipLen, isinLen:
		default:
			odd = append(odd, id)
		}
	}
	if len(odd) > 0 {
		res.Flag("identifiers with non-standard length: " + strings.Join(odd, ", "))
	}

	f := res.Fields
	if f.Quantity > 0 && f.Price > 0 && f.Proceeds > 0 {
		implied := f.Quantity * f.Price
		if !withinPct(f.Proceeds, implied, proceedsPct) {
			res.Flag(fmt.Sprintf("proceeds %.2f inconsistent with quantity*price %.2f", f.Proceeds, implied))
		}
	}
}

func hasSecurityID(ids []string) bool {
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			return true
		}
	}
	return false
}
