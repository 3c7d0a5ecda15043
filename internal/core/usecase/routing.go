package usecase

import (
	"fmt"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

// Route is the confidence-gated decision table, first match wins. It looks at
// the extraction alone; match and validation outcomes weigh in at Finalize.
func Route(res domain.ExtractionResult) domain.RoutingDecision {
	switch {
	case res.Failed:
		return domain.RoutingDecision{
			Action: domain.ActionManualReview,
			Reason: "extraction failed: " + res.FailureReason,
		}
	case !res.Confirmable():
		return domain.RoutingDecision{
			Action: domain.ActionManualReview,
			Reason: confirmabilityReason(res),
		}
	case res.Partial:
		return domain.RoutingDecision{
			Action: domain.ActionManualReview,
			Reason: "extraction is missing critical fields",
		}
	}

	switch res.Level() {
	case domain.ConfidenceHigh:
		return domain.RoutingDecision{
			Action:            domain.ActionAutoApprove,
			Reason:            fmt.Sprintf("high extraction confidence %.2f", res.Confidence),
			ValidationAllowed: true,
		}
	case domain.ConfidenceMedium:
		return domain.RoutingDecision{
			Action:            domain.ActionAutoApproveWithAudit,
			Reason:            fmt.Sprintf("medium extraction confidence %.2f", res.Confidence),
			ValidationAllowed: true,
		}
	default:
		return domain.RoutingDecision{
			Action: domain.ActionManualReview,
			Reason: fmt.Sprintf("low extraction confidence %.2f", res.Confidence),
		}
	}
}

func confirmabilityReason(res domain.ExtractionResult) string {
	if res.DocumentType == domain.DocTypeActivityStatement {
		return "activity statement carries no trades section"
	}
	return fmt.Sprintf("document type %q cannot confirm a trade", res.DocumentType)
}

// Finalize maps the pipeline verdicts onto the terminal status. An unresolved
// match or a manual route ends in review regardless of extraction quality; a
// failed validation downgrades any approval tier.
func Finalize(match domain.MatchResult, route domain.RoutingDecision, validation domain.ValidationResult) domain.FinalStatus {
	if route.Action == domain.ActionManualReview || !match.Resolved() {
		return domain.FinalManualReviewRequired
	}
	if !validation.Ran {
		return domain.FinalManualReviewRequired
	}
	if !validation.Verified {
		return domain.FinalValidationFailed
	}
	if route.Action == domain.ActionAutoApproveWithAudit {
		return domain.FinalVerifiedWithAudit
	}
	return domain.FinalVerified
}
