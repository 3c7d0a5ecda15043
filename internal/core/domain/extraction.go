package domain

import "encoding/json"

type DocumentType string

const (
	DocTypeContractNote      DocumentType = "contract_note"
	DocTypeActivityStatement DocumentType = "activity_statement"
	DocTypeOther             DocumentType = "other"
)

type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

func LevelForScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// DocumentClass is the first-pass verdict on a document: what kind it is and,
// for activity statements, which part of the text holds the genuine trades
// section (decoy sections such as open positions or unrealized P&L summaries
// are excluded there).
type DocumentClass struct {
	Type             DocumentType `json:"document_type"`
	HasTradesSection bool         `json:"has_trades_section"`
	TradesSection    string       `json:"trades_section,omitempty"`
	Confidence       float64      `json:"confidence"`
}

// TradeExtraction is the second-pass result: the structured trade fields plus
// the model's self-assessed confidence and how many schema-retry attempts the
// call consumed.
type TradeExtraction struct {
	Fields     TradeFields `json:"fields"`
	Confidence float64     `json:"confidence"`
	Attempts   int         `json:"attempts"`
}

type TradeFields struct {
	AccountHolder  string   `json:"account_holder"`
	SecurityIDs    []string `json:"security_ids"`
	Direction      string   `json:"direction"`
	Quantity       float64  `json:"quantity"`
	Price          float64  `json:"price"`
	Proceeds       float64  `json:"proceeds"`
	Currency       string   `json:"currency"`
	TradeDate      string   `json:"trade_date"`
	SettlementDate string   `json:"settlement_date"`
}

type ExtractionResult struct {
	DocumentType     DocumentType `json:"document_type"`
	HasTradesSection bool         `json:"has_trades_section"`
	Fields           TradeFields  `json:"fields"`
	Confidence       float64      `json:"confidence"`
	Failed           bool         `json:"failed,omitempty"`
	FailureReason    string       `json:"failure_reason,omitempty"`
	Partial          bool         `json:"partial,omitempty"`
	NeedsReview      bool         `json:"needs_review"`
	ReviewReasons    []string     `json:"review_reasons,omitempty"`
}

func (r ExtractionResult) Level() ConfidenceLevel {
	return LevelForScore(r.Confidence)
}

// Confirmable reports whether the document kind can confirm a trade at all: a
// contract note always can, an activity statement only when it carries a real
// trades section.
func (r ExtractionResult) Confirmable() bool {
	switch r.DocumentType {
	case DocTypeContractNote:
		return true
	case DocTypeActivityStatement:
		return r.HasTradesSection
	default:
		return false
	}
}

func (r *ExtractionResult) Flag(reason string) {
	r.NeedsReview = true
	r.ReviewReasons = append(r.ReviewReasons, reason)
}

// MarshalJSON injects the derived confidence level so serialized results carry
// it without ever storing it separately from the score.
func (r ExtractionResult) MarshalJSON() ([]byte, error) {
	type plain ExtractionResult
	return json.Marshal(struct {
		plain
		ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	}{plain(r), r.Level()})
}
