package domain

type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

const RequestAwaitingConfirmation = "awaiting_confirmation"

type TradeRequest struct {
	ID             string         `json:"id"`
	EmployeeID     string         `json:"employee_id"`
	Ticker         string         `json:"ticker"`
	Direction      TradeDirection `json:"direction"`
	Quantity       float64        `json:"quantity"`
	EstimatedValue float64        `json:"estimated_value"`
	Status         string         `json:"status"`
}

// Candidate is one employee/request pair in the matching universe. The pool is
// recomputed fresh for every document; candidates are never cached across
// documents.
type Candidate struct {
	EmployeeID    string         `json:"employee_id"`
	RequestID     string         `json:"request_id"`
	GivenName     string         `json:"given_name"`
	FamilyName    string         `json:"family_name"`
	PreferredName string         `json:"preferred_name,omitempty"`
	Ticker        string         `json:"ticker"`
	Direction     TradeDirection `json:"direction"`
	Quantity      float64        `json:"quantity"`
}
