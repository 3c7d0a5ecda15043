package domain

type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityWarning  IssueSeverity = "warning"
)

type ValidationIssue struct {
	Field     string        `json:"field"`
	Severity  IssueSeverity `json:"severity"`
	Rule      string        `json:"rule"`
	Expected  string        `json:"expected"`
	Extracted string        `json:"extracted"`
}

type ValidationResult struct {
	Ran      bool              `json:"ran"`
	Verified bool              `json:"verified"`
	Issues   []ValidationIssue `json:"issues,omitempty"`
}
