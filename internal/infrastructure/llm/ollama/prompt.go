package ollama

import "fmt"

const maxSnippet = 8000

func buildClassifyPrompt(text string) string {
	return `You are a trade-document classifier for a broker compliance desk.
Return a strict JSON object with keys:
document_type (one of "contract_note", "activity_statement", "other"),
has_trades_section (boolean, true only when an activity statement carries a section of executed trades),
trades_section (string, the verbatim text of that section, empty when absent),
confidence (number from 0 to 1).
Open positions, unrealized P&L summaries and FX conversion legs are not executed trades.
No markdown, no extra keys.

Document:
` + snippet(text)
}

func buildExtractPrompt(text string) string {
	return `You are a trade-confirmation field extractor.
Return a strict JSON object with keys:
account_holder (string, the client name exactly as printed),
security_ids (array of strings: every ticker, ISIN, SEDOL or CUSIP naming the traded security),
direction (string, "buy" or "sell" as stated),
quantity (number of units),
price (number, price per unit),
proceeds (number, total consideration),
currency (string, ISO code),
trade_date (string, YYYY-MM-DD or empty),
settlement_date (string, YYYY-MM-DD or empty),
confidence (number from 0 to 1).
Use 0 for unknown numbers and "" for unknown strings. No markdown, no extra keys.

Text:
` + snippet(text)
}

// buildRepairPrompt feeds a schema rejection back to the model verbatim so
// the next attempt can correct the exact mistake.
func buildRepairPrompt(original, lastReply string, rejection error) string {
	return fmt.Sprintf(`Your previous reply was rejected: %v

Previous reply:
%s

Correct the reply. %s`, rejection, snippet(lastReply), original)
}

func snippet(text string) string {
	if len(text) > maxSnippet {
		return text[:maxSnippet]
	}
	return text
}
