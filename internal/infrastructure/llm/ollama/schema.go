package ollama

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

// Model output is contract-checked against these schemas before anything
// downstream sees it. Direction values and identifier shapes are deliberately
// unconstrained here: those are quality signals, not schema violations.
var (
	classificationSchema = buildClassificationSchema()
	tradeFieldsSchema    = buildTradeFieldsSchema()
)

const isoDatePattern = `^(\d{4}-\d{2}-\d{2})?$`

func buildClassificationSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("document_type", openapi3.NewStringSchema().
			WithEnum("contract_note", "activity_statement", "other")).
		WithProperty("has_trades_section", openapi3.NewBoolSchema()).
		WithProperty("trades_section", openapi3.NewStringSchema()).
		WithProperty("confidence", openapi3.NewFloat64Schema().WithMin(0).WithMax(1))
	s.Required = []string{"document_type", "has_trades_section", "confidence"}
	return s
}

func buildTradeFieldsSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("account_holder", openapi3.NewStringSchema()).
		WithProperty("security_ids", openapi3.NewArraySchema().
			WithItems(openapi3.NewStringSchema())).
		WithProperty("direction", openapi3.NewStringSchema()).
		WithProperty("quantity", openapi3.NewFloat64Schema()).
		WithProperty("price", openapi3.NewFloat64Schema()).
		WithProperty("proceeds", openapi3.NewFloat64Schema()).
		WithProperty("currency", openapi3.NewStringSchema()).
		WithProperty("trade_date", openapi3.NewStringSchema().WithPattern(isoDatePattern)).
		WithProperty("settlement_date", openapi3.NewStringSchema().WithPattern(isoDatePattern)).
		WithProperty("confidence", openapi3.NewFloat64Schema().WithMin(0).WithMax(1))
	s.Required = []string{"account_holder", "security_ids", "direction", "quantity", "confidence"}
	return s
}

func parseClassification(raw string) (domain.DocumentClass, error) {
	data := []byte(extractJSONObject(raw))
	if err := checkSchema(classificationSchema, data); err != nil {
		return domain.DocumentClass{}, err
	}
	var out domain.DocumentClass
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.DocumentClass{}, fmt.Errorf("decode classification: %w", err)
	}
	return out, nil
}

func parseTradeFields(raw string) (domain.TradeFields, float64, error) {
	data := []byte(extractJSONObject(raw))
	if err := checkSchema(tradeFieldsSchema, data); err != nil {
		return domain.TradeFields{}, 0, err
	}
	var out struct {
		domain.TradeFields
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.TradeFields{}, 0, fmt.Errorf("decode trade fields: %w", err)
	}
	return out.TradeFields, out.Confidence, nil
}

func checkSchema(schema *openapi3.Schema, data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("reply is not valid JSON: %w", err)
	}
	if err := schema.VisitJSON(value); err != nil {
		return fmt.Errorf("reply violates the schema: %w", err)
	}
	return nil
}

// extractJSONObject trims anything the model wrapped around the object, such
// as a markdown fence. Format mode should prevent it; models drift anyway.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
