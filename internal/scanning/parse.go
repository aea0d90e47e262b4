package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/expense"
)

func nullable(t string, extra map[string]any) map[string]any {
	s := map[string]any{"type": []any{t, "null"}}
	for k, v := range extra {
		s[k] = v
	}
	return s
}

// responseSchema is the shape every provider must answer with.
var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"date":         nullable("string", map[string]any{"pattern": `^\d{4}-\d{2}-\d{2}$`}),
		"company_name": nullable("string", nil),
		"amount":       nullable("number", map[string]any{"minimum": 0}),
		"vat_rate":     nullable("number", map[string]any{"exclusiveMinimum": 0, "exclusiveMaximum": 100}),
		"vat_amount":   nullable("number", map[string]any{"minimum": 0}),
		"category":     nullable("string", nil),
		"notes":        nullable("string", nil),
		"confidence": nullable("object", map[string]any{
			"additionalProperties": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
		}),
	},
}

var schema = mustCompile(responseSchema)

func mustCompile(m map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("receipt.json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	return compiler.MustCompile("receipt.json")
}

// confidenceKeys maps response keys to receipt fields.
var confidenceKeys = map[string]expense.Field{
	"date":         expense.FieldDate,
	"company_name": expense.FieldVendor,
	"amount":       expense.FieldAmount,
	"vat_rate":     expense.FieldVATRate,
	"vat_amount":   expense.FieldVATAmount,
	"category":     expense.FieldCategory,
}

// parseCandidate pulls the JSON object out of a model response, drops the
// keys that fail the schema and converts the rest.
func parseCandidate(text string) (*expense.Candidate, error) {
	obj, err := findObject(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	values, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("response is not a JSON object")
	}

	for range len(values) + 1 {
		err := schema.Validate(values)
		if err == nil {
			return toCandidate(values), nil
		}
		keys, ok := invalidKeys(err)
		if !ok {
			return nil, fmt.Errorf("json does not match schema: %w", err)
		}
		for _, k := range keys {
			delete(values, k)
		}
	}
	return nil, errors.New("json does not match schema")
}

// findObject trims commentary and code fences around the outermost object.
func findObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	if start == -1 {
		return "", errors.New("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", errors.New("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// invalidKeys lists the top-level keys behind every leaf validation failure.
// ok is false when the object itself is at fault.
func invalidKeys(err error) ([]string, bool) {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, false
	}
	seen := map[string]bool{}
	var keys []string
	var walk func(e *jsonschema.ValidationError) bool
	walk = func(e *jsonschema.ValidationError) bool {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				if !walk(c) {
					return false
				}
			}
			return true
		}
		loc := strings.TrimPrefix(e.InstanceLocation, "/")
		if loc == "" {
			return false
		}
		k, _, _ := strings.Cut(loc, "/")
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
		return true
	}
	if !walk(ve) {
		return nil, false
	}
	return keys, len(keys) > 0
}

func toCandidate(values map[string]any) *expense.Candidate {
	c := &expense.Candidate{}

	if s, ok := values["date"].(string); ok {
		if d, err := civil.ParseDate(s); err == nil {
			c.Date = expense.Some(d)
		}
	}
	if s, ok := values["company_name"].(string); ok && strings.TrimSpace(s) != "" {
		c.VendorName = expense.Some(strings.TrimSpace(s))
	}
	if d, ok := number(values["amount"]); ok {
		c.Amount = expense.Some(d)
	}
	if d, ok := number(values["vat_amount"]); ok {
		c.VATAmount = expense.Some(d)
	}
	if d, ok := number(values["vat_rate"]); ok {
		c.VATRate = expense.Some(expense.Rate(d))
	}
	if s, ok := values["category"].(string); ok {
		// Only the closed vocabulary is trusted from a model.
		if cat := expense.ParseCategory(s); !cat.IsZero() && !cat.IsCustom() {
			c.Category = expense.Some(cat)
		}
	}
	if s, ok := values["notes"].(string); ok && strings.TrimSpace(s) != "" {
		c.AddNote(strings.TrimSpace(s))
	}

	if conf, ok := values["confidence"].(map[string]any); ok {
		for key, field := range confidenceKeys {
			v, ok := conf[key].(json.Number)
			if !ok || !hasField(c, field) {
				continue
			}
			f, err := v.Float64()
			if err != nil {
				continue
			}
			if c.Confidence == nil {
				c.Confidence = expense.Confidence{}
			}
			c.Confidence[field] = int(math.Round(f))
		}
	}
	return c
}

func hasField(c *expense.Candidate, f expense.Field) bool {
	switch f {
	case expense.FieldDate:
		return c.Date.IsSet()
	case expense.FieldVendor:
		return c.VendorName.IsSet()
	case expense.FieldAmount:
		return c.Amount.IsSet()
	case expense.FieldVATAmount:
		return c.VATAmount.IsSet()
	case expense.FieldVATRate:
		return c.VATRate.IsSet()
	case expense.FieldCategory:
		return c.Category.IsSet()
	}
	return false
}

func number(v any) (decimal.Decimal, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n.String())
	return d, err == nil
}
