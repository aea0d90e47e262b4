package extraction

import (
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/expense"
)

// Config holds the tunable windows of the heuristic engine.
type Config struct {
	// AmountFloor rejects totals at or below it (a lone digit misread as a total).
	AmountFloor decimal.Decimal
	// VATMin and VATMax bound the accepted VAT rate, both exclusive.
	VATMin decimal.Decimal
	VATMax decimal.Decimal
}

// DefaultConfig matches the receipt formats seen so far.
func DefaultConfig() Config {
	return Config{
		AmountFloor: decimal.NewFromInt(5),
		VATMin:      decimal.Zero,
		VATMax:      decimal.NewFromInt(25),
	}
}

// InVATWindow reports whether rate lies strictly inside the window.
func (c Config) InVATWindow(rate decimal.Decimal) bool {
	return rate.GreaterThan(c.VATMin) && rate.LessThan(c.VATMax)
}

// vendorLines is how many leading non-blank lines may hold the merchant name.
const vendorLines = 3

// RateSource records where a VAT rate came from.
type RateSource int

const (
	RateMissing RateSource = iota
	RateMatched
	RateComputed
)

// Extraction is the heuristic candidate plus the text each field came from.
type Extraction struct {
	Candidate  expense.Candidate
	Matches    map[expense.Field]Match
	RateSource RateSource
}

// Extractor pulls candidate field values out of recognized text.
type Extractor struct {
	rules Rules
}

// NewExtractor builds an extractor over the given rule table.
func NewExtractor(rules Rules) *Extractor {
	return &Extractor{rules: rules}
}

// Extract parses text. Every field is optional; an empty result is valid.
func (e *Extractor) Extract(text string) Extraction {
	out := Extraction{Matches: map[expense.Field]Match{}}

	if m, ok := Apply(e.rules.Date, text); ok {
		if d, err := civil.ParseDate(m.Value); err == nil {
			out.Candidate.Date = expense.Some(d)
			out.Matches[expense.FieldDate] = m
		}
	}
	if m, ok := Apply(e.rules.Amount, text); ok {
		out.Candidate.Amount = expense.Some(decimal.RequireFromString(m.Value))
		out.Matches[expense.FieldAmount] = m
	}
	if m, ok := Apply(e.rules.VATAmount, text); ok {
		out.Candidate.VATAmount = expense.Some(decimal.RequireFromString(m.Value))
		out.Matches[expense.FieldVATAmount] = m
	}
	if m, ok := Apply(e.rules.VATRate, text); ok {
		out.Candidate.VATRate = expense.Some(expense.Rate(decimal.RequireFromString(m.Value)))
		out.Matches[expense.FieldVATRate] = m
		out.RateSource = RateMatched
	}
	if vendor, ok := guessVendor(text); ok {
		out.Candidate.VendorName = expense.Some(vendor)
		out.Matches[expense.FieldVendor] = Match{Rule: "longest-leading-line", Text: vendor, Value: vendor}
	}
	return out
}

// guessVendor picks the longest of the first few non-blank lines; merchants
// print their name first and largest.
func guessVendor(text string) (string, bool) {
	var best string
	bestLen, seen := 0, 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if n := utf8.RuneCountInString(line); n > bestLen {
			best, bestLen = line, n
		}
		seen++
		if seen == vendorLines {
			break
		}
	}
	return best, best != ""
}
