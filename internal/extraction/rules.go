package extraction

import (
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Rule is one entry of an ordered extraction table. The first rule whose
// pattern matches and whose normalized value passes Valid wins.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// Normalize turns the submatches into the canonical string form of the
	// value (ISO date, dot-decimal number).
	Normalize func(groups []string) (string, bool)
	Valid     func(normalized string) bool
}

// Match is the outcome of applying a rule table to a text.
type Match struct {
	Rule  string
	Text  string
	Value string
}

// Apply runs the table in order against text.
func Apply(rules []Rule, text string) (Match, bool) {
	for _, r := range rules {
		for _, groups := range r.Pattern.FindAllStringSubmatch(text, -1) {
			value, ok := r.Normalize(groups)
			if !ok {
				continue
			}
			if r.Valid != nil && !r.Valid(value) {
				continue
			}
			return Match{Rule: r.Name, Text: groups[0], Value: value}, true
		}
	}
	return Match{}, false
}

// Rules is the full declared rule set used by the Extractor.
type Rules struct {
	Date      []Rule
	Amount    []Rule
	VATAmount []Rule
	VATRate   []Rule
}

// number matches 1.234,56 or 1,234.56 or 1234,56 or 12,50; always two
// decimals. The unseparated form keeps every leading digit.
const number = `(\d{1,3}(?:[.,]\d{3})+[.,]\d{2}|\d+[.,]\d{2})`

// NewRules builds the default table. Patterns are ordered most specific first.
func NewRules(cfg Config) Rules {
	aboveFloor := func(v string) bool {
		d, err := decimal.NewFromString(v)
		return err == nil && d.GreaterThan(cfg.AmountFloor)
	}
	positive := func(v string) bool {
		d, err := decimal.NewFromString(v)
		return err == nil && d.IsPositive()
	}
	inWindow := func(v string) bool {
		d, err := decimal.NewFromString(v)
		return err == nil && cfg.InVATWindow(d)
	}

	amountRule := func(name, prefix string) Rule {
		return Rule{
			Name:      name,
			Pattern:   regexp.MustCompile(`(?i)` + prefix + number),
			Normalize: firstNumber,
			Valid:     aboveFloor,
		}
	}
	vatRule := func(name, prefix string) Rule {
		return Rule{
			Name:      name,
			Pattern:   regexp.MustCompile(`(?i)` + prefix + number),
			Normalize: firstNumber,
			Valid:     positive,
		}
	}

	return Rules{
		Date: []Rule{
			{
				Name:      "day-first",
				Pattern:   regexp.MustCompile(`(\d{1,2})[./-](\d{1,2})[./-](\d{4})`),
				Normalize: dateGroups,
				Valid:     validDate,
			},
			{
				Name:      "year-first",
				Pattern:   regexp.MustCompile(`(\d{4})[./-](\d{1,2})[./-](\d{1,2})`),
				Normalize: dateGroups,
				Valid:     validDate,
			},
		},
		Amount: []Rule{
			amountRule("grand-total", `GENEL\s*TOPLAM[:\s]*`),
			amountRule("amount-due", `(?:[ÖO]DENECEK|AMOUNT\s+DUE)[:\s]*`),
			amountRule("total", `((?:ARA|KDV)\s*)?\bTOPLAM[:\s]+`),
			amountRule("total-loose", `((?:ARA|KDV)\s*)?\bTOPLAM.*?`),
			amountRule("total-en", `((?:SUB|VAT)\s*)?TOTAL[:\s]+`),
			{
				Name:      "currency-suffix",
				Pattern:   regexp.MustCompile(`(?i)` + number + `\s*TL\b`),
				Normalize: firstNumber,
				Valid:     aboveFloor,
			},
		},
		VATAmount: []Rule{
			vatRule("topkdv", `TOPKDV[:\s]+`),
			vatRule("topkdv-loose", `TOPKDV.*?`),
			vatRule("top-kdv", `TOP[.\s]*KDV[:\s]+`),
			vatRule("kdv-total", `KDV\s*TOPLAM[:\s]*`),
			vatRule("kdv", `\bKDV[:\s]+`),
			vatRule("vat", `\bVAT(?:\s*TOTAL)?[:\s]*`),
		},
		VATRate: []Rule{
			{
				Name:    "percent",
				Pattern: regexp.MustCompile(`%\s*(\d{1,2})`),
				Normalize: func(groups []string) (string, bool) {
					return groups[1], true
				},
				Valid: inWindow,
			},
		},
	}
}

// firstNumber normalizes the trailing number group. A non-empty group before
// it marks a subtotal or tax line, which never counts as the total.
func firstNumber(groups []string) (string, bool) {
	for _, g := range groups[1 : len(groups)-1] {
		if g != "" {
			return "", false
		}
	}
	return NormalizeNumber(groups[len(groups)-1])
}

// NormalizeNumber converts a receipt number with either separator convention
// into dot-decimal form: the last separator is the decimal point, any other
// separator is a thousands separator.
func NormalizeNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexAny(s, ".,")
	if i < 0 {
		if s == "" {
			return "", false
		}
		return s, true
	}
	whole := strings.NewReplacer(".", "", ",", "").Replace(s[:i])
	frac := s[i+1:]
	if whole == "" {
		whole = "0"
	}
	out := whole + "." + frac
	if _, err := decimal.NewFromString(out); err != nil {
		return "", false
	}
	return out, true
}

// dateGroups reorders a three part date to ISO. A four digit first group
// means the text was already year-first.
func dateGroups(groups []string) (string, bool) {
	a, b, c := groups[1], groups[2], groups[3]
	if len(a) == 4 {
		return fmt.Sprintf("%s-%s-%s", a, pad(b), pad(c)), true
	}
	return fmt.Sprintf("%s-%s-%s", c, pad(b), pad(a)), true
}

func pad(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func validDate(v string) bool {
	d, err := civil.ParseDate(v)
	return err == nil && d.IsValid()
}
