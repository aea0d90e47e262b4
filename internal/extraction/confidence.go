package extraction

import (
	"math"
	"strings"

	"github.com/zombor/expense-tracker/internal/expense"
)

// Default confidence tiers used when the recognizer exposes no token scores.
const (
	DateConfidence        = 85
	AmountConfidence      = 85
	VATAmountConfidence   = 80
	VATRateConfidence     = 90
	ComputedVATConfidence = 70
	VendorConfidence      = 75
)

// TokenConfidence maps a recognized token to its recognition score (0-100).
type TokenConfidence map[string]int

// ConfidenceScorer assigns a 0-100 score to each extracted field.
type ConfidenceScorer struct{}

// Score fills ex.Candidate.Confidence. Fields without a value score 0.
func (ConfidenceScorer) Score(ex *Extraction, tokens TokenConfidence) {
	c := &ex.Candidate
	conf := expense.Confidence{}

	score := func(f expense.Field, set bool, tier int) {
		if !set {
			conf[f] = 0
			return
		}
		if m, ok := ex.Matches[f]; ok {
			if avg, ok := tokens.average(m.Text); ok {
				conf[f] = avg
				return
			}
		}
		conf[f] = tier
	}

	score(expense.FieldDate, c.Date.IsSet(), DateConfidence)
	score(expense.FieldAmount, c.Amount.IsSet(), AmountConfidence)
	score(expense.FieldVATAmount, c.VATAmount.IsSet(), VATAmountConfidence)
	score(expense.FieldVendor, c.VendorName.IsSet(), VendorConfidence)

	rate, hasRate := c.VATRate.Get()
	hasRate = hasRate && !rate.IsManualReview()
	switch ex.RateSource {
	case RateComputed:
		// A derived rate has no source text to look up.
		if hasRate {
			conf[expense.FieldVATRate] = ComputedVATConfidence
		} else {
			conf[expense.FieldVATRate] = 0
		}
	default:
		score(expense.FieldVATRate, hasRate, VATRateConfidence)
	}

	c.Confidence = conf
}

// average returns the rounded mean score of the tokens of text found in the
// map; ok is false when none are.
func (t TokenConfidence) average(text string) (int, bool) {
	if len(t) == 0 {
		return 0, false
	}
	var sum, n int
	for _, tok := range strings.Fields(text) {
		v, ok := t[tok]
		if !ok {
			v, ok = t[strings.Trim(tok, ":*")]
		}
		if ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(float64(sum) / float64(n))), true
}
