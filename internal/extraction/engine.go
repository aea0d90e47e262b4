package extraction

import "github.com/zombor/expense-tracker/internal/expense"

// Engine runs extraction, VAT inference and scoring in order.
type Engine struct {
	extractor *Extractor
	vat       *VATCalculator
	scorer    ConfidenceScorer
}

// NewEngine wires the default rule table for cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		extractor: NewExtractor(NewRules(cfg)),
		vat:       NewVATCalculator(cfg),
	}
}

// VAT exposes the calculator for manual recomputation.
func (e *Engine) VAT() *VATCalculator {
	return e.vat
}

// Analyze turns recognized text into a scored heuristic candidate. tokens may
// be nil when the recognizer has no per-token scores.
func (e *Engine) Analyze(text string, tokens TokenConfidence) Extraction {
	ex := e.extractor.Extract(text)
	if !ex.Candidate.VATRate.IsSet() {
		ex.Candidate.VATRate = expense.Some(e.vat.Infer(ex.Candidate.Amount, ex.Candidate.VATAmount))
		ex.RateSource = RateComputed
	}
	e.scorer.Score(&ex, tokens)
	return ex
}

// AnalyzeQR reads an e-invoice QR payload and infers its VAT rate.
func (e *Engine) AnalyzeQR(payload string) expense.Candidate {
	c := ParseQR(payload, e.extractor.rules.Date)
	if c.Amount.IsSet() && c.VATAmount.IsSet() {
		rate := e.vat.Infer(c.Amount, c.VATAmount)
		c.VATRate = expense.Some(rate)
		if !rate.IsManualReview() {
			c.Confidence[expense.FieldVATRate] = ComputedVATConfidence
		}
	}
	return c
}
