package expense

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Field names a receipt field that carries a confidence score.
type Field string

const (
	FieldDate      Field = "date"
	FieldAmount    Field = "amount"
	FieldVATAmount Field = "vat_amount"
	FieldVATRate   Field = "vat_rate"
	FieldVendor    Field = "vendor_name"
	FieldCategory  Field = "category"
)

// Fields lists every scored field.
func Fields() []Field {
	return []Field{FieldDate, FieldAmount, FieldVATAmount, FieldVATRate, FieldVendor, FieldCategory}
}

// Confidence maps a field to a score in [0,100]. A missing entry means the
// source did not supply one.
type Confidence map[Field]int

// Of returns the score for f, 0 when absent.
func (c Confidence) Of(f Field) int {
	return c[f]
}

// Lookup returns the score for f and whether the source supplied one.
func (c Confidence) Lookup(f Field) (int, bool) {
	v, ok := c[f]
	return v, ok
}

// Band is a coarse confidence level used to highlight fields for review.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// BandOf classifies a confidence score.
func BandOf(score int) Band {
	switch {
	case score >= 85:
		return BandHigh
	case score >= 70:
		return BandMedium
	default:
		return BandLow
	}
}

// Candidate is one source's best guess at a receipt's fields.
type Candidate struct {
	Date       Optional[civil.Date]      `json:"date"`
	Amount     Optional[decimal.Decimal] `json:"amount"`
	VATAmount  Optional[decimal.Decimal] `json:"vat_amount"`
	VATRate    Optional[VATRate]         `json:"vat_rate"`
	VendorName Optional[string]          `json:"vendor_name"`
	Category   Optional[Category]        `json:"category"`
	Notes      []string                  `json:"notes,omitempty"`
	Confidence Confidence                `json:"confidence,omitempty"`
}

// AddNote appends a machine generated note.
func (c *Candidate) AddNote(note string) {
	c.Notes = append(c.Notes, note)
}
