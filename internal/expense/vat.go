package expense

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// NeedsManualReviewLabel is the wire form of the ambiguous VAT rate.
const NeedsManualReviewLabel = "NEEDS_MANUAL_REVIEW"

// VATRate is either a numeric percentage or the NeedsManualReview sentinel.
type VATRate struct {
	rate   decimal.Decimal
	review bool
}

// NeedsManualReview marks a rate that could not be determined safely.
var NeedsManualReview = VATRate{review: true}

// Rate wraps a numeric VAT percentage.
func Rate(d decimal.Decimal) VATRate {
	return VATRate{rate: d}
}

// IsManualReview reports whether this is the sentinel.
func (v VATRate) IsManualReview() bool {
	return v.review
}

// Value returns the numeric rate; ok is false for the sentinel.
func (v VATRate) Value() (decimal.Decimal, bool) {
	return v.rate, !v.review
}

// Equal compares two rates numerically.
func (v VATRate) Equal(o VATRate) bool {
	if v.review || o.review {
		return v.review == o.review
	}
	return v.rate.Equal(o.rate)
}

func (v VATRate) String() string {
	if v.review {
		return NeedsManualReviewLabel
	}
	return v.rate.String()
}

func (v VATRate) MarshalJSON() ([]byte, error) {
	if v.review {
		return json.Marshal(NeedsManualReviewLabel)
	}
	return v.rate.MarshalJSON()
}

func (v *VATRate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s == NeedsManualReviewLabel {
		*v = NeedsManualReview
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("vat rate: %w", err)
	}
	*v = Rate(d)
	return nil
}
