// Package reconcile merges the heuristic and AI candidates for one receipt.
package reconcile

import (
	"fmt"

	"github.com/zombor/expense-tracker/internal/expense"
)

// FallbackNote is appended when the AI source could not be used.
const FallbackNote = "AI extraction unavailable, fields were read heuristically"

// MergeField prefers the AI value when it is set and falls back to the
// heuristic one.
func MergeField[T any](ai, heuristic expense.Optional[T]) expense.Optional[T] {
	return ai.Or(heuristic)
}

// MergeConfidence prefers a score the AI supplied, then the heuristic score,
// then 0.
func MergeConfidence(f expense.Field, ai, heuristic expense.Confidence) int {
	if v, ok := ai.Lookup(f); ok {
		return v
	}
	if v, ok := heuristic.Lookup(f); ok {
		return v
	}
	return 0
}

// Reconcile merges the candidates field by field. A nil ai candidate returns
// the heuristic one unchanged.
func Reconcile(heuristic expense.Candidate, ai *expense.Candidate) expense.Candidate {
	if ai == nil {
		return heuristic
	}

	out := expense.Candidate{
		Date:       MergeField(ai.Date, heuristic.Date),
		Amount:     MergeField(ai.Amount, heuristic.Amount),
		VATAmount:  MergeField(ai.VATAmount, heuristic.VATAmount),
		VATRate:    MergeField(ai.VATRate, heuristic.VATRate),
		VendorName: MergeField(ai.VendorName, heuristic.VendorName),
		Category:   MergeField(ai.Category, heuristic.Category),
		Confidence: expense.Confidence{},
	}
	for _, f := range expense.Fields() {
		out.Confidence[f] = MergeConfidence(f, ai.Confidence, heuristic.Confidence)
	}
	out.Notes = append(append(out.Notes, heuristic.Notes...), ai.Notes...)
	return out
}

// Fallback returns the heuristic candidate with a note recording why the AI
// source was skipped.
func Fallback(heuristic expense.Candidate, cause error) expense.Candidate {
	out := heuristic
	out.Notes = append([]string(nil), heuristic.Notes...)
	if cause != nil {
		out.AddNote(fmt.Sprintf("%s (%v)", FallbackNote, cause))
	} else {
		out.AddNote(FallbackNote)
	}
	return out
}

// Categorize fills an unset category from the vendor name.
func Categorize(c expense.Candidate, vendors expense.VendorCategories) expense.Candidate {
	if c.Category.IsSet() {
		return c
	}
	vendor, ok := c.VendorName.Get()
	if !ok {
		return c
	}
	c.Category = expense.Some(vendors.Categorize(vendor))
	return c
}
