package scanning

import (
	"context"

	"github.com/zombor/expense-tracker/internal/expense"
)

// Request is what a scanner reads: recognized text, an image, or both.
type Request struct {
	Text        string
	Image       []byte
	ContentType string
}

// Scanner defines the interface for AI receipt extraction
type Scanner interface {
	// Extract returns the service's best guess at the receipt fields. Confidence
	// is only set for fields the service scored.
	Extract(ctx context.Context, req Request) (*expense.Candidate, error)
	// Close closes the scanner and releases resources
	Close() error
}
