package expense

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid")

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Type separates spending from earnings.
type Type string

const (
	TypeExpense Type = "expense"
	TypeIncome  Type = "income"
)

// OrExpense defaults an empty type to expense.
func (t Type) OrExpense() Type {
	if t == "" {
		return TypeExpense
	}
	return t
}

// ParseType accepts "expense", "income" or "" (expense).
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "", TypeExpense:
		return TypeExpense, nil
	case TypeIncome:
		return TypeIncome, nil
	}
	return "", invalid("type", "must be expense or income, got %q", s)
}

// Receipt is one extracted expense or income event.
type Receipt struct {
	ID              string                    `json:"id"`
	OwnerID         string                    `json:"owner_id"`
	ClientID        string                    `json:"client_id,omitempty"`
	Date            Optional[civil.Date]      `json:"date"`
	Amount          Optional[decimal.Decimal] `json:"amount"`
	VATAmount       Optional[decimal.Decimal] `json:"vat_amount"`
	VATRate         Optional[VATRate]         `json:"vat_rate"`
	VendorName      string                    `json:"vendor_name,omitempty"`
	Category        Category                  `json:"category"`
	Type            Type                      `json:"type"`
	Notes           string                    `json:"notes,omitempty"`
	RawText         string                    `json:"raw_text,omitempty"`
	FieldConfidence Confidence                `json:"field_confidence,omitempty"`
	ImageKey        string                    `json:"image_key,omitempty"`
	ImageURL        string                    `json:"image_url,omitempty"`
	ContentType     string                    `json:"content_type,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// AppendNote adds a line to the receipt notes.
func (r *Receipt) AppendNote(note string) {
	if note == "" {
		return
	}
	if r.Notes == "" {
		r.Notes = note
		return
	}
	r.Notes += "\n" + note
}

// Validate checks the amount invariants.
func (r *Receipt) Validate() error {
	amount, hasAmount := r.Amount.Get()
	if hasAmount && amount.IsNegative() {
		return invalid("amount", "must not be negative")
	}
	if vat, ok := r.VATAmount.Get(); ok {
		if vat.IsNegative() {
			return invalid("vat_amount", "must not be negative")
		}
		if hasAmount && vat.GreaterThan(amount) {
			return invalid("vat_amount", "must not exceed amount")
		}
	}
	if _, err := ParseType(string(r.Type)); err != nil {
		return err
	}
	return nil
}

// FromCandidate builds an unsaved receipt out of a reconciled candidate.
func FromCandidate(c Candidate) Receipt {
	r := Receipt{
		Date:            c.Date,
		Amount:          c.Amount,
		VATAmount:       c.VATAmount,
		VATRate:         c.VATRate,
		VendorName:      c.VendorName.OrElse(""),
		Category:        c.Category.OrElse(Category{}),
		Type:            TypeExpense,
		FieldConfidence: Confidence{},
	}
	for _, n := range c.Notes {
		r.AppendNote(n)
	}
	for _, f := range Fields() {
		r.FieldConfidence[f] = c.Confidence.Of(f)
	}
	return r
}

// Client is a billing counterparty.
type Client struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CompanyName string    `json:"company_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate requires a name.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "is required")
	}
	return nil
}

// DefaultAlertThreshold is used when a budget does not set one.
const DefaultAlertThreshold = 80

// Budget caps monthly spending for a category, optionally for one client.
type Budget struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	ClientID       string          `json:"client_id,omitempty"`
	Category       Category        `json:"category"`
	MonthlyLimit   decimal.Decimal `json:"monthly_limit"`
	AlertThreshold int             `json:"alert_threshold"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks the limit and threshold ranges.
func (b *Budget) Validate() error {
	if b.Category.IsZero() {
		return invalid("category", "is required")
	}
	if !b.MonthlyLimit.IsPositive() {
		return invalid("monthly_limit", "must be positive")
	}
	if b.AlertThreshold < 0 || b.AlertThreshold > 100 {
		return invalid("alert_threshold", "must be between 0 and 100")
	}
	return nil
}
