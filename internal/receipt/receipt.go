package receipt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/dedupe"
	"github.com/zombor/expense-tracker/internal/expense"
)

var (
	// ErrNotFound is returned when a record does not exist for the owner.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks bad input; expense validation errors unwrap to it too.
	ErrInvalid = expense.ErrInvalid
)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Order selects the sort key of a receipt query.
type Order string

const (
	OrderDate    Order = "date"
	OrderCreated Order = "created"
)

// Query filters an owner's receipts. Zero fields do not filter.
type Query struct {
	OwnerID   string
	From      expense.Optional[civil.Date]
	To        expense.Optional[civil.Date]
	Category  string
	ClientID  string
	Type      expense.Type
	MinAmount expense.Optional[decimal.Decimal]
	MaxAmount expense.Optional[decimal.Decimal]
	// Search is matched case-insensitively against vendor name and notes.
	Search  string
	OrderBy Order
	Desc    bool
}

// Matches applies every filter except the owner to r.
func (q Query) Matches(r *expense.Receipt) bool {
	if q.From.IsSet() || q.To.IsSet() {
		d, ok := r.Date.Get()
		if !ok {
			return false
		}
		if from, ok := q.From.Get(); ok && d.Before(from) {
			return false
		}
		if to, ok := q.To.Get(); ok && d.After(to) {
			return false
		}
	}
	if q.Category != "" && !strings.EqualFold(r.Category.OrOther().String(), q.Category) {
		return false
	}
	if q.ClientID != "" && r.ClientID != q.ClientID {
		return false
	}
	if q.Type != "" && r.Type.OrExpense() != q.Type {
		return false
	}
	if q.MinAmount.IsSet() || q.MaxAmount.IsSet() {
		a, ok := r.Amount.Get()
		if !ok {
			return false
		}
		if lo, ok := q.MinAmount.Get(); ok && a.LessThan(lo) {
			return false
		}
		if hi, ok := q.MaxAmount.Get(); ok && a.GreaterThan(hi) {
			return false
		}
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(r.VendorName), needle) &&
			!strings.Contains(strings.ToLower(r.Notes), needle) {
			return false
		}
	}
	return true
}

// Sort orders receipts by the query's key. Undated receipts go last when
// ordering by date.
func (q Query) Sort(rs []*expense.Receipt) {
	less := func(a, b *expense.Receipt) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	if q.OrderBy == OrderDate {
		byCreated := less
		less = func(a, b *expense.Receipt) bool {
			ad, _ := a.Date.Get()
			bd, _ := b.Date.Get()
			if ad != bd {
				return ad.Before(bd)
			}
			return byCreated(a, b)
		}
		sort.SliceStable(rs, func(i, j int) bool {
			_, iok := rs[i].Date.Get()
			_, jok := rs[j].Date.Get()
			if iok != jok {
				return iok
			}
			if q.Desc {
				return less(rs[j], rs[i])
			}
			return less(rs[i], rs[j])
		})
		return
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if q.Desc {
			return less(rs[j], rs[i])
		}
		return less(rs[i], rs[j])
	})
}

// Draft is an extracted, not yet saved receipt for the user to review.
type Draft struct {
	Receipt expense.Receipt                `json:"receipt"`
	Bands   map[expense.Field]expense.Band `json:"bands"`
	// Duplicate is set when the draft looks like a receipt already on file.
	Duplicate *dedupe.Warning `json:"duplicate,omitempty"`
}

func newDraft(r expense.Receipt) *Draft {
	bands := make(map[expense.Field]expense.Band, len(expense.Fields()))
	for _, f := range expense.Fields() {
		bands[f] = expense.BandOf(r.FieldConfidence.Of(f))
	}
	return &Draft{Receipt: r, Bands: bands}
}

// BatchItem is one file of a batch extraction.
type BatchItem struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Draft    *Draft `json:"draft,omitempty"`
	// Error is set when no draft could be produced; the user enters it by hand.
	Error string `json:"error,omitempty"`
}

// PendingBatch holds extracted drafts between review and commit.
type PendingBatch struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"owner_id"`
	CreatedAt time.Time   `json:"created_at"`
	Items     []BatchItem `json:"items"`
}

func (b *PendingBatch) item(index int) (*BatchItem, error) {
	for i := range b.Items {
		if b.Items[i].Index == index {
			return &b.Items[i], nil
		}
	}
	return nil, fmt.Errorf("batch item %d: %w", index, ErrNotFound)
}

// Replace swaps in a user-corrected receipt, clearing any item error.
func (b *PendingBatch) Replace(index int, r expense.Receipt) error {
	it, err := b.item(index)
	if err != nil {
		return err
	}
	if it.Draft == nil {
		it.Draft = newDraft(r)
	} else {
		it.Draft.Receipt = r
	}
	it.Error = ""
	return nil
}

// Remove drops an item from the batch.
func (b *PendingBatch) Remove(index int) error {
	for i := range b.Items {
		if b.Items[i].Index == index {
			b.Items = append(b.Items[:i], b.Items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("batch item %d: %w", index, ErrNotFound)
}

// Ready returns the items that have a draft to commit.
func (b *PendingBatch) Ready() []BatchItem {
	var out []BatchItem
	for _, it := range b.Items {
		if it.Error == "" && it.Draft != nil {
			out = append(out, it)
		}
	}
	return out
}

// Failed counts items without a draft.
func (b *PendingBatch) Failed() int {
	n := 0
	for _, it := range b.Items {
		if it.Error != "" || it.Draft == nil {
			n++
		}
	}
	return n
}

// CommitResult is the outcome of saving one batch item.
type CommitResult struct {
	Index     int              `json:"index"`
	Receipt   *expense.Receipt `json:"receipt,omitempty"`
	Duplicate *dedupe.Warning  `json:"duplicate,omitempty"`
	Error     string           `json:"error,omitempty"`
}
