// Package dedupe spots receipts that were probably submitted more than once.
package dedupe

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/expense"
)

// DefaultTolerance is the amount band of the pre-insert check.
var DefaultTolerance = decimal.NewFromInt(5)

// Warning is returned when a new receipt looks like an existing one. It is
// advisory; the caller may save anyway.
type Warning struct {
	Existing *expense.Receipt `json:"existing"`
	Message  string           `json:"message"`
}

func (w *Warning) Error() string {
	return w.Message
}

// Detector runs the pre-insert check and the historical grouping.
type Detector struct {
	Tolerance decimal.Decimal
}

// NewDetector returns a detector with the given amount band.
func NewDetector(tolerance decimal.Decimal) *Detector {
	return &Detector{Tolerance: tolerance.Abs()}
}

// FindMatch returns the first existing receipt on the same date whose amount
// is within the tolerance, or nil. A missing date or amount never matches.
func (d *Detector) FindMatch(date expense.Optional[civil.Date], amount expense.Optional[decimal.Decimal], existing []*expense.Receipt) *expense.Receipt {
	day, ok := date.Get()
	if !ok {
		return nil
	}
	value, ok := amount.Get()
	if !ok {
		return nil
	}
	for _, r := range existing {
		rd, ok := r.Date.Get()
		if !ok || rd != day {
			continue
		}
		ra, ok := r.Amount.Get()
		if !ok {
			continue
		}
		if ra.Sub(value).Abs().LessThanOrEqual(d.Tolerance) {
			return r
		}
	}
	return nil
}

// Check wraps FindMatch into a Warning.
func (d *Detector) Check(date expense.Optional[civil.Date], amount expense.Optional[decimal.Decimal], existing []*expense.Receipt) *Warning {
	match := d.FindMatch(date, amount, existing)
	if match == nil {
		return nil
	}
	ra, _ := match.Amount.Get()
	rd, _ := match.Date.Get()
	return &Warning{
		Existing: match,
		Message:  fmt.Sprintf("possible duplicate of receipt %s (%s, %s)", match.ID, rd, ra.StringFixed(2)),
	}
}

// Cluster is a set of receipts sharing the exact same date and amount.
type Cluster struct {
	Date     civil.Date         `json:"date"`
	Amount   decimal.Decimal    `json:"amount"`
	Receipts []*expense.Receipt `json:"receipts"`
}

type clusterKey struct {
	date   civil.Date
	amount string
}

// Clusters groups records by exact (date, amount) and returns every group
// with more than one member, oldest date first. Records missing either key
// are ignored.
func Clusters(records []*expense.Receipt) []Cluster {
	groups := map[clusterKey]*Cluster{}
	var order []clusterKey
	for _, r := range records {
		date, ok := r.Date.Get()
		if !ok {
			continue
		}
		amount, ok := r.Amount.Get()
		if !ok {
			continue
		}
		// 50 and 50.00 are the same amount.
		k := clusterKey{date: date, amount: amount.String()}
		c, ok := groups[k]
		if !ok {
			c = &Cluster{Date: date, Amount: amount}
			groups[k] = c
			order = append(order, k)
		}
		c.Receipts = append(c.Receipts, r)
	}

	var out []Cluster
	for _, k := range order {
		if c := groups[k]; len(c.Receipts) > 1 {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Amount.LessThan(out[j].Amount)
	})
	return out
}
