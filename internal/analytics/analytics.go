// Package analytics aggregates stored receipts. Every function is pure and
// may be called repeatedly on the same collection.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/expense"
)

var hundred = decimal.NewFromInt(100)

// Totals sums amounts split by type, plus the VAT carried by them.
type Totals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	VAT     decimal.Decimal `json:"vat"`
	Count   int             `json:"count"`
}

func (t *Totals) add(r *expense.Receipt) {
	amount := r.Amount.OrElse(decimal.Zero)
	if r.Type.OrExpense() == expense.TypeIncome {
		t.Income = t.Income.Add(amount)
	} else {
		t.Expense = t.Expense.Add(amount)
	}
	t.VAT = t.VAT.Add(r.VATAmount.OrElse(decimal.Zero))
	t.Count++
}

// Month identifies a calendar month.
type Month struct {
	Year  int
	Month int
}

// MonthOf truncates a date to its month.
func MonthOf(d civil.Date) Month {
	return Month{Year: d.Year, Month: int(d.Month)}
}

// Previous returns the month before m.
func (m Month) Previous() Month {
	if m.Month == 1 {
		return Month{Year: m.Year - 1, Month: 12}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

func (m Month) before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// MonthTotals is one bucket of the monthly rollup.
type MonthTotals struct {
	Month Month `json:"month"`
	Totals
}

// MonthlyRollup buckets dated receipts by month, oldest first.
func MonthlyRollup(records []*expense.Receipt) []MonthTotals {
	buckets := map[Month]*Totals{}
	for _, r := range records {
		d, ok := r.Date.Get()
		if !ok {
			continue
		}
		m := MonthOf(d)
		t, ok := buckets[m]
		if !ok {
			t = newTotals()
			buckets[m] = t
		}
		t.add(r)
	}

	out := make([]MonthTotals, 0, len(buckets))
	for m, t := range buckets {
		out = append(out, MonthTotals{Month: m, Totals: *t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.before(out[j].Month) })
	return out
}

// MonthTotal returns the totals of one month.
func MonthTotal(records []*expense.Receipt, m Month) Totals {
	t := newTotals()
	for _, r := range records {
		if d, ok := r.Date.Get(); ok && MonthOf(d) == m {
			t.add(r)
		}
	}
	return *t
}

func newTotals() *Totals {
	return &Totals{Income: decimal.Zero, Expense: decimal.Zero, VAT: decimal.Zero}
}

// CategoryTotal is the amount spent or earned under one category.
type CategoryTotal struct {
	Category expense.Category `json:"category"`
	Type     expense.Type     `json:"type"`
	Total    decimal.Decimal  `json:"total"`
	Count    int              `json:"count"`
	// Percent is the share of all amounts of the same type.
	Percent decimal.Decimal `json:"percent"`
}

type categoryKey struct {
	category string
	typ      expense.Type
}

// CategoryRollup sums amounts per category and type. Receipts without a
// category count as Other. Largest totals come first.
func CategoryRollup(records []*expense.Receipt) []CategoryTotal {
	totals := map[categoryKey]*CategoryTotal{}
	byType := map[expense.Type]decimal.Decimal{}
	for _, r := range records {
		c := r.Category.OrOther()
		typ := r.Type.OrExpense()
		k := categoryKey{category: c.String(), typ: typ}
		t, ok := totals[k]
		if !ok {
			t = &CategoryTotal{Category: c, Type: typ, Total: decimal.Zero}
			totals[k] = t
		}
		amount := r.Amount.OrElse(decimal.Zero)
		t.Total = t.Total.Add(amount)
		t.Count++
		byType[typ] = byType[typ].Add(amount)
	}

	out := make([]CategoryTotal, 0, len(totals))
	for _, t := range totals {
		if sum := byType[t.Type]; sum.IsPositive() {
			t.Percent = t.Total.Div(sum).Mul(hundred).Round(1)
		} else {
			t.Percent = decimal.Zero
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].Category.String() < out[j].Category.String()
	})
	return out
}

// ChangePercentage returns (current-previous)/previous*100 rounded to one
// decimal. A zero previous period yields 100 when current is positive and 0
// otherwise.
func ChangePercentage(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(hundred).Round(1)
}

// Comparison contrasts the current month with the one before it.
type Comparison struct {
	ThisMonth     Totals          `json:"this_month"`
	LastMonth     Totals          `json:"last_month"`
	IncomeChange  decimal.Decimal `json:"income_change"`
	ExpenseChange decimal.Decimal `json:"expense_change"`
}

// CompareMonths compares the month containing today with the previous one.
func CompareMonths(records []*expense.Receipt, today civil.Date) Comparison {
	this := MonthOf(today)
	c := Comparison{
		ThisMonth: MonthTotal(records, this),
		LastMonth: MonthTotal(records, this.Previous()),
	}
	c.IncomeChange = ChangePercentage(c.ThisMonth.Income, c.LastMonth.Income)
	c.ExpenseChange = ChangePercentage(c.ThisMonth.Expense, c.LastMonth.Expense)
	return c
}

// DefaultSigma is how many standard deviations above the mean an amount must
// be to count as an outlier.
const DefaultSigma = 2.0

// minSample is the fewest positive amounts outlier detection will run on.
const minSample = 3

// OutlierReport lists the flagged receipts and the statistics behind them.
type OutlierReport struct {
	Mean      float64            `json:"mean"`
	StdDev    float64            `json:"std_dev"`
	Threshold float64            `json:"threshold"`
	Receipts  []*expense.Receipt `json:"receipts"`
}

// Outliers flags receipts whose amount is strictly greater than
// mean + sigma*stddev of all positive amounts (population deviation). Fewer
// than three positive amounts flag nothing.
func Outliers(records []*expense.Receipt, sigma float64) OutlierReport {
	var amounts []float64
	for _, r := range records {
		if a, ok := r.Amount.Get(); ok && a.IsPositive() {
			amounts = append(amounts, a.InexactFloat64())
		}
	}
	if len(amounts) < minSample {
		return OutlierReport{}
	}

	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean := sum / float64(len(amounts))
	var sq float64
	for _, a := range amounts {
		sq += (a - mean) * (a - mean)
	}
	stddev := math.Sqrt(sq / float64(len(amounts)))

	report := OutlierReport{Mean: mean, StdDev: stddev, Threshold: mean + sigma*stddev}
	for _, r := range records {
		a, ok := r.Amount.Get()
		if ok && a.IsPositive() && a.InexactFloat64() > report.Threshold {
			report.Receipts = append(report.Receipts, r)
		}
	}
	return report
}

// BudgetState is the alert level of a budget.
type BudgetState string

const (
	BudgetOK      BudgetState = "ok"
	BudgetWarning BudgetState = "warning"
	BudgetOverrun BudgetState = "overrun"
)

// BudgetStatus is a budget evaluated against this month's spending.
type BudgetStatus struct {
	Budget       *expense.Budget `json:"budget"`
	Spent        decimal.Decimal `json:"spent"`
	Remaining    decimal.Decimal `json:"remaining"`
	UsagePercent decimal.Decimal `json:"usage_percent"`
	State        BudgetState     `json:"state"`
}

// StateOf classifies a usage percentage against an alert threshold.
func StateOf(usage decimal.Decimal, threshold int) BudgetState {
	switch {
	case usage.GreaterThanOrEqual(hundred):
		return BudgetOverrun
	case usage.GreaterThanOrEqual(decimal.NewFromInt(int64(threshold))):
		return BudgetWarning
	default:
		return BudgetOK
	}
}

// EvaluateBudgets computes each budget's spend over expense receipts dated in
// the month of today. A budget without a client covers every client.
func EvaluateBudgets(budgets []*expense.Budget, records []*expense.Receipt, today civil.Date) []BudgetStatus {
	month := MonthOf(today)
	out := make([]BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		spent := decimal.Zero
		for _, r := range records {
			if r.Type.OrExpense() != expense.TypeExpense {
				continue
			}
			d, ok := r.Date.Get()
			if !ok || MonthOf(d) != month {
				continue
			}
			if b.ClientID != "" && r.ClientID != b.ClientID {
				continue
			}
			if !strings.EqualFold(r.Category.OrOther().String(), b.Category.String()) {
				continue
			}
			spent = spent.Add(r.Amount.OrElse(decimal.Zero))
		}

		usage := decimal.Zero
		if b.MonthlyLimit.IsPositive() {
			usage = spent.Mul(hundred).Div(b.MonthlyLimit)
		}
		out = append(out, BudgetStatus{
			Budget:       b,
			Spent:        spent,
			Remaining:    b.MonthlyLimit.Sub(spent),
			UsagePercent: usage.Round(1),
			// classified before rounding so 99.96% is not an overrun
			State: StateOf(usage, b.AlertThreshold),
		})
	}
	return out
}

// Dashboard is the headline summary of an owner's books.
type Dashboard struct {
	Receipts     int             `json:"receipts"`
	Clients      int             `json:"clients"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	TotalVAT     decimal.Decimal `json:"total_vat"`
	Net          decimal.Decimal `json:"net"`
}

// Summarize totals every receipt regardless of date.
func Summarize(records []*expense.Receipt, clients int) Dashboard {
	t := newTotals()
	for _, r := range records {
		t.add(r)
	}
	return Dashboard{
		Receipts:     len(records),
		Clients:      clients,
		TotalIncome:  t.Income,
		TotalExpense: t.Expense,
		TotalVAT:     t.VAT,
		Net:          t.Income.Sub(t.Expense),
	}
}
