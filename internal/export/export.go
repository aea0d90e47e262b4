package export

import (
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/expense-tracker/internal/expense"
)

// Sheet is the worksheet receipts are written to.
const Sheet = "Receipts"

var headers = []string{
	"Date",
	"Type",
	"Vendor",
	"Category",
	"Client",
	"Amount",
	"VAT Amount",
	"VAT Rate",
	"Notes",
	"Image",
}

// WriteXLSX renders receipts as a workbook. clientNames maps client IDs to
// display names; unknown IDs are written as-is.
func WriteXLSX(receipts []*expense.Receipt, clientNames map[string]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// A new file starts with Sheet1; rename it rather than leave it empty.
	if err := f.SetSheetName(f.GetSheetName(0), Sheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(Sheet, cell, h); err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	for i, r := range receipts {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(Sheet, cell, v)
		}

		if d, ok := r.Date.Get(); ok {
			write(1, d.String())
		}
		write(2, string(r.Type.OrExpense()))
		write(3, r.VendorName)
		write(4, r.Category.OrOther().String())
		if r.ClientID != "" {
			name, ok := clientNames[r.ClientID]
			if !ok {
				name = r.ClientID
			}
			write(5, name)
		}
		if a, ok := r.Amount.Get(); ok {
			write(6, a.InexactFloat64())
		}
		if v, ok := r.VATAmount.Get(); ok {
			write(7, v.InexactFloat64())
		}
		if rate, ok := r.VATRate.Get(); ok {
			if v, ok := rate.Value(); ok {
				write(8, v.InexactFloat64())
			} else {
				write(8, rate.String())
			}
		}
		write(9, truncate(r.Notes, 140))
		write(10, r.ImageURL)
	}

	_ = f.SetColWidth(Sheet, "A", "B", 12)
	_ = f.SetColWidth(Sheet, "C", "E", 24)
	_ = f.SetColWidth(Sheet, "F", "H", 12)
	_ = f.SetColWidth(Sheet, "I", "I", 48)
	_ = f.SetColWidth(Sheet, "J", "J", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
