package export

import (
	"bytes"
	"testing"

	"cloud.google.com/go/civil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/expense-tracker/internal/expense"
)

func TestExport(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Export Suite")
}

var _ = Describe("WriteXLSX", func() {
	var (
		receipts []*expense.Receipt
		clients  map[string]string
		f        *excelize.File
	)

	BeforeEach(func() {
		receipts = []*expense.Receipt{
			{
				ID:         "r1",
				ClientID:   "c1",
				Date:       expense.Some(civil.Date{Year: 2024, Month: 5, Day: 1}),
				Amount:     expense.Some(decimal.RequireFromString("118.5")),
				VATAmount:  expense.Some(decimal.RequireFromString("18")),
				VATRate:    expense.Some(expense.Rate(decimal.NewFromInt(18))),
				VendorName: "Migros",
				Category:   expense.Predefined(expense.Food),
				Type:       expense.TypeExpense,
				Notes:      "lunch",
				ImageURL:   "http://localhost/api/files/r1.png",
			},
			{
				ID:       "r2",
				ClientID: "c9",
				Amount:   expense.Some(decimal.NewFromInt(40)),
				VATRate:  expense.Some(expense.NeedsManualReview),
				Type:     expense.TypeIncome,
			},
		}
		clients = map[string]string{"c1": "Acme"}
	})

	JustBeforeEach(func() {
		data, err := WriteXLSX(receipts, clients)
		Expect(err).NotTo(HaveOccurred())
		f, err = excelize.OpenReader(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		f.Close()
	})

	cell := func(name string) string {
		v, err := f.GetCellValue(Sheet, name)
		Expect(err).NotTo(HaveOccurred())
		return v
	}

	It("writes a single receipts sheet with headers", func() {
		Expect(f.GetSheetList()).To(Equal([]string{Sheet}))
		Expect(cell("A1")).To(Equal("Date"))
		Expect(cell("J1")).To(Equal("Image"))
	})

	It("writes one row per receipt", func() {
		Expect(cell("A2")).To(Equal("2024-05-01"))
		Expect(cell("B2")).To(Equal("expense"))
		Expect(cell("C2")).To(Equal("Migros"))
		Expect(cell("D2")).To(Equal("Food"))
		Expect(cell("E2")).To(Equal("Acme"))
		Expect(cell("F2")).To(Equal("118.5"))
		Expect(cell("G2")).To(Equal("18"))
		Expect(cell("H2")).To(Equal("18"))
		Expect(cell("I2")).To(Equal("lunch"))
		Expect(cell("J2")).To(Equal("http://localhost/api/files/r1.png"))
	})

	It("fills defaults for sparse receipts", func() {
		Expect(cell("A3")).To(BeEmpty())
		Expect(cell("B3")).To(Equal("income"))
		Expect(cell("D3")).To(Equal("Other"))
		Expect(cell("E3")).To(Equal("c9"))
		Expect(cell("H3")).To(Equal(expense.NeedsManualReviewLabel))
	})

	When("notes are long", func() {
		BeforeEach(func() {
			receipts = receipts[:1]
			long := make([]rune, 200)
			for i := range long {
				long[i] = 'ş'
			}
			receipts[0].Notes = string(long)
		})

		It("truncates them", func() {
			Expect([]rune(cell("I2"))).To(HaveLen(140))
		})
	})
})
