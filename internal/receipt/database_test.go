package receipt

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-tracker/internal/expense"
)

var _ = Describe("BoltDB", func() {
	describeDB(func(dir string) (DB, error) {
		return NewBoltDB(filepath.Join(dir, "test.db"))
	})
})

var _ = Describe("SQLiteDB", func() {
	describeDB(func(dir string) (DB, error) {
		return NewSQLiteDB(filepath.Join(dir, "data", "test.sqlite"))
	})
})

func ids(receipts []*expense.Receipt) []string {
	out := make([]string, len(receipts))
	for i, r := range receipts {
		out[i] = r.ID
	}
	return out
}

// describeDB runs the persistence behaviour every DB must share.
func describeDB(open func(dir string) (DB, error)) {
	var db DB

	created := func(minute int) time.Time {
		return time.Date(2024, 3, 1, 9, minute, 0, 0, time.UTC)
	}

	BeforeEach(func() {
		var err error
		db, err = open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("receipts", func() {
		It("round-trips every field", func() {
			original := &expense.Receipt{
				ID:          "r1",
				OwnerID:     owner,
				ClientID:    "c1",
				Date:        day(2024, 3, 15),
				Amount:      expense.Some(dec("118.5")),
				VATAmount:   expense.Some(dec("18.07")),
				VATRate:     expense.Some(expense.Rate(dec("18"))),
				VendorName:  "MİGROS TİCARET A.Ş.",
				Category:    expense.Predefined(expense.Food),
				Type:        expense.TypeExpense,
				Notes:       "line one\nline two",
				RawText:     migrosText,
				ImageKey:    "r1_receipt.jpg",
				ImageURL:    "https://files.test/r1_receipt.jpg",
				ContentType: "image/jpeg",
				FieldConfidence: expense.Confidence{
					expense.FieldDate:   85,
					expense.FieldAmount: 92,
				},
				CreatedAt: created(0),
				UpdatedAt: created(5),
			}
			Expect(db.SaveReceipt(original)).To(Succeed())

			loaded, err := db.GetReceipt(owner, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Date).To(Equal(original.Date))
			Expect(loaded.Amount).To(Equal(original.Amount))
			Expect(loaded.VATAmount).To(Equal(original.VATAmount))
			Expect(loaded.VATRate).To(Equal(original.VATRate))
			Expect(loaded.Category).To(Equal(original.Category))
			Expect(loaded.FieldConfidence).To(Equal(original.FieldConfidence))
			Expect(loaded.CreatedAt.Equal(original.CreatedAt)).To(BeTrue())
			Expect(*loaded).To(Equal(*original))
		})

		It("round-trips unset fields and the review sentinel", func() {
			original := &expense.Receipt{
				ID:        "r2",
				OwnerID:   owner,
				VATRate:   expense.Some(expense.NeedsManualReview),
				Category:  expense.Custom("Gifts"),
				Type:      expense.TypeIncome,
				CreatedAt: created(0),
				UpdatedAt: created(0),
			}
			Expect(db.SaveReceipt(original)).To(Succeed())

			loaded, err := db.GetReceipt(owner, "r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Date.IsSet()).To(BeFalse())
			Expect(loaded.Amount.IsSet()).To(BeFalse())
			Expect(loaded.VATRate).To(Equal(expense.Some(expense.NeedsManualReview)))
			Expect(loaded.Category).To(Equal(expense.Custom("Gifts")))
		})

		It("replaces a receipt saved twice", func() {
			r := &expense.Receipt{ID: "r1", OwnerID: owner, VendorName: "first", CreatedAt: created(0)}
			Expect(db.SaveReceipt(r)).To(Succeed())
			r.VendorName = "second"
			Expect(db.SaveReceipt(r)).To(Succeed())

			loaded, err := db.GetReceipt(owner, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.VendorName).To(Equal("second"))

			all, err := db.QueryReceipts(Query{OwnerID: owner})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("hides receipts of other owners", func() {
			Expect(db.SaveReceipt(&expense.Receipt{ID: "r1", OwnerID: "bob", CreatedAt: created(0)})).To(Succeed())

			_, err := db.GetReceipt(owner, "r1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

			err = db.DeleteReceipt(owner, "r1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

			_, err = db.GetReceipt("bob", "r1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns not found for missing receipts", func() {
			_, err := db.GetReceipt(owner, "missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

			err = db.DeleteReceipt(owner, "missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("deletes receipts", func() {
			Expect(db.SaveReceipt(&expense.Receipt{ID: "r1", OwnerID: owner, CreatedAt: created(0)})).To(Succeed())
			Expect(db.DeleteReceipt(owner, "r1")).To(Succeed())

			_, err := db.GetReceipt(owner, "r1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("QueryReceipts", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipts([]*expense.Receipt{
				{ID: "a", OwnerID: owner, Date: day(2024, 5, 1), Amount: expense.Some(dec("50")), Category: expense.Predefined(expense.Food), VendorName: "Migros", Type: expense.TypeExpense, CreatedAt: created(3)},
				{ID: "b", OwnerID: owner, Date: day(2024, 5, 20), Amount: expense.Some(dec("250")), Category: expense.Predefined(expense.Transport), ClientID: "c1", Type: expense.TypeExpense, Notes: "airport taxi", CreatedAt: created(1)},
				{ID: "c", OwnerID: owner, Date: day(2024, 4, 2), Amount: expense.Some(dec("1000")), Type: expense.TypeIncome, ClientID: "c1", CreatedAt: created(2)},
				{ID: "d", OwnerID: owner, Amount: expense.Some(dec("10")), Type: expense.TypeExpense, CreatedAt: created(0)},
				{ID: "x", OwnerID: "bob", Date: day(2024, 5, 1), Amount: expense.Some(dec("50")), CreatedAt: created(4)},
			})).To(Succeed())
		})

		DescribeTable("filters",
			func(q Query, want []string) {
				q.OwnerID = owner
				got, err := db.QueryReceipts(q)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(got)).To(ConsistOf(want))
			},
			Entry("everything of the owner", Query{}, []string{"a", "b", "c", "d"}),
			Entry("date range drops undated", Query{From: day(2024, 5, 1), To: day(2024, 5, 31)}, []string{"a", "b"}),
			Entry("category ignores case", Query{Category: "food"}, []string{"a"}),
			Entry("unset category counts as Other", Query{Category: "Other"}, []string{"c", "d"}),
			Entry("client", Query{ClientID: "c1"}, []string{"b", "c"}),
			Entry("type", Query{Type: expense.TypeIncome}, []string{"c"}),
			Entry("amount band", Query{MinAmount: expense.Some(dec("50")), MaxAmount: expense.Some(dec("250"))}, []string{"a", "b"}),
			Entry("search vendor", Query{Search: "migr"}, []string{"a"}),
			Entry("search notes", Query{Search: "TAXI"}, []string{"b"}),
		)

		It("orders by date with undated receipts last", func() {
			got, err := db.QueryReceipts(Query{OwnerID: owner, OrderBy: OrderDate})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(Equal([]string{"c", "a", "b", "d"}))

			got, err = db.QueryReceipts(Query{OwnerID: owner, OrderBy: OrderDate, Desc: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(Equal([]string{"b", "a", "c", "d"}))
		})

		It("orders by creation time", func() {
			got, err := db.QueryReceipts(Query{OwnerID: owner, OrderBy: OrderCreated})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(Equal([]string{"d", "b", "c", "a"}))
		})
	})

	Describe("clients", func() {
		It("saves, lists and deletes per owner", func() {
			Expect(db.SaveClient(&expense.Client{ID: "c1", OwnerID: owner, Name: "Acme"})).To(Succeed())
			Expect(db.SaveClient(&expense.Client{ID: "c2", OwnerID: "bob", Name: "Other"})).To(Succeed())

			c, err := db.GetClient(owner, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Name).To(Equal("Acme"))

			list, err := db.ListClients(owner)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))

			_, err = db.GetClient(owner, "c2")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

			Expect(db.DeleteClient(owner, "c1")).To(Succeed())
			list, err = db.ListClients(owner)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})
	})

	Describe("budgets", func() {
		It("saves, lists and deletes per owner", func() {
			b := &expense.Budget{ID: "b1", OwnerID: owner, Category: expense.Predefined(expense.Food), MonthlyLimit: dec("500"), AlertThreshold: 0}
			Expect(db.SaveBudget(b)).To(Succeed())

			loaded, err := db.GetBudget(owner, "b1")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.MonthlyLimit.Equal(dec("500"))).To(BeTrue())
			Expect(loaded.AlertThreshold).To(BeZero())
			Expect(loaded.Category).To(Equal(expense.Predefined(expense.Food)))

			list, err := db.ListBudgets("bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())

			err = db.DeleteBudget("bob", "b1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			Expect(db.DeleteBudget(owner, "b1")).To(Succeed())
		})
	})
}
