package dedupe_test

import (
	"testing"

	"cloud.google.com/go/civil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/dedupe"
	"github.com/zombor/expense-tracker/internal/expense"
)

func TestDedupe(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dedupe Suite")
}

func receipt(id, date, amount string) *expense.Receipt {
	r := &expense.Receipt{ID: id}
	if date != "" {
		d, err := civil.ParseDate(date)
		Expect(err).NotTo(HaveOccurred())
		r.Date = expense.Some(d)
	}
	if amount != "" {
		r.Amount = expense.Some(decimal.RequireFromString(amount))
	}
	return r
}

var _ = Describe("Detector", func() {
	var (
		detector *dedupe.Detector
		existing []*expense.Receipt
	)

	BeforeEach(func() {
		detector = dedupe.NewDetector(dedupe.DefaultTolerance)
		existing = []*expense.Receipt{receipt("r1", "2024-05-01", "100.00")}
	})

	DescribeTable("FindMatch",
		func(date, amount string, match bool) {
			r := receipt("new", date, amount)
			got := detector.FindMatch(r.Date, r.Amount, existing)
			if match {
				Expect(got).To(Equal(existing[0]))
			} else {
				Expect(got).To(BeNil())
			}
		},
		Entry("within the band", "2024-05-01", "103.00", true),
		Entry("on the lower edge", "2024-05-01", "95.00", true),
		Entry("on the upper edge", "2024-05-01", "105.00", true),
		Entry("outside the band", "2024-05-01", "110.00", false),
		Entry("another day", "2024-05-02", "100.00", false),
		Entry("no date", "", "100.00", false),
		Entry("no amount", "2024-05-01", "", false),
	)

	It("skips existing receipts with missing keys", func() {
		existing = []*expense.Receipt{receipt("r0", "2024-05-01", "")}
		r := receipt("new", "2024-05-01", "100.00")
		Expect(detector.FindMatch(r.Date, r.Amount, existing)).To(BeNil())
	})

	It("honours a configured tolerance", func() {
		detector = dedupe.NewDetector(decimal.NewFromInt(1))
		r := receipt("new", "2024-05-01", "103.00")
		Expect(detector.FindMatch(r.Date, r.Amount, existing)).To(BeNil())
	})

	It("describes the match in a warning", func() {
		r := receipt("new", "2024-05-01", "103.00")
		w := detector.Check(r.Date, r.Amount, existing)
		Expect(w).NotTo(BeNil())
		Expect(w.Existing.ID).To(Equal("r1"))
		Expect(w.Message).To(ContainSubstring("r1"))
		Expect(w.Message).To(ContainSubstring("100.00"))
	})
})

var _ = Describe("Clusters", func() {
	It("reports one cluster of exact matches", func() {
		records := []*expense.Receipt{
			receipt("a", "2024-05-01", "50.00"),
			receipt("b", "2024-05-01", "50.00"),
			receipt("c", "2024-05-02", "50.00"),
		}
		clusters := dedupe.Clusters(records)
		Expect(clusters).To(HaveLen(1))
		Expect(clusters[0].Receipts).To(ConsistOf(records[0], records[1]))
	})

	It("does not use the tolerance band", func() {
		clusters := dedupe.Clusters([]*expense.Receipt{
			receipt("a", "2024-05-01", "50.00"),
			receipt("b", "2024-05-01", "51.00"),
		})
		Expect(clusters).To(BeEmpty())
	})

	It("treats equal amounts with different scale as the same", func() {
		clusters := dedupe.Clusters([]*expense.Receipt{
			receipt("a", "2024-05-01", "50"),
			receipt("b", "2024-05-01", "50.00"),
		})
		Expect(clusters).To(HaveLen(1))
	})

	It("orders clusters by date", func() {
		clusters := dedupe.Clusters([]*expense.Receipt{
			receipt("a", "2024-06-01", "10.00"),
			receipt("b", "2024-05-01", "20.00"),
			receipt("c", "2024-06-01", "10.00"),
			receipt("d", "2024-05-01", "20.00"),
			receipt("e", "", "20.00"),
		})
		Expect(clusters).To(HaveLen(2))
		Expect(clusters[0].Date.String()).To(Equal("2024-05-01"))
		Expect(clusters[1].Date.String()).To(Equal("2024-06-01"))
	})
})
