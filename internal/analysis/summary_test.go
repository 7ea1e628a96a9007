package analysis

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func ptr[T any](v T) *T {
	return &v
}

var _ = Describe("Summarize", func() {
	var (
		result  Result
		summary string
	)

	JustBeforeEach(func() {
		summary = Summarize(result)
	})

	When("the result is complete", func() {
		BeforeEach(func() {
			result = Result{
				Provider:         ptr("CK Bogazici"),
				InvoiceDate:      ptr("05/03/2025"),
				DueDate:          ptr("20/03/2025"),
				TotalAmount:      ptr(412.5),
				Tariffs:          TariffDeltas{Day: ptr(120.0), Night: ptr(-4.0)},
				TotalConsumption: ptr(146.5),
				AverageCost:      ptr(2.81),
				Advisory:         "Shift laundry to night hours.",
			}
		})

		It("should render one line per field in order", func() {
			Expect(strings.Split(summary, "\n")).To(Equal([]string{
				"CK Bogazici bill - 05/03/2025",
				"Total: 412.50",
				"Due date: 20/03/2025",
				"Consumption: 146.5",
				"Average cost: 2.81",
				"Day rate change: +120",
				"Night rate change: -4",
				"Advice: Shift laundry to night hours.",
			}))
		})
	})

	When("nothing is known", func() {
		BeforeEach(func() {
			result = Result{}
		})

		It("should still produce a title and the placeholder advice", func() {
			Expect(summary).To(Equal("Unknown provider bill\nAdvice: " + AdvisoryPlaceholder))
		})
	})

	When("the total is zero", func() {
		BeforeEach(func() {
			result = Result{Provider: ptr("ASKI"), TotalAmount: ptr(0.0)}
		})

		It("should show it", func() {
			Expect(summary).To(ContainSubstring("Total: 0.00"))
		})
	})

	When("the advice uses markdown headings", func() {
		BeforeEach(func() {
			result = Result{Advisory: "### Tips\nUse less at peak."}
		})

		It("should never contain the record separator", func() {
			Expect(summary).NotTo(ContainSubstring("###"))
			Expect(summary).To(HaveSuffix("Advice: Tips\nUse less at peak."))
		})
	})

	When("the advice has hashes inside or at the end", func() {
		BeforeEach(func() {
			result = Result{Advisory: "Compare plan ### B with tariff C#"}
		})

		It("should leave nothing that merges with the record separator", func() {
			Expect(summary).NotTo(ContainSubstring("###"))
			Expect(summary).To(HaveSuffix("Advice: Compare plan # B with tariff C"))
		})
	})
})
