package ledger

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Record", func() {
	Describe("NewRecord", func() {
		It("should format the capture time to the minute", func() {
			r := NewRecord(time.Date(2024, time.November, 5, 9, 7, 59, 0, time.Local), "A")
			Expect(r.Timestamp).To(Equal("05/11/2024 09:07"))
			Expect(r.ID).To(BeEmpty())
		})
	})

	Describe("Headline", func() {
		DescribeTable("building the list line",
			func(summary, want string) {
				Expect(Record{Summary: summary}.Headline()).To(Equal(want))
			},
			Entry("title and total", "ASKI bill\nTotal: 51.20\nAdvice: ok", "ASKI bill - Total: 51.20"),
			Entry("legacy total line", "Fatura\nTutar: 51,20 TL", "Fatura - Tutar: 51,20 TL"),
			Entry("no total line", "ASKI bill\nDue date: 01/02/2025", "ASKI bill"),
			Entry("single line", "ASKI bill", "ASKI bill"),
			Entry("empty summary", "", "Bill analysis"),
		)
	})

	Describe("Kind", func() {
		DescribeTable("classifying the bill",
			func(summary string, want Kind) {
				Expect(Record{Summary: summary}.Kind()).To(Equal(want))
			},
			Entry("electricity", "CK Bogazici Electricity bill", KindElectricity),
			Entry("kwh consumption", "Consumption: 146.5 kWh", KindElectricity),
			Entry("legacy electricity", "Elektrik faturası", KindElectricity),
			Entry("natural gas", "Izmir Natural Gas bill", KindNaturalGas),
			Entry("legacy gas", "Doğalgaz faturası", KindNaturalGas),
			Entry("water", "City Water bill", KindWater),
			Entry("unknown", "Unknown provider bill", KindOther),
		)
	})
})
