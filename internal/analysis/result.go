package analysis

// AdvisoryPlaceholder is shown when the analyzer returned no advice text
const AdvisoryPlaceholder = "No advice was returned for this bill."

// TariffDeltas holds per-tariff index differences. Any subset may be absent.
type TariffDeltas struct {
	Day   *float64 `json:"day_rate,omitempty"`
	Peak  *float64 `json:"peak_rate,omitempty"`
	Night *float64 `json:"night_rate,omitempty"`
}

// Empty reports whether no tariff delta was present
func (t TariffDeltas) Empty() bool {
	return t.Day == nil && t.Peak == nil && t.Night == nil
}

// Result is the parsed outcome of one analyzer call. Numeric fields are nil when the
// analyzer did not report them; zero is a real value.
type Result struct {
	Provider         *string      `json:"provider,omitempty"`
	InvoiceDate      *string      `json:"invoice_date,omitempty"`
	DueDate          *string      `json:"due_date,omitempty"`
	TotalAmount      *float64     `json:"total_amount,omitempty"`
	Tariffs          TariffDeltas `json:"tariffs"`
	TotalConsumption *float64     `json:"total_consumption,omitempty"`
	AverageCost      *float64     `json:"average_cost,omitempty"`
	Advisory         string       `json:"advisory"`
}
