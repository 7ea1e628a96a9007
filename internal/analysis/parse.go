package analysis

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
)

// ErrMalformedResponse is returned when the analyzer response is not a JSON object
var ErrMalformedResponse = errors.New("malformed response")

// Lookup paths, first match wins. The response shape has changed over time and not
// every deployment emits every field.
var (
	providerPaths    = []string{"provider", "company", "invoice.provider"}
	invoiceDatePaths = []string{"invoice_date", "invoice.invoice_date", "date"}
	dueDatePaths     = []string{"due_date", "last_payment_date", "invoice.due_date"}
	totalPaths       = []string{"total_amount", "total", "invoice.total_amount"}
	consumptionPaths = []string{"analysis.total_consumption", "total_consumption"}
	averageCostPaths = []string{"analysis.average_cost", "analysis.avg_cost", "average_cost"}
	advisoryPaths    = []string{"analysis.advice", "analysis.comment", "advice", "ai_comment"}
)

// tariff keys as the backend names them under items.<tariff>.index.fark
const (
	tariffDay   = "gunduz"
	tariffPeak  = "puant"
	tariffNight = "gece"
)

// Parse extracts a Result from an analyzer response. Missing fields are left absent;
// only a document that is not a JSON object fails.
func Parse(raw []byte) (Result, error) {
	doc, err := normalize(raw)
	if err != nil {
		return Result{}, err
	}
	root := gjson.ParseBytes(doc)

	result := Result{
		Provider:         firstString(root, providerPaths),
		InvoiceDate:      firstString(root, invoiceDatePaths),
		DueDate:          firstString(root, dueDatePaths),
		TotalAmount:      firstNumber(root, totalPaths),
		TotalConsumption: firstNumber(root, consumptionPaths),
		AverageCost:      firstNumber(root, averageCostPaths),
		Tariffs: TariffDeltas{
			Day:   tariffDelta(root, tariffDay),
			Peak:  tariffDelta(root, tariffPeak),
			Night: tariffDelta(root, tariffNight),
		},
	}

	if advisory := firstString(root, advisoryPaths); advisory != nil {
		result.Advisory = *advisory
	} else {
		result.Advisory = AdvisoryPlaceholder
	}
	return result, nil
}

// normalize strips markdown fences and surrounding prose, tolerates comments and
// trailing commas, and checks that what remains is a JSON object
func normalize(raw []byte) ([]byte, error) {
	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "[") {
		return nil, fmt.Errorf("%w: top level is not an object", ErrMalformedResponse)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	doc := jsonc.ToJSON([]byte(text[start : end+1]))

	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	if !gjson.ParseBytes(doc).IsObject() {
		return nil, fmt.Errorf("%w: top level is not an object", ErrMalformedResponse)
	}
	return doc, nil
}

func tariffDelta(root gjson.Result, tariff string) *float64 {
	return number(root.Get("items." + tariff + ".index.fark"))
}

func firstString(root gjson.Result, paths []string) *string {
	for _, p := range paths {
		res := root.Get(p)
		switch res.Type {
		case gjson.String, gjson.Number:
			s := strings.TrimSpace(res.String())
			if s != "" {
				return &s
			}
		}
	}
	return nil
}

func firstNumber(root gjson.Result, paths []string) *float64 {
	for _, p := range paths {
		if v := number(root.Get(p)); v != nil {
			return v
		}
	}
	return nil
}

// number reads a JSON number or a numeric string such as "245,67 TL"
func number(res gjson.Result) *float64 {
	var v float64
	switch res.Type {
	case gjson.Number:
		v = res.Float()
	case gjson.String:
		parsed, ok := parseNumericString(res.String())
		if !ok {
			return nil
		}
		v = parsed
	default:
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseNumericString(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	s = fields[0]

	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case comma > dot:
		// 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma != -1:
		// 1,234.56
		s = strings.ReplaceAll(s, ",", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
