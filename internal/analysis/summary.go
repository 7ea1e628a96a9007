package analysis

import (
	"fmt"
	"strconv"
	"strings"
)

// Summarize renders a Result as the multi-line text stored in the ledger.
// The first line names the bill; the second is the total when one is known.
func Summarize(r Result) string {
	var lines []string

	title := "Unknown provider bill"
	if r.Provider != nil {
		title = *r.Provider + " bill"
	}
	if r.InvoiceDate != nil {
		title += " - " + *r.InvoiceDate
	}
	lines = append(lines, title)

	if r.TotalAmount != nil {
		lines = append(lines, fmt.Sprintf("Total: %.2f", *r.TotalAmount))
	}
	if r.DueDate != nil {
		lines = append(lines, "Due date: "+*r.DueDate)
	}
	if r.TotalConsumption != nil {
		lines = append(lines, "Consumption: "+formatNumber(*r.TotalConsumption))
	}
	if r.AverageCost != nil {
		lines = append(lines, "Average cost: "+formatNumber(*r.AverageCost))
	}
	if r.Tariffs.Day != nil {
		lines = append(lines, "Day rate change: "+formatDelta(*r.Tariffs.Day))
	}
	if r.Tariffs.Peak != nil {
		lines = append(lines, "Peak rate change: "+formatDelta(*r.Tariffs.Peak))
	}
	if r.Tariffs.Night != nil {
		lines = append(lines, "Night rate change: "+formatDelta(*r.Tariffs.Night))
	}

	advisory := plainText(r.Advisory)
	if advisory == "" {
		advisory = AdvisoryPlaceholder
	}
	lines = append(lines, "Advice: "+advisory)

	return strings.Join(lines, "\n")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDelta(v float64) string {
	if v > 0 {
		return "+" + formatNumber(v)
	}
	return formatNumber(v)
}

// plainText drops markdown heading markers that LLM analyzers like to emit
func plainText(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#") {
			line = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		lines[i] = line
	}
	text := strings.Join(lines, "\n")
	for strings.Contains(text, "###") {
		text = strings.ReplaceAll(text, "###", "#")
	}
	// A trailing '#' (as in "C#") would run into the ledger's record separator
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(text), "#"))
}
