package ledger

import (
	"strings"
	"time"
)

// TimestampLayout is the capture time format stored with every record (dd/MM/yyyy HH:mm)
const TimestampLayout = "02/01/2006 15:04"

// Record is one ledger entry
type Record struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Summary   string `json:"summary"`
}

// NewRecord builds a record captured at t
func NewRecord(t time.Time, summary string) Record {
	return Record{
		Timestamp: t.Format(TimestampLayout),
		Summary:   summary,
	}
}

// Time parses the record timestamp
func (r Record) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, r.Timestamp, time.Local)
}

// Headline is the one-line form used by list views: the first summary line, plus the
// total line when it directly follows
func (r Record) Headline() string {
	lines := strings.Split(r.Summary, "\n")
	headline := strings.TrimSpace(lines[0])
	if headline == "" {
		headline = "Bill analysis"
	}
	if len(lines) > 1 {
		second := strings.TrimSpace(lines[1])
		if strings.HasPrefix(second, "Total:") || strings.HasPrefix(second, "Tutar:") {
			headline += " - " + second
		}
	}
	return headline
}

// Kind is the utility a bill belongs to
type Kind string

const (
	KindElectricity Kind = "electricity"
	KindNaturalGas  Kind = "natural_gas"
	KindWater       Kind = "water"
	KindOther       Kind = "other"
)

// Kind classifies the bill from its summary text. Older records were written in Turkish.
func (r Record) Kind() Kind {
	text := strings.ToLower(r.Summary)
	switch {
	case containsAny(text, "electric", "elektrik", "kwh"):
		return KindElectricity
	case containsAny(text, "natural gas", "doğalgaz", "dogalgaz"):
		return KindNaturalGas
	case containsAny(text, "water", "su fatura"):
		return KindWater
	default:
		return KindOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
