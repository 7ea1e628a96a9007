package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// RecordSeparator joins entries in the stored blob
	RecordSeparator = "###"
	// FieldSeparator splits an entry into timestamp and summary. Only the first one counts.
	FieldSeparator = "|"
)

var (
	// ErrSentinelInSummary is returned for a summary that would split into extra entries on read.
	// The stored format has no escaping, so such text is refused instead of rewritten.
	ErrSentinelInSummary = errors.New("summary contains the record separator")
	// ErrBadTimestamp is returned when a record's timestamp does not parse
	ErrBadTimestamp = errors.New("record timestamp does not parse")
)

// encodeEntry renders one record as "timestamp|summary"
func encodeEntry(r Record) (string, error) {
	if _, err := time.Parse(TimestampLayout, r.Timestamp); err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadTimestamp, r.Timestamp)
	}
	// A trailing '#' would merge with the separator of the next append
	if strings.Contains(r.Summary, RecordSeparator) || strings.HasSuffix(r.Summary, "#") {
		return "", ErrSentinelInSummary
	}
	return r.Timestamp + FieldSeparator + r.Summary, nil
}

// appendEntry adds an encoded entry to an existing blob. Older writers did not refuse a
// trailing '#', so a blob ending in one gets a newline first to keep the separator intact.
func appendEntry(blob, entry string) string {
	if blob == "" {
		return entry
	}
	if strings.HasSuffix(blob, "#") {
		blob += "\n"
	}
	return blob + RecordSeparator + entry
}

// decoded is an entry read back from the blob, in storage order
type decoded struct {
	record Record
	at     time.Time
	index  int
}

// decode splits the blob into entries. Entries without a field separator or with an
// unparseable timestamp are returned in skipped rather than failing the read.
func decode(blob string) (entries []decoded, skipped []string) {
	if blob == "" {
		return nil, nil
	}
	for _, raw := range strings.Split(blob, RecordSeparator) {
		if raw == "" {
			continue
		}
		timestamp, summary, ok := strings.Cut(raw, FieldSeparator)
		if !ok {
			skipped = append(skipped, raw)
			continue
		}
		at, err := time.ParseInLocation(TimestampLayout, timestamp, time.Local)
		if err != nil {
			skipped = append(skipped, raw)
			continue
		}
		entries = append(entries, decoded{
			record: Record{Timestamp: timestamp, Summary: summary},
			at:     at,
			index:  len(entries),
		})
	}
	return entries, skipped
}
