package ledger

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

// DefaultKey is the key the ledger blob lives under
const DefaultKey = "ScannedBills"

// IDGenerator generates record IDs
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// Ledger is the append-only history of bill analyses
type Ledger struct {
	store  Store
	key    string
	ids    IDGenerator
	logger *slog.Logger
}

// New creates a Ledger over store using random UUIDs for record IDs
func New(store Store, key string) *Ledger {
	return NewWithDeps(store, key, uuidGenerator{}, slog.Default())
}

// NewWithDeps creates a Ledger with custom dependencies. Nil ids or logger fall back to the defaults.
func NewWithDeps(store Store, key string, ids IDGenerator, logger *slog.Logger) *Ledger {
	if key == "" {
		key = DefaultKey
	}
	if ids == nil {
		ids = uuidGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		key:    key,
		ids:    ids,
		logger: logger.With("component", "ledger"),
	}
}

// Append adds record to the end of the ledger. The record ID is not stored.
// Existing entries are carried over untouched, including ones that no longer decode.
func (l *Ledger) Append(record Record) error {
	entry, err := encodeEntry(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	err = l.store.Update(l.key, func(current string) (string, error) {
		return appendEntry(current, entry), nil
	})
	if err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	l.logger.Info("Bill analysis saved", "timestamp", record.Timestamp)
	return nil
}

// ListAll returns every readable record, most recent first. Records captured in the
// same minute come back in reverse append order. IDs are assigned fresh on each call.
func (l *Ledger) ListAll() ([]Record, error) {
	blob, err := l.store.Get(l.key)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	entries, skipped := decode(blob)
	for _, raw := range skipped {
		l.logger.Warn("Skipping unreadable ledger entry", "entry", truncate(raw, 64))
	}

	slices.SortFunc(entries, func(a, b decoded) int {
		if c := b.at.Compare(a.at); c != 0 {
			return c
		}
		return b.index - a.index
	})

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		r := e.record
		r.ID = l.ids.Generate()
		records = append(records, r)
	}
	return records, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
