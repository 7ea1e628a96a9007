package ledger

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "prefs"

// Store is a string-valued key/value store owned by the host
type Store interface {
	// Get returns the value for key, or "" when the key has never been written
	Get(key string) (string, error)
	// Update replaces the value for key with fn(current) in one atomic step.
	// Nothing is written if fn returns an error.
	Update(key string, fn func(current string) (string, error)) error
	// Close closes the store
	Close() error
}

// BoltStore implements Store using BoltDB. Bolt allows a single writer at a time and
// readers see the last committed value, so a half-written blob is never observed.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) a BoltStore at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get returns the stored value for key
func (b *BoltStore) Get(key string) (string, error) {
	var value string
	err := b.db.View(func(tx *bbolt.Tx) error {
		// Bolt's slices are only valid inside the transaction, string() copies
		value = string(tx.Bucket([]byte(bucketName)).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

// Update rewrites the value for key inside a single write transaction
func (b *BoltStore) Update(key string, fn func(current string) (string, error)) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		next, err := fn(string(bucket.Get([]byte(key))))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), []byte(next))
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
