package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// boltStore implements a Store backed by BoltDB with one bucket per namespace.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Get returns the JSON value stored under key in the namespace bucket.
func (b *boltStore) Get(namespace, key string) (json.RawMessage, bool) {
	if b == nil || b.db == nil {
		return nil, false
	}
	ns, err := sanitizeNamespace(namespace)
	if err != nil {
		return nil, false
	}

	var out json.RawMessage
	_ = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		value := bucket.Get([]byte(key))
		if value == nil || !json.Valid(value) {
			return nil
		}
		// bbolt values are only valid for the life of the transaction.
		out = append(json.RawMessage(nil), value...)
		return nil
	})
	return out, out != nil
}

// Save stores value as JSON under key, creating the namespace bucket on demand.
func (b *boltStore) Save(namespace, key string, value any) error {
	if b == nil || b.db == nil {
		return nil
	}
	ns, err := sanitizeNamespace(namespace)
	if err != nil {
		return err
	}
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s/%s: %w", ns, key, err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return fmt.Errorf("init bucket %s: %w", ns, err)
		}
		return bucket.Put([]byte(key), raw)
	})
}
