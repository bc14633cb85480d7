package storage

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store on top of go.etcd.io/bbolt, creating buckets
// on demand the first time they're written to (so a fresh coordinator
// decision log needs no bucket pre-declared up front).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put writes value under key in bucket, creating bucket if needed.
func (s *BoltStore) Put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
		}
		return b.Put([]byte(key), value)
	})
}

// Get reads the value for key in bucket. The second return value is false
// if the bucket or key doesn't exist.
func (s *BoltStore) Get(bucket, key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		out = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %s/%s: %w", bucket, key, err)
	}
	return out, found, nil
}

// Delete removes key from bucket. It is not an error for the key or
// bucket to not exist.
func (s *BoltStore) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// ForEach iterates over every key/value pair in bucket in bbolt's
// byte-sorted key order. It is a no-op if bucket doesn't exist.
func (s *BoltStore) ForEach(bucket string, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}
