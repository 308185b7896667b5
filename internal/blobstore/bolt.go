// Package blobstore keeps durable artifacts (transaction id pools and rendered
// checks) in a BoltDB file.
package blobstore

import (
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

const (
	BucketPools  = "transaction_pools"
	BucketChecks = "refund_checks"
)

var ErrNotFound = errors.New("blob not found")

type Store interface {
	Put(bucket, key string, data []byte) error
	Get(bucket, key string) ([]byte, error)
}

type BoltStore struct {
	db *bolt.DB
}

// Open opens (or creates) the blob file and ensures the known buckets exist.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{BucketPools, BucketChecks} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put overwrites the value stored under key.
func (s *BoltStore) Put(bucket, key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Get returns a copy of the stored value; bolt memory is only valid inside
// the transaction.
func (s *BoltStore) Get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}
