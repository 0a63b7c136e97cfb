// Package db is the badger key/value store behind the local job catalog.
// Keys are a namespace prefix followed by a key; values are JSON.
package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("key not found")

type Store struct {
	db *badger.DB
}

// NewStore opens (or creates) the database under dataDir/badger.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := get(txn, namespace+key)
		value = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Set(namespace, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(namespace+key), value)
	})
}

func (s *Store) Delete(namespace, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(namespace + key))
	})
}

// GetJSON decodes the value at namespace+key into v.
func (s *Store) GetJSON(namespace, key string, v any) error {
	data, err := s.Get(namespace, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s%s: %w", namespace, key, err)
	}
	return nil
}

func (s *Store) SetJSON(namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s%s: %w", namespace, key, err)
	}
	return s.Set(namespace, key, data)
}

// Update runs fn on the current value (nil when absent) inside one
// transaction and stores what it returns. Badger retries are left to the
// caller; a conflicting writer surfaces as badger.ErrConflict.
func (s *Store) Update(namespace, key string, fn func(current []byte) ([]byte, error)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		current, err := get(txn, namespace+key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		return txn.Set([]byte(namespace+key), next)
	})
}

// List returns the keys under namespace+prefix with the namespace removed.
// A limit of zero or less means no limit.
func (s *Store) List(namespace, prefix string, limit int) ([]string, error) {
	var keys []string
	err := s.Scan(namespace, prefix, func(key string, _ []byte) error {
		keys = append(keys, key)
		if limit > 0 && len(keys) >= limit {
			return errStopScan
		}
		return nil
	})
	return keys, err
}

var errStopScan = errors.New("stop scan")

// Scan calls fn for every entry under namespace+prefix in key order. The
// value slice is only valid during the call.
func (s *Store) Scan(namespace, prefix string, fn func(key string, value []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		full := []byte(namespace + prefix)
		for it.Seek(full); it.ValidForPrefix(full); it.Next() {
			item := it.Item()
			key := string(item.Key())[len(namespace):]
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errStopScan) {
		return nil
	}
	return err
}

func get(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
