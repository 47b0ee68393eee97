// Package store keeps harness state that must survive between runs.
package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path.
func Open(path string, logger *log.Entry) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if logger != nil {
		opts = opts.WithLogger(logger)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway database.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) KeyExists(key string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// GetKeyValue returns "" for a missing key.
func (s *Store) GetKeyValue(key string) (string, error) {
	value := ""
	err := s.db.View(func(txn *badger.Txn) error {
		val, err := GetKeyValueTX(txn, key)
		if err != nil {
			return err
		}
		value = val
		return nil
	})
	return value, err
}

func (s *Store) SetKey(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// GetIntKey returns ok=false for a missing key.
func (s *Store) GetIntKey(key string) (value int, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		value, ok, err = GetIntKeyTX(txn, key)
		return err
	})
	return value, ok, err
}

// IncrementKey adds delta to an integer key, starting from zero, and returns
// the new value.
func (s *Store) IncrementKey(key string, delta int) (int, error) {
	next := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		current, _, err := GetIntKeyTX(txn, key)
		if err != nil {
			return err
		}
		next = current + delta
		return txn.Set([]byte(key), []byte(strconv.Itoa(next)))
	})
	return next, err
}

func (s *Store) SetIfNotExists(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return SetIfNotExistsTX(txn, key, value)
	})
}

// Iterate calls fn for every key with the given prefix, in key order.
func (s *Store) Iterate(prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.Key()), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func GetKeyValueTX(txn *badger.Txn, key string) (string, error) {
	val, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", nil
		}
		return "", err
	}
	v, err := val.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func GetIntKeyTX(txn *badger.Txn, key string) (int, bool, error) {
	v, err := GetKeyValueTX(txn, key)
	if err != nil || v == "" {
		return 0, false, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false, err
	}
	return i, true, nil
}

func SetIfNotExistsTX(txn *badger.Txn, key, value string) error {
	_, err := txn.Get([]byte(key))
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set([]byte(key), []byte(value))
}
