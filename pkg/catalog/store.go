package catalog

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// recordPrefix namespaces catalog rows in the key-value store.
const recordPrefix = "catalog:"

// Record is one persisted catalog row.
type Record struct {
	Path        string
	Fingerprint []byte
	Provider    string
	Content     string
	AddedAt     time.Time
}

// Store persists catalog rows. Implementations must tolerate rows whose
// files no longer exist.
type Store interface {
	Get(path string) (Record, bool, error)
	Put(rec Record) error
	Delete(path string) error
	List() ([]Record, error)
	Close() error
}

// BadgerStore is a Store backed by a badger database.
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) a badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}
	return &BadgerStore{db: db, owned: true}, nil
}

// NewBadgerStore wraps an already open database. Close leaves db open.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func recordKey(path string) []byte {
	return []byte(recordPrefix + path)
}

func (s *BadgerStore) Get(path string) (Record, bool, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return deserialize(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get record %s: %w", path, err)
	}
	return rec, true, nil
}

func (s *BadgerStore) Put(rec Record) error {
	data, err := serialize(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Path, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Path), data)
	})
}

func (s *BadgerStore) Delete(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(path))
	})
}

// List returns every row ordered by path.
func (s *BadgerStore) List() ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func serialize(v any) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(v)
	return buf.Bytes(), err
}

func deserialize(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
