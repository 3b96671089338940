package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/mailmesh/src/common"
	"github.com/sirupsen/logrus"
)

const deliveryPrefix = "delivery"

// ErrClosed is returned by the methods of a BadgerStore after Close.
var ErrClosed = errors.New("store closed")

// BadgerStore is an implementation of the Store interface that uses an
// InmemStore for caching and a BadgerDB to persist deliveries on disk.
type BadgerStore struct {
	sync.RWMutex

	inmemStore *InmemStore
	db         *badger.DB
	path       string
	closed     bool
}

// NewBadgerStore opens an existing database or creates a new one if nothing
// is found in path. Indexes carry on from the last delivery in the database.
func NewBadgerStore(cacheSize int, path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(cacheSize),
		db:         handle,
		path:       path,
	}

	last, err := store.dbLastIndex()
	if err != nil {
		handle.Close()
		return nil, err
	}
	store.inmemStore.reset(last)

	return store, nil
}

/*******************************************************************************
Keys
*******************************************************************************/

func deliveryKey(index int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", deliveryPrefix, index))
}

func deliveryIndex(key []byte) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(string(key), deliveryPrefix+"_"))
}

/*******************************************************************************
Implement the Store interface
*******************************************************************************/

// Append writes the delivery to the database before caching it.
func (s *BadgerStore) Append(d Delivery) (int, error) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return -1, ErrClosed
	}

	index := s.inmemStore.LastIndex() + 1

	if err := s.dbSetDelivery(index, d); err != nil {
		return -1, err
	}

	return s.inmemStore.Append(d)
}

// Deliveries tries the cache first and falls back to the database when the
// requested deliveries have rolled out of it.
func (s *BadgerStore) Deliveries(skip int) ([]Delivery, error) {
	s.RLock()
	defer s.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	res, err := s.inmemStore.Deliveries(skip)
	if err != nil && common.IsStore(err, common.TooLate) {
		res, err = s.dbDeliveries(skip)
	}

	return res, err
}

// LastIndex implements the Store interface.
func (s *BadgerStore) LastIndex() int {
	return s.inmemStore.LastIndex()
}

// Close closes the database. Further calls return nil.
func (s *BadgerStore) Close() error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// StorePath returns the path of the database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func (s *BadgerStore) dbSetDelivery(index int, d Delivery) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	val, err := d.Marshal()
	if err != nil {
		return err
	}

	//insert [index] => [delivery bytes]
	if err := tx.Set(deliveryKey(index), val); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *BadgerStore) dbDeliveries(skip int) ([]Delivery, error) {
	res := []Delivery{}
	prefix := []byte(deliveryPrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(deliveryKey(skip + 1)); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				var d Delivery
				if err := d.Unmarshal(data); err != nil {
					return err
				}
				res = append(res, d)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})

	return res, err
}

// dbLastIndex returns the index of the last delivery in the database, or -1
// if there is none.
func (s *BadgerStore) dbLastIndex() (int, error) {
	last := -1
	prefix := []byte(deliveryPrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		// "~" sorts after every digit
		it.Seek(append(prefix, '~'))
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		index, err := deliveryIndex(it.Item().Key())
		if err != nil {
			return err
		}
		last = index

		return nil
	})

	return last, err
}
