package store

import (
	"sync"

	"github.com/mosaicnetworks/mailmesh/src/common"
)

// InmemStore keeps the last deliveries in memory. Once they are rolled out,
// Deliveries fails with a common.TooLate StoreErr.
type InmemStore struct {
	sync.RWMutex

	cacheSize int
	index     *common.RollingIndex[Delivery]
}

// NewInmemStore ...
func NewInmemStore(cacheSize int) *InmemStore {
	return &InmemStore{
		cacheSize: cacheSize,
		index:     common.NewRollingIndex[Delivery]("inbox", cacheSize),
	}
}

// CacheSize returns the size of the rolling window.
func (s *InmemStore) CacheSize() int {
	return s.cacheSize
}

// Append implements the Store interface.
func (s *InmemStore) Append(d Delivery) (int, error) {
	s.Lock()
	defer s.Unlock()

	return s.index.Append(d), nil
}

// Deliveries implements the Store interface.
func (s *InmemStore) Deliveries(skip int) ([]Delivery, error) {
	s.RLock()
	defer s.RUnlock()

	return s.index.Get(skip)
}

// LastIndex implements the Store interface.
func (s *InmemStore) LastIndex() int {
	s.RLock()
	defer s.RUnlock()

	return s.index.LastIndex()
}

// Close implements the Store interface. There is nothing to release.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface. An InmemStore has no path.
func (s *InmemStore) StorePath() string {
	return ""
}

// reset drops the cached deliveries; the next Append gets index
// lastIndex+1.
func (s *InmemStore) reset(lastIndex int) {
	s.Lock()
	defer s.Unlock()

	s.index.Reset(lastIndex)
}
