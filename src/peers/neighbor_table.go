package peers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mosaicnetworks/mailmesh/src/net"
	"go.uber.org/multierr"
)

// DefaultCapacity is the number of neighbors a table holds unless told
// otherwise.
const DefaultCapacity = 5

var (
	// ErrCapacityExceeded is returned by Register when the table is full.
	ErrCapacityExceeded = errors.New("neighbor table full")

	// ErrUnknownNeighbor is returned by Lookup when there is no entry for the
	// identity, or when the peer is no longer live.
	ErrUnknownNeighbor = errors.New("unknown neighbor")
)

// NeighborTable is a bounded, insertion-ordered set of neighbors. It is safe
// for concurrent use.
type NeighborTable struct {
	sync.RWMutex

	capacity  int
	neighbors []*Neighbor
	byID      map[int32]int

	trans  net.Transport
	prober Prober
}

// NewNeighborTable creates an empty table. Outboxes are opened through trans
// and liveness is checked with prober.
func NewNeighborTable(capacity int, trans net.Transport, prober Prober) *NeighborTable {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &NeighborTable{
		capacity:  capacity,
		neighbors: make([]*Neighbor, 0, capacity),
		byID:      make(map[int32]int),
		trans:     trans,
		prober:    prober,
	}
}

// Register opens an outbox on the peer's mailbox and appends a new entry. If
// the peer is already registered, its existing index is returned and nothing
// is opened. A full table is left unchanged and ErrCapacityExceeded returned.
// If the peer has no mailbox, the error wraps net.ErrNotFound.
func (t *NeighborTable) Register(id int32) (int, error) {
	t.Lock()
	defer t.Unlock()

	if idx, ok := t.byID[id]; ok {
		return idx, nil
	}

	if len(t.neighbors) >= t.capacity {
		return -1, fmt.Errorf("registering %d: %w (%d)", id, ErrCapacityExceeded, t.capacity)
	}

	out, err := t.trans.Open(id)
	if err != nil {
		return -1, fmt.Errorf("registering %d: %w", id, err)
	}

	t.neighbors = append(t.neighbors, &Neighbor{ID: id, Outbox: out})
	idx := len(t.neighbors) - 1
	t.byID[id] = idx

	return idx, nil
}

// Lookup returns the neighbor registered for id, provided the peer is live.
// Stale entries are kept in the table.
func (t *NeighborTable) Lookup(id int32) (*Neighbor, error) {
	t.RLock()
	idx, ok := t.byID[id]
	var n *Neighbor
	if ok {
		n = t.neighbors[idx]
	}
	t.RUnlock()

	if !ok || !t.prober.Alive(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNeighbor, id)
	}

	return n, nil
}

// Contains reports whether id has an entry, live or not.
func (t *NeighborTable) Contains(id int32) bool {
	t.RLock()
	defer t.RUnlock()

	_, ok := t.byID[id]
	return ok
}

// ForEachLiveExcept returns, in insertion order, the live neighbors whose
// identity is not in exclude.
func (t *NeighborTable) ForEachLiveExcept(exclude ...int32) []*Neighbor {
	res := []*Neighbor{}

	for _, n := range t.Neighbors() {
		if containsID(exclude, n.ID) {
			continue
		}
		if !t.prober.Alive(n.ID) {
			continue
		}
		res = append(res, n)
	}

	return res
}

// Neighbors returns a snapshot of every entry, live or not.
func (t *NeighborTable) Neighbors() []*Neighbor {
	t.RLock()
	defer t.RUnlock()

	res := make([]*Neighbor, len(t.neighbors))
	copy(res, t.neighbors)
	return res
}

// IDs returns the identities of every entry, in insertion order.
func (t *NeighborTable) IDs() []int32 {
	t.RLock()
	defer t.RUnlock()

	res := make([]int32, len(t.neighbors))
	for i, n := range t.neighbors {
		res[i] = n.ID
	}
	return res
}

// Len returns the number of entries.
func (t *NeighborTable) Len() int {
	t.RLock()
	defer t.RUnlock()

	return len(t.neighbors)
}

// Capacity returns the maximum number of entries.
func (t *NeighborTable) Capacity() int {
	return t.capacity
}

// Close releases every outbox. The entries themselves are left in place.
func (t *NeighborTable) Close() error {
	t.Lock()
	defer t.Unlock()

	var err error
	for _, n := range t.neighbors {
		err = multierr.Append(err, n.Outbox.Close())
	}
	return err
}

func containsID(ids []int32, id int32) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}
