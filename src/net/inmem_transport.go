package net

import (
	"sync"
)

// InmemNamespace is the shared name space of in-memory mailboxes. Every
// InmemTransport attached to the same namespace can open the mailboxes the
// others created.
type InmemNamespace struct {
	sync.RWMutex
	mailboxes map[int32]*InmemMailbox
	capacity  int
}

// NewInmemNamespace creates an empty namespace whose mailboxes hold capacity
// records. A non-positive capacity selects DefaultQueueCapacity.
func NewInmemNamespace(capacity int) *InmemNamespace {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &InmemNamespace{
		mailboxes: make(map[int32]*InmemMailbox),
		capacity:  capacity,
	}
}

// Alive reports whether a mailbox named after id currently exists. It lets
// the namespace stand in for a process liveness probe in tests.
func (ns *InmemNamespace) Alive(id int32) bool {
	ns.RLock()
	defer ns.RUnlock()
	_, ok := ns.mailboxes[id]
	return ok
}

// Len returns the number of records queued in the mailbox of id, or -1 if
// there is no such mailbox.
func (ns *InmemNamespace) Len(id int32) int {
	ns.RLock()
	mb, ok := ns.mailboxes[id]
	ns.RUnlock()
	if !ok {
		return -1
	}
	return mb.queue.len()
}

func (ns *InmemNamespace) remove(mb *InmemMailbox) {
	ns.Lock()
	defer ns.Unlock()
	if cur, ok := ns.mailboxes[mb.id]; ok && cur == mb {
		delete(ns.mailboxes, mb.id)
	}
}

// InmemTransport implements the Transport interface, to allow nodes to be
// tested in-memory without going through the operating system.
type InmemTransport struct {
	sync.Mutex
	ns       *InmemNamespace
	owned    map[int32]*InmemMailbox
	shutdown bool
}

// NewInmemTransport returns a transport attached to ns.
func NewInmemTransport(ns *InmemNamespace) *InmemTransport {
	return &InmemTransport{
		ns:    ns,
		owned: make(map[int32]*InmemMailbox),
	}
}

// Create implements the Transport interface.
func (i *InmemTransport) Create(id int32) (Mailbox, error) {
	i.Lock()
	defer i.Unlock()

	if i.shutdown {
		return nil, ErrTransportShutdown
	}

	i.ns.Lock()
	defer i.ns.Unlock()

	mb, ok := i.ns.mailboxes[id]
	if !ok {
		mb = &InmemMailbox{
			id:    id,
			ns:    i.ns,
			queue: newRecordQueue(i.ns.capacity),
		}
		i.ns.mailboxes[id] = mb
	}
	i.owned[id] = mb

	return mb, nil
}

// Open implements the Transport interface.
func (i *InmemTransport) Open(id int32) (Outbox, error) {
	i.Lock()
	shutdown := i.shutdown
	i.Unlock()

	if shutdown {
		return nil, ErrTransportShutdown
	}

	i.ns.RLock()
	mb, ok := i.ns.mailboxes[id]
	i.ns.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	return &inmemOutbox{peer: id, queue: mb.queue}, nil
}

// Close is used to permanently disable the transport. Mailboxes created
// through it and not yet destroyed are destroyed.
func (i *InmemTransport) Close() error {
	i.Lock()
	defer i.Unlock()

	if i.shutdown {
		return nil
	}
	i.shutdown = true

	for id, mb := range i.owned {
		mb.Destroy()
		delete(i.owned, id)
	}
	return nil
}

// InmemMailbox is a mailbox living in an InmemNamespace.
type InmemMailbox struct {
	id    int32
	ns    *InmemNamespace
	queue *recordQueue
}

// ID implements the Mailbox interface.
func (m *InmemMailbox) ID() int32 {
	return m.id
}

// TryReceive implements the Mailbox interface.
func (m *InmemMailbox) TryReceive() (Message, error) {
	return m.queue.pop()
}

// Arm implements the Mailbox interface.
func (m *InmemMailbox) Arm() error {
	return m.queue.arm()
}

// Notifications implements the Mailbox interface.
func (m *InmemMailbox) Notifications() <-chan struct{} {
	return m.queue.notifyCh
}

// Destroy implements the Mailbox interface.
func (m *InmemMailbox) Destroy() error {
	m.ns.remove(m)
	m.queue.close()
	return nil
}

type inmemOutbox struct {
	peer  int32
	queue *recordQueue
}

func (o *inmemOutbox) Peer() int32 {
	return o.peer
}

func (o *inmemOutbox) TrySend(msg Message) error {
	return o.queue.push(msg)
}

func (o *inmemOutbox) Close() error {
	return nil
}
