package net

import "sync"

// recordQueue is the bounded FIFO behind a mailbox. Records are stored in
// their encoded form so every message crosses the wire codec, whichever
// transport carries it.
type recordQueue struct {
	sync.Mutex

	records  [][RecordSize]byte
	capacity int

	armed    bool
	notifyCh chan struct{}

	closed bool
}

func newRecordQueue(capacity int) *recordQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &recordQueue{
		records:  make([][RecordSize]byte, 0, capacity),
		capacity: capacity,
		notifyCh: make(chan struct{}, 1),
	}
}

// push enqueues msg and fires the pending notification, if any.
func (q *recordQueue) push(msg Message) error {
	q.Lock()
	defer q.Unlock()

	if q.closed {
		return ErrPeerGone
	}
	if len(q.records) >= q.capacity {
		return ErrFull
	}

	var rec [RecordSize]byte
	msg.MarshalTo(rec[:])
	q.records = append(q.records, rec)

	if q.armed {
		q.armed = false
		select {
		case q.notifyCh <- struct{}{}:
		default:
		}
	}

	return nil
}

// pop dequeues the oldest record.
func (q *recordQueue) pop() (Message, error) {
	q.Lock()
	defer q.Unlock()

	var msg Message

	if q.closed {
		return msg, ErrTransportShutdown
	}
	if len(q.records) == 0 {
		return msg, ErrEmpty
	}

	rec := q.records[0]
	copy(q.records, q.records[1:])
	q.records = q.records[:len(q.records)-1]

	if err := msg.Unmarshal(rec[:]); err != nil {
		return msg, err
	}
	return msg, nil
}

func (q *recordQueue) arm() error {
	q.Lock()
	defer q.Unlock()

	if q.closed {
		return ErrTransportShutdown
	}
	q.armed = true
	return nil
}

func (q *recordQueue) len() int {
	q.Lock()
	defer q.Unlock()
	return len(q.records)
}

func (q *recordQueue) close() {
	q.Lock()
	defer q.Unlock()

	q.closed = true
	q.armed = false
	q.records = nil
}

func (q *recordQueue) isClosed() bool {
	q.Lock()
	defer q.Unlock()
	return q.closed
}
