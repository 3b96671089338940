package net

import "errors"

const (
	// DefaultQueueCapacity is the number of records a mailbox holds before
	// senders get ErrFull.
	DefaultQueueCapacity = 10
)

var (
	// ErrNotFound is returned when opening a mailbox whose name does not exist.
	ErrNotFound = errors.New("mailbox not found")

	// ErrFull is returned by TrySend when the target mailbox is at capacity.
	ErrFull = errors.New("mailbox full")

	// ErrPeerGone is returned by TrySend when the target mailbox was destroyed
	// after it was opened.
	ErrPeerGone = errors.New("peer gone")

	// ErrEmpty is returned by TryReceive when no record is queued.
	ErrEmpty = errors.New("mailbox empty")

	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// IsExpected reports whether err is one of the transport conditions a node
// handles locally instead of aborting: empty queue, full queue, unknown or
// vanished peer.
func IsExpected(err error) bool {
	return errors.Is(err, ErrEmpty) ||
		errors.Is(err, ErrFull) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPeerGone)
}

// Transport provides named, bounded mailboxes addressable by identity.
type Transport interface {
	// Create returns the mailbox owned by id, creating it if necessary. A
	// mailbox that already exists is not an error.
	Create(id int32) (Mailbox, error)

	// Open returns a sending handle to the mailbox of id, or ErrNotFound.
	Open(id int32) (Outbox, error)

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}

// Mailbox is the receiving side of a node's queue.
type Mailbox interface {
	// ID returns the identity the mailbox is named after.
	ID() int32

	// TryReceive dequeues the oldest record, or returns ErrEmpty.
	TryReceive() (Message, error)

	// Arm requests a single wake-up on Notifications the next time a record
	// arrives. It must be called again after every wake-up.
	Arm() error

	// Notifications delivers the wake-ups requested with Arm.
	Notifications() <-chan struct{}

	// Destroy closes the mailbox and removes its name, so later Open calls
	// fail with ErrNotFound.
	Destroy() error
}

// Outbox is a sending handle to another node's mailbox.
type Outbox interface {
	// Peer returns the identity of the mailbox owner.
	Peer() int32

	// TrySend enqueues msg without blocking. It fails with ErrFull or
	// ErrPeerGone.
	TrySend(msg Message) error

	// Close releases the handle. The remote mailbox is unaffected.
	Close() error
}
