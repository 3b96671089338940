// Package net implements the mailbox transports used by mailmesh nodes, and the
// fixed-width record they exchange.
//
// A mailbox is a named, bounded queue of fixed-size records. Its name is
// derived from the identity of the node that owns it, so any process that knows
// an identity can try to open the corresponding mailbox. Sends and receives
// never block: a full queue yields ErrFull, an empty one ErrEmpty, and a
// mailbox that disappeared after being opened yields ErrPeerGone.
//
// Arrival notifications are one-shot. After Arm, the next record that lands in
// the mailbox produces a single value on Notifications; the owner must drain
// the queue and call Arm again, otherwise it will not be woken up anymore.
//
// There are two implementations of the Transport interface:
//
// - Inmem: mailboxes shared through an InmemNamespace, used for testing and
// for running several nodes inside one process.
//
// - Network: mailboxes bound to a StreamLayer. The UnixStreamLayer names every
// mailbox <dir>/<id>_queue.sock, so the directory plays the role of the shared
// name space across processes on one host.
//
// Record
//
// Every record is RecordSize bytes: lastHop, origin, destination and kind as
// big-endian int32, followed by a zero-padded 20-byte payload. Longer payloads
// are truncated by the encoder.
package net
