package net

import (
	"net"
	"time"
)

// StreamLayer is used with the NetworkTransport to provide the low level stream
// abstraction. Endpoints are named after node identities.
type StreamLayer interface {
	// Listen binds the endpoint named after id.
	Listen(id int32) (net.Listener, error)

	// Dial is used to create a new outgoing connection to the endpoint of id.
	// It fails with ErrNotFound when no such endpoint is bound.
	Dial(id int32, timeout time.Duration) (net.Conn, error)

	// Unlink removes the name of the endpoint of id.
	Unlink(id int32) error
}
