package peers

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Prober tells whether a peer identity is currently live.
type Prober interface {
	Alive(id int32) bool
}

// ProberFunc is an adapter to use an ordinary function as a Prober.
type ProberFunc func(id int32) bool

// Alive calls f(id).
func (f ProberFunc) Alive(id int32) bool {
	return f(id)
}

// ProcessProber treats identities as process ids and probes them with a null
// signal.
type ProcessProber struct{}

// Alive returns true if a process with the given pid exists. A process owned
// by another user answers EPERM, which still means it is running.
func (ProcessProber) Alive(id int32) bool {
	if id <= 0 {
		return false
	}

	err := unix.Kill(int(id), 0)
	if err == nil {
		return true
	}

	return errors.Is(err, unix.EPERM)
}
