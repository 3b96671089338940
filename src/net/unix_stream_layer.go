package net

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// UnixStreamLayer implements the StreamLayer interface with unix domain
// sockets. The socket of identity 42 is <dir>/42_queue.sock.
type UnixStreamLayer struct {
	dir string
}

// NewUnixStreamLayer returns a stream layer rooted at dir. The directory is
// the shared name space: nodes can only discover each other through the same
// dir.
func NewUnixStreamLayer(dir string) *UnixStreamLayer {
	return &UnixStreamLayer{dir: dir}
}

// Path returns the socket path of id.
func (u *UnixStreamLayer) Path(id int32) string {
	return filepath.Join(u.dir, fmt.Sprintf("%d_queue.sock", id))
}

// Listen implements the StreamLayer interface. A leftover socket file whose
// owner no longer accepts connections is replaced.
func (u *UnixStreamLayer) Listen(id int32) (net.Listener, error) {
	if err := os.MkdirAll(u.dir, 0700); err != nil {
		return nil, err
	}

	path := u.Path(id)

	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, 100*time.Millisecond); err == nil {
			conn.Close()
			return nil, fmt.Errorf("mailbox %d is bound by another process", id)
		}
		if err := retryInterrupted(func() error { return os.Remove(path) }); err != nil {
			return nil, err
		}
	}

	var list net.Listener
	err := retryInterrupted(func() (err error) {
		list, err = net.Listen("unix", path)
		return err
	})
	if err != nil {
		return nil, err
	}

	return list, nil
}

// Dial implements the StreamLayer interface.
func (u *UnixStreamLayer) Dial(id int32, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", u.Path(id), timeout)
	if err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, err
	}
	return conn, nil
}

// Unlink implements the StreamLayer interface.
func (u *UnixStreamLayer) Unlink(id int32) error {
	err := retryInterrupted(func() error { return os.Remove(u.Path(id)) })
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// retryInterrupted runs f until it returns something other than EINTR.
func retryInterrupted(f func() error) error {
	for {
		err := f()
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// NewUnixTransport returns a NetworkTransport that is built on top of a unix
// socket stream layer rooted at dir, with log output going to the supplied
// Logger.
func NewUnixTransport(
	dir string,
	capacity int,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {
	return NewNetworkTransport(NewUnixStreamLayer(dir), capacity, maxPool, timeout, logger)
}
