package net

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport-level status byte returned for every record. It only tells the
// sender whether the record was queued; it is not a protocol acknowledgement.
const (
	statusAccepted byte = iota
	statusFull
	statusGone
)

/*
NetworkTransport provides mailboxes over a stream layer, so nodes running in
separate processes can exchange records. It requires an underlying stream layer
to provide named endpoints, which can be unix sockets, TCP, etc.

Each record is framed as exactly RecordSize bytes. The receiver answers with a
single status byte telling whether the record was queued or the mailbox was
full, which lets TrySend fail fast with ErrFull instead of blocking.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	connPool     map[int32][]*netConn
	connPoolLock sync.Mutex
	maxPool      int

	mailboxes     map[int32]*netMailbox
	mailboxesLock sync.Mutex
	capacity      int

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout time.Duration
}

type netConn struct {
	target int32
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
}

// Release closes the underlying connection
func (n *netConn) Release() error {
	return n.conn.Close()
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The capacity bounds every mailbox created through it. The maxPool
// controls how many connections we will pool (per target). The timeout is used
// to apply I/O deadlines.
func NewNetworkTransport(
	stream StreamLayer,
	capacity int,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	trans := &NetworkTransport{
		connPool:   make(map[int32][]*netConn),
		mailboxes:  make(map[int32]*netMailbox),
		capacity:   capacity,
		logger:     logger,
		maxPool:    maxPool,
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
	}

	return trans
}

// Close is used to stop the network transport. Mailboxes that are still open
// are destroyed.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if n.shutdown {
		return nil
	}

	close(n.shutdownCh)
	n.shutdown = true

	n.mailboxesLock.Lock()
	mailboxes := make([]*netMailbox, 0, len(n.mailboxes))
	for _, mb := range n.mailboxes {
		mailboxes = append(mailboxes, mb)
	}
	n.mailboxesLock.Unlock()

	for _, mb := range mailboxes {
		mb.Destroy()
	}

	n.connPoolLock.Lock()
	for target, conns := range n.connPool {
		for _, c := range conns {
			c.Release()
		}
		delete(n.connPool, target)
	}
	n.connPoolLock.Unlock()

	return nil
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Create implements the Transport interface.
func (n *NetworkTransport) Create(id int32) (Mailbox, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	n.mailboxesLock.Lock()
	defer n.mailboxesLock.Unlock()

	if mb, ok := n.mailboxes[id]; ok {
		return mb, nil
	}

	list, err := n.stream.Listen(id)
	if err != nil {
		return nil, err
	}

	mb := &netMailbox{
		id:       id,
		trans:    n,
		listener: list,
		queue:    newRecordQueue(n.capacity),
		conns:    make(map[net.Conn]struct{}),
		logger:   n.logger.WithField("mailbox", id),
	}
	n.mailboxes[id] = mb

	go mb.listen()

	return mb, nil
}

// Open implements the Transport interface. It always dials the target, so a
// pooled connection to a mailbox that has since been destroyed cannot hide a
// missing name, and keeps the new connection pooled.
func (n *NetworkTransport) Open(id int32) (Outbox, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn, err := n.dialConn(id, n.timeout)
	if err != nil {
		return nil, err
	}
	n.returnConn(conn)

	return &netOutbox{peer: id, trans: n}, nil
}

// getPooledConn is used to grab a pooled connection.
func (n *NetworkTransport) getPooledConn(target int32) *netConn {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	conns, ok := n.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *netConn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	n.connPool[target] = conns[:num-1]
	return conn
}

// dialConn is used to open a new connection to target.
func (n *NetworkTransport) dialConn(target int32, timeout time.Duration) (*netConn, error) {
	conn, err := n.stream.Dial(target, timeout)
	if err != nil {
		return nil, err
	}

	return &netConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, RecordSize),
		w:      bufio.NewWriterSize(conn, RecordSize),
	}, nil
}

// returnConn returns a connection back to the pool.
func (n *NetworkTransport) returnConn(conn *netConn) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	key := conn.target
	conns := n.connPool[key]

	if !n.IsShutdown() && len(conns) < n.maxPool {
		n.connPool[key] = append(conns, conn)
	} else {
		conn.Release()
	}
}

// dropPool releases every pooled connection to target.
func (n *NetworkTransport) dropPool(target int32) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	for _, c := range n.connPool[target] {
		c.Release()
	}
	delete(n.connPool, target)
}

// send writes one record to target and decodes the status byte. A pooled
// connection that turns out to be dead is replaced by a fresh one once.
func (n *NetworkTransport) send(target int32, msg Message) error {
	if n.IsShutdown() {
		return ErrTransportShutdown
	}

	conn := n.getPooledConn(target)
	pooled := conn != nil

	for {
		if conn == nil {
			var err error
			conn, err = n.dialConn(target, n.timeout)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: %d", ErrPeerGone, target)
				}
				return err
			}
		}

		status, err := sendRecord(conn, msg, n.timeout)
		if err == nil {
			n.returnConn(conn)
			return statusError(status, target)
		}

		conn.Release()
		conn = nil

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %d timed out", ErrFull, target)
		}

		if pooled {
			// the pooled connection may predate a restart of the peer
			pooled = false
			n.dropPool(target)
			continue
		}

		return fmt.Errorf("%w: %d: %v", ErrPeerGone, target, err)
	}
}

// sendRecord is used to encode and send the record, and read back the status.
func sendRecord(conn *netConn, msg Message, timeout time.Duration) (byte, error) {
	if timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(timeout))
	}

	var rec [RecordSize]byte
	msg.MarshalTo(rec[:])

	if _, err := conn.w.Write(rec[:]); err != nil {
		return 0, err
	}
	if err := conn.w.Flush(); err != nil {
		return 0, err
	}

	return conn.r.ReadByte()
}

func statusError(status byte, target int32) error {
	switch status {
	case statusAccepted:
		return nil
	case statusFull:
		return fmt.Errorf("%w: %d", ErrFull, target)
	case statusGone:
		return fmt.Errorf("%w: %d", ErrPeerGone, target)
	default:
		return fmt.Errorf("unknown transport status %d from %d", status, target)
	}
}

type netMailbox struct {
	id       int32
	trans    *NetworkTransport
	listener net.Listener
	queue    *recordQueue
	logger   *logrus.Entry

	connsLock sync.Mutex
	conns     map[net.Conn]struct{}

	destroyOnce sync.Once
}

func (m *netMailbox) ID() int32 {
	return m.id
}

func (m *netMailbox) TryReceive() (Message, error) {
	return m.queue.pop()
}

func (m *netMailbox) Arm() error {
	return m.queue.arm()
}

func (m *netMailbox) Notifications() <-chan struct{} {
	return m.queue.notifyCh
}

// Destroy closes the listener and every inbound connection, then unlinks the
// endpoint name.
func (m *netMailbox) Destroy() error {
	var err error

	m.destroyOnce.Do(func() {
		m.queue.close()

		m.listener.Close()

		m.connsLock.Lock()
		for c := range m.conns {
			c.Close()
		}
		m.conns = map[net.Conn]struct{}{}
		m.connsLock.Unlock()

		err = m.trans.stream.Unlink(m.id)

		m.trans.mailboxesLock.Lock()
		delete(m.trans.mailboxes, m.id)
		m.trans.mailboxesLock.Unlock()

		m.logger.Debug("Mailbox destroyed")
	})

	return err
}

// listen accepts inbound connections until the mailbox is destroyed.
func (m *netMailbox) listen() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.queue.isClosed() || m.trans.IsShutdown() {
				return
			}
			m.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}

		m.connsLock.Lock()
		m.conns[conn] = struct{}{}
		m.connsLock.Unlock()

		// Handle the connection in dedicated routine
		go m.handleConn(conn)
	}
}

// handleConn is used to handle an inbound connection for its lifespan.
func (m *netMailbox) handleConn(conn net.Conn) {
	defer func() {
		m.connsLock.Lock()
		delete(m.conns, conn)
		m.connsLock.Unlock()
		conn.Close()
	}()

	r := bufio.NewReaderSize(conn, RecordSize)
	var rec [RecordSize]byte

	for {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			if err != io.EOF && !m.queue.isClosed() {
				m.logger.WithField("error", err).Debug("Failed to read record")
			}
			return
		}

		var msg Message
		status := statusAccepted

		if err := msg.Unmarshal(rec[:]); err != nil {
			m.logger.WithField("error", err).Error("Dropping malformed record")
			return
		}

		switch err := m.queue.push(msg); {
		case err == nil:
		case errors.Is(err, ErrFull):
			status = statusFull
		default:
			status = statusGone
		}

		if _, err := conn.Write([]byte{status}); err != nil {
			m.logger.WithField("error", err).Debug("Failed to write status")
			return
		}
	}
}

type netOutbox struct {
	peer  int32
	trans *NetworkTransport
}

func (o *netOutbox) Peer() int32 {
	return o.peer
}

func (o *netOutbox) TrySend(msg Message) error {
	return o.trans.send(o.peer, msg)
}

func (o *netOutbox) Close() error {
	return nil
}
