package node

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/mosaicnetworks/mailmesh/src/config"
	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node/state"
	"github.com/mosaicnetworks/mailmesh/src/peers"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/mosaicnetworks/mailmesh/src/store"
	"github.com/sirupsen/logrus"
)

// ErrNotInitialized is returned by Run when Init was not called, or failed.
var ErrNotInitialized = errors.New("node not initialized")

// NeighborInfo describes an entry of the neighbor table.
type NeighborInfo struct {
	ID   int32 `json:"id"`
	Live bool  `json:"live"`
}

//Node defines a mailmesh node
type Node struct {
	// The node's state is accessed atomically
	state.Manager

	conf   *config.Config
	logger *logrus.Entry

	id int32

	trans   net.Transport
	mailbox net.Mailbox
	table   *peers.NeighborTable
	prober  peers.Prober

	proxy    proxy.ConsoleProxy
	submitCh chan proxy.Request

	leaveCh  chan struct{}
	sigintCh chan os.Signal
	doneCh   chan struct{}

	teardownOnce sync.Once
	teardownErr  error

	store store.Store

	stats   stats
	metrics *metrics

	start time.Time
}

// NewNode is a factory method that returns a Node instance. The node's
// mailbox is created by Init.
func NewNode(conf *config.Config,
	id int32,
	trans net.Transport,
	prober peers.Prober,
	proxy proxy.ConsoleProxy,
) *Node {

	node := &Node{
		conf:     conf,
		logger:   conf.Logger().WithField("this_id", id),
		id:       id,
		trans:    trans,
		table:    peers.NewNeighborTable(conf.MaxNeighbors, trans, prober),
		prober:   prober,
		proxy:    proxy,
		submitCh: proxy.SubmitCh(),
		leaveCh:  make(chan struct{}),
		sigintCh: make(chan os.Signal, 1),
		doneCh:   make(chan struct{}),
		store:    store.NewInmemStore(conf.InboxSize),
	}

	node.metrics = newMetrics(node)

	return node
}

// Init opens the persistent inbox, if configured, then creates the node's
// mailbox and arms its first notification. Any error is fatal.
func (n *Node) Init() error {
	if n.conf.Store {
		if err := n.initBadgerStore(); err != nil {
			return err
		}
	}

	mb, err := n.trans.Create(n.id)
	if err != nil {
		n.logger.WithError(err).Error("Creating mailbox")
		n.store.Close()
		return fmt.Errorf("creating mailbox %d: %w", n.id, err)
	}

	if err := mb.Arm(); err != nil {
		n.logger.WithError(err).Error("Arming mailbox")
		mb.Destroy()
		n.store.Close()
		return fmt.Errorf("arming mailbox %d: %w", n.id, err)
	}
	n.mailbox = mb

	n.start = time.Now()
	n.setState(state.Idle)

	n.logger.WithFields(logrus.Fields{
		"max_neighbors":  n.table.Capacity(),
		"queue_capacity": n.conf.QueueCapacity,
	}).Info("Initialized")

	return nil
}

func (n *Node) initBadgerStore() error {
	path := filepath.Join(n.conf.DatabaseDir, strconv.Itoa(int(n.id)))

	dbStore, err := store.NewBadgerStore(n.conf.InboxSize, path, n.logger)
	if err != nil {
		n.logger.WithError(err).Error("Opening badger store")
		return fmt.Errorf("opening store %s: %w", path, err)
	}
	n.store = dbStore

	n.logger.WithField("path", path).Debug("Using badger store")

	return nil
}

// Connect performs the initiating side of the handshake with peer: it
// registers peer in the local table and sends it a REGISTRATION record. It
// returns an error wrapping proxy.ErrNotLive if peer is not live. It is meant
// to be called between Init and Run.
func (n *Node) Connect(peer int32) error {
	if peer == n.id {
		return fmt.Errorf("connecting to %d: cannot connect to self", peer)
	}

	if !n.prober.Alive(peer) {
		return fmt.Errorf("connecting to %d: %w", peer, proxy.ErrNotLive)
	}

	idx, err := n.table.Register(peer)
	if err != nil {
		return fmt.Errorf("connecting to %d: %w", peer, err)
	}

	n.logger.WithFields(logrus.Fields{
		"peer":  peer,
		"index": idx,
	}).Info("Added neighbor")

	nb, err := n.table.Lookup(peer)
	if err != nil {
		return fmt.Errorf("connecting to %d: %w", peer, err)
	}

	if err := nb.Send(net.NewRegistrationMessage(n.id)); err != nil {
		return fmt.Errorf("connecting to %d: %w", peer, err)
	}

	return nil
}

// Run invokes the main loop of the node. It returns nil once the node has
// left the mesh, and a non-nil error on an unrecoverable transport failure,
// in which case the mailbox is destroyed without notifying the neighbors.
func (n *Node) Run() error {
	if n.mailbox == nil {
		return ErrNotInitialized
	}

	signal.Notify(n.sigintCh, os.Interrupt, syscall.SIGINT)
	defer signal.Stop(n.sigintCh)

	for {
		var err error

		select {
		case <-n.mailbox.Notifications():
			err = n.drain()
		case req := <-n.submitCh:
			err = n.handleRequest(req)
		case <-n.leaveCh:
			n.logger.Debug("Leave requested")
			return n.leave()
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - LEAVE")
			return n.leave()
		}

		if err != nil {
			n.logger.WithError(err).Error("Fatal transport error")
			n.teardown()
			return err
		}

		if n.GetState() == state.Shutdown {
			return n.teardownErr
		}
	}
}

// drain receives records until the mailbox is empty, dispatching each one,
// then re-arms the notification. A record that lands between ErrEmpty and
// Arm is picked up by the receive that follows Arm.
func (n *Node) drain() error {
	n.setState(state.Draining)

	count := 0
	armed := false

	for {
		msg, err := n.mailbox.TryReceive()

		if errors.Is(err, net.ErrEmpty) {
			if armed {
				break
			}
			if err := n.mailbox.Arm(); err != nil {
				return fmt.Errorf("re-arming mailbox: %w", err)
			}
			armed = true
			continue
		}

		if err != nil {
			return fmt.Errorf("receiving: %w", err)
		}

		armed = false
		count++

		done, err := n.dispatch(msg)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	n.logger.WithField("records", count).Debug("Drained")

	n.setState(state.Idle)

	return nil
}

// dispatch handles a single record. It returns true if the record was an
// EXIT, after which the node is torn down.
func (n *Node) dispatch(msg net.Message) (bool, error) {
	n.stats.received.Add(1)
	n.metrics.received.WithLabelValues(msg.Kind.String()).Inc()

	n.logger.WithFields(logrus.Fields{
		"kind":        msg.Kind.String(),
		"last_hop":    msg.LastHop,
		"origin":      msg.Origin,
		"destination": msg.Destination,
	}).Debug("Received")

	switch msg.Kind {
	case net.Registration:
		return false, n.handleRegistration(msg)
	case net.Text:
		return false, n.handleText(msg)
	case net.Exit:
		return true, n.handleExit(msg)
	default:
		n.logger.WithField("kind", msg.Kind).Warn("Ignoring record of unknown kind")
		return false, nil
	}
}

// Leave asks the running node to leave the mesh. It returns once the node
// is shut down.
func (n *Node) Leave() {
	select {
	case n.leaveCh <- struct{}{}:
	case <-n.doneCh:
		return
	}
	<-n.doneCh
}

// Done returns a channel that is closed once the node is shut down.
func (n *Node) Done() <-chan struct{} {
	return n.doneCh
}

func (n *Node) setState(s state.State) {
	if n.GetState() == s {
		return
	}
	n.SetState(s)
	if n.proxy != nil {
		n.proxy.OnStateChanged(s)
	}
}

// ID returns the node's identity.
func (n *Node) ID() int32 {
	return n.id
}

// GetNeighbors returns every entry of the neighbor table, in insertion order,
// with its current liveness.
func (n *Node) GetNeighbors() []NeighborInfo {
	res := []NeighborInfo{}
	for _, nb := range n.table.Neighbors() {
		res = append(res, NeighborInfo{
			ID:   nb.ID,
			Live: n.prober.Alive(nb.ID),
		})
	}
	return res
}

// Neighbors returns the identities of the neighbor table entries.
func (n *Node) Neighbors() []int32 {
	return n.table.IDs()
}

// GetDeliveries returns the deliveries recorded after index skip. Pass -1 to
// get all those still available.
func (n *Node) GetDeliveries(skip int) ([]store.Delivery, error) {
	return n.store.Deliveries(skip)
}

// recordDelivery adds msg to the inbox. Failing to do so does not affect
// routing, so the error is only logged.
func (n *Node) recordDelivery(msg net.Message) {
	_, err := n.store.Append(store.Delivery{
		Origin:   msg.Origin,
		LastHop:  msg.LastHop,
		Text:     msg.Text(),
		Received: time.Now(),
	})
	if err != nil {
		n.logger.WithError(err).Warn("Recording delivery")
	}
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	uptime := time.Duration(0)
	if !n.start.IsZero() {
		uptime = time.Since(n.start)
	}

	s := map[string]string{
		"id":            strconv.Itoa(int(n.id)),
		"state":         n.GetState().String(),
		"num_neighbors": strconv.Itoa(n.table.Len()),
		"max_neighbors": strconv.Itoa(n.table.Capacity()),
		"received":      strconv.FormatUint(n.stats.received.Load(), 10),
		"delivered":     strconv.FormatUint(n.stats.delivered.Load(), 10),
		"forwarded":     strconv.FormatUint(n.stats.forwarded.Load(), 10),
		"flooded":       strconv.FormatUint(n.stats.flooded.Load(), 10),
		"dropped":       strconv.FormatUint(n.stats.dropped.Load(), 10),
		"exits_sent":    strconv.FormatUint(n.stats.exits.Load(), 10),
		"uptime":        uptime.Round(time.Second).String(),
	}
	return s
}
