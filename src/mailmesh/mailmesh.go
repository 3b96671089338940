// Package mailmesh wires a node together with its transport and optional
// HTTP service.
package mailmesh

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/mailmesh/src/config"
	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node"
	"github.com/mosaicnetworks/mailmesh/src/peers"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/mosaicnetworks/mailmesh/src/service"
	"github.com/sirupsen/logrus"
)

// ErrNoProxy is returned by Init when the config carries no console proxy.
var ErrNoProxy = errors.New("no console proxy")

// Mailmesh is a node with its infrastructure. Transport and Prober may be set
// before Init, otherwise unix sockets in Config.MailboxDir and process
// liveness are used.
type Mailmesh struct {
	Config    *config.Config
	ID        int32
	Node      *node.Node
	Transport net.Transport
	Prober    peers.Prober
	Service   *service.Service

	logger *logrus.Entry
}

// NewMailmesh creates an engine for the node identified by id.
func NewMailmesh(c *config.Config, id int32) *Mailmesh {
	engine := &Mailmesh{
		Config: c,
		ID:     id,
		logger: c.Logger(),
	}

	return engine
}

func (m *Mailmesh) initTransport() error {
	if m.Transport != nil {
		return nil
	}

	m.Transport = net.NewUnixTransport(
		m.Config.MailboxDir,
		m.Config.QueueCapacity,
		m.Config.MaxPool,
		m.Config.Timeout,
		m.logger,
	)

	m.logger.WithField("dir", m.Config.MailboxDir).Debug("Created unix transport")

	return nil
}

func (m *Mailmesh) initNode() error {
	if m.Prober == nil {
		m.Prober = peers.ProcessProber{}
	}

	m.Node = node.NewNode(
		m.Config,
		m.ID,
		m.Transport,
		m.Prober,
		m.Config.Proxy,
	)

	if err := m.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}

	return nil
}

func (m *Mailmesh) initService() error {
	if !m.Config.NoService {
		m.Service = service.NewService(m.Config.ServiceAddr, m.Node, m.logger)
	}
	return nil
}

// Init creates the transport, the node and its mailbox, and the service.
func (m *Mailmesh) Init() error {
	if m.Config.Proxy == nil {
		return ErrNoProxy
	}

	if err := m.initTransport(); err != nil {
		return err
	}

	if err := m.initNode(); err != nil {
		m.Transport.Close()
		return err
	}

	if err := m.initService(); err != nil {
		return err
	}

	return nil
}

// Connect introduces the node to peer. Failing to do so is not fatal: the
// node then starts with an empty neighbor table, so the error is only logged.
func (m *Mailmesh) Connect(peer int32) {
	if err := m.Node.Connect(peer); err != nil {
		m.logger.WithError(err).WithField("peer", peer).Warn("Cannot connect to initial peer")
		return
	}
	m.logger.WithField("peer", peer).Info("Connected to initial peer")
}

// Run serves the API, if any, and runs the node until it leaves the mesh.
func (m *Mailmesh) Run() error {
	if m.Service != nil {
		go m.Service.Serve()
		defer m.Service.Close()
	}

	return m.Node.Run()
}

// Proxy returns the console proxy the node was configured with.
func (m *Mailmesh) Proxy() proxy.ConsoleProxy {
	return m.Config.Proxy
}
