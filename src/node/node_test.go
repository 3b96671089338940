package node

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaicnetworks/mailmesh/src/common"
	"github.com/mosaicnetworks/mailmesh/src/config"
	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node/state"
	"github.com/mosaicnetworks/mailmesh/src/peers"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/mosaicnetworks/mailmesh/src/proxy/inmem"
	"github.com/mosaicnetworks/mailmesh/src/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	settle  = 50 * time.Millisecond
)

type testConsole struct {
	*inmem.InmemProxy

	sync.Mutex
	delivered []net.Message
}

func (c *testConsole) DeliverHandler(msg net.Message) error {
	c.Lock()
	defer c.Unlock()
	c.delivered = append(c.delivered, msg)
	return nil
}

func (c *testConsole) StateChangeHandler(state.State) error {
	return nil
}

func (c *testConsole) Delivered() []net.Message {
	c.Lock()
	defer c.Unlock()
	res := make([]net.Message, len(c.delivered))
	copy(res, c.delivered)
	return res
}

func newTestConsole(t *testing.T) *testConsole {
	c := &testConsole{}
	c.InmemProxy = inmem.NewInmemProxy(c, common.NewTestEntry(t, common.TestLogLevel))
	return c
}

func newTestNode(t *testing.T, ns *net.InmemNamespace, id int32) (*Node, *testConsole) {
	return newTestNodeWithTransport(t, config.NewTestConfig(t, common.TestLogLevel), ns, net.NewInmemTransport(ns), id)
}

func newTestNodeWithTransport(t *testing.T, conf *config.Config, ns *net.InmemNamespace, trans net.Transport, id int32) (*Node, *testConsole) {
	console := newTestConsole(t)

	node := NewNode(conf, id, trans, peers.ProberFunc(ns.Alive), console)
	if err := node.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}

	return node, console
}

// runNode starts the node's loop and makes sure it is shut down before the
// test ends. The returned channel yields Run's result.
func runNode(t *testing.T, n *Node) <-chan error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- n.Run()
	}()

	t.Cleanup(func() {
		n.Leave()
	})

	return errCh
}

// rawPeer is a bare mailbox standing in for a node, so tests can observe
// exactly what a node sends.
type rawPeer struct {
	id    int32
	trans *net.InmemTransport
	mb    net.Mailbox
}

func newRawPeer(t *testing.T, ns *net.InmemNamespace, id int32) *rawPeer {
	trans := net.NewInmemTransport(ns)
	t.Cleanup(func() { trans.Close() })

	mb, err := trans.Create(id)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	return &rawPeer{id: id, trans: trans, mb: mb}
}

func (p *rawPeer) send(t *testing.T, to int32, msg net.Message) {
	out, err := p.trans.Open(to)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := out.TrySend(msg); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func (p *rawPeer) receiveAll() []net.Message {
	res := []net.Message{}
	for {
		msg, err := p.mb.TryReceive()
		if err != nil {
			return res
		}
		res = append(res, msg)
	}
}

func contains(ids []int32, id int32) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

func submit(t *testing.T, c *testConsole, dest int32, text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return c.Submit(ctx, dest, text)
}

func TestHandshake(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	a, _ := newTestNode(t, ns, 100)
	runNode(t, a)

	b, _ := newTestNode(t, ns, 200)
	if err := b.Connect(100); err != nil {
		t.Fatalf("err: %v", err)
	}

	// the initiator registers before sending
	assert.Equal(t, []int32{100}, b.Neighbors())

	runNode(t, b)

	require.Eventually(t, func() bool {
		return contains(a.Neighbors(), 200)
	}, waitFor, tick)

	assert.Equal(t, []int32{200}, a.Neighbors())
	assert.Equal(t, []int32{100}, b.Neighbors())
}

func TestConnectNotLive(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	a, _ := newTestNode(t, ns, 100)
	runNode(t, a)

	b, _ := newTestNode(t, ns, 200)
	err := b.Connect(300)
	if !errors.Is(err, proxy.ErrNotLive) {
		t.Fatalf("Connect should fail with ErrNotLive, not %v", err)
	}
	assert.Empty(t, b.Neighbors())
}

// initTree builds the mesh 2 - 1 - 3 - 4 and waits for every handshake.
func initTree(t *testing.T, ns *net.InmemNamespace) (map[int32]*Node, map[int32]*testConsole) {
	nodes := make(map[int32]*Node)
	consoles := make(map[int32]*testConsole)

	links := []struct{ id, peer int32 }{
		{1, 0},
		{2, 1},
		{3, 1},
		{4, 3},
	}

	for _, l := range links {
		n, c := newTestNode(t, ns, l.id)
		if l.peer != 0 {
			if err := n.Connect(l.peer); err != nil {
				t.Fatalf("err: %v", err)
			}
		}
		runNode(t, n)
		nodes[l.id] = n
		consoles[l.id] = c
	}

	require.Eventually(t, func() bool {
		return len(nodes[1].Neighbors()) == 2 && len(nodes[3].Neighbors()) == 2
	}, waitFor, tick)

	return nodes, consoles
}

func TestRoutingTree(t *testing.T) {
	ns := net.NewInmemNamespace(0)
	nodes, consoles := initTree(t, ns)

	// 2 floods to 1, 1 floods to 3, 3 forwards to its neighbor 4
	if err := submit(t, consoles[2], 4, "hello"); err != nil {
		t.Fatalf("err: %v", err)
	}

	require.Eventually(t, func() bool {
		return len(consoles[4].Delivered()) == 1
	}, waitFor, tick)

	time.Sleep(settle)

	delivered := consoles[4].Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, "hello", delivered[0].Text())
	assert.Equal(t, int32(2), delivered[0].Origin)
	assert.Equal(t, int32(3), delivered[0].LastHop)

	for _, id := range []int32{1, 2, 3} {
		assert.Empty(t, consoles[id].Delivered(), "node %d should not deliver", id)
	}

	assert.Equal(t, "1", nodes[3].GetStats()["forwarded"])
	assert.Equal(t, "1", nodes[1].GetStats()["flooded"])
}

func TestRoutingBackTowardsLeaf(t *testing.T) {
	ns := net.NewInmemNamespace(0)
	_, consoles := initTree(t, ns)

	if err := submit(t, consoles[4], 2, "back"); err != nil {
		t.Fatalf("err: %v", err)
	}

	require.Eventually(t, func() bool {
		return len(consoles[2].Delivered()) == 1
	}, waitFor, tick)

	time.Sleep(settle)

	require.Len(t, consoles[2].Delivered(), 1)
	assert.Equal(t, int32(1), consoles[2].Delivered()[0].LastHop)
	for _, id := range []int32{1, 3, 4} {
		assert.Empty(t, consoles[id].Delivered(), "node %d should not deliver", id)
	}
}

func TestFloodExclusions(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	n, _ := newTestNode(t, ns, 1)

	raws := []*rawPeer{}
	for _, id := range []int32{10, 11, 12} {
		raw := newRawPeer(t, ns, id)
		if err := n.Connect(id); err != nil {
			t.Fatalf("err: %v", err)
		}
		raw.receiveAll()
		raws = append(raws, raw)
	}

	runNode(t, n)

	// 77 is not a neighbor of 1, so it floods; 11 sent it and 10 is the
	// origin, which leaves 12
	raws[1].send(t, 1, net.NewTextMessage(11, 10, 77, "flood"))

	require.Eventually(t, func() bool {
		return ns.Len(12) == 1
	}, waitFor, tick)

	time.Sleep(settle)

	got := raws[2].receiveAll()
	require.Len(t, got, 1)
	assert.Equal(t, int32(1), got[0].LastHop)
	assert.Equal(t, int32(10), got[0].Origin)
	assert.Equal(t, "flood", got[0].Text())

	assert.Empty(t, raws[0].receiveAll())
	assert.Empty(t, raws[1].receiveAll())
}

func TestSelfDelivery(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	n, console := newTestNode(t, ns, 1)

	raw := newRawPeer(t, ns, 10)
	if err := n.Connect(10); err != nil {
		t.Fatalf("err: %v", err)
	}
	raw.receiveAll()

	runNode(t, n)

	raw.send(t, 1, net.NewTextMessage(10, 10, 1, "for you"))

	require.Eventually(t, func() bool {
		return len(console.Delivered()) == 1
	}, waitFor, tick)

	time.Sleep(settle)

	assert.Empty(t, raw.receiveAll())
	assert.Equal(t, "for you", console.Delivered()[0].Text())

	deliveries, err := n.GetDeliveries(-1)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, int32(10), deliveries[0].Origin)
	assert.Equal(t, "for you", deliveries[0].Text)

	assert.Equal(t, "1", n.GetStats()["delivered"])
	assert.Equal(t, float64(1), testutil.ToFloat64(n.metrics.received.WithLabelValues("TEXT")))
}

func TestRequestToSelf(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	n, console := newTestNode(t, ns, 1)
	runNode(t, n)

	if err := submit(t, console, 1, "note to self"); err != nil {
		t.Fatalf("err: %v", err)
	}

	require.Len(t, console.Delivered(), 1)
	assert.Equal(t, int32(1), console.Delivered()[0].Origin)
}

func TestPersistentInbox(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.Store = true
	conf.DatabaseDir = t.TempDir()
	conf.InboxSize = 1

	n, console := newTestNodeWithTransport(t, conf, ns, net.NewInmemTransport(ns), 1)
	errCh := runNode(t, n)

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, submit(t, console, 1, text))
	}

	// Older than the cache, read back from the database
	deliveries, err := n.GetDeliveries(-1)
	require.NoError(t, err)
	require.Len(t, deliveries, 3)

	n.Leave()
	require.NoError(t, <-errCh)

	db, err := store.NewBadgerStore(1, filepath.Join(conf.DatabaseDir, "1"), nil)
	require.NoError(t, err)
	defer db.Close()

	deliveries, err = db.Deliveries(-1)
	require.NoError(t, err)
	require.Len(t, deliveries, 3)
	assert.Equal(t, "c", deliveries[2].Text)
	assert.Equal(t, int32(1), deliveries[2].Origin)
}

func TestRequestNotLive(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	n, console := newTestNode(t, ns, 1)

	raw := newRawPeer(t, ns, 10)
	n.Connect(10)
	raw.receiveAll()

	runNode(t, n)

	err := submit(t, console, 4242, "anyone?")
	if !errors.Is(err, proxy.ErrNotLive) {
		t.Fatalf("Submit should fail with ErrNotLive, not %v", err)
	}

	assert.Empty(t, raw.receiveAll())
	assert.Equal(t, "0", n.GetStats()["flooded"])
}

func TestRegistrationTableFull(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.MaxNeighbors = 1

	n, _ := newTestNodeWithTransport(t, conf, ns, net.NewInmemTransport(ns), 1)
	runNode(t, n)

	r10 := newRawPeer(t, ns, 10)
	r11 := newRawPeer(t, ns, 11)

	r10.send(t, 1, net.NewRegistrationMessage(10))
	require.Eventually(t, func() bool {
		return len(n.Neighbors()) == 1
	}, waitFor, tick)

	r11.send(t, 1, net.NewRegistrationMessage(11))
	require.Eventually(t, func() bool {
		return n.GetStats()["received"] == "2"
	}, waitFor, tick)

	assert.Equal(t, []int32{10}, n.Neighbors())
	assert.NotEqual(t, state.Shutdown, n.GetState())
}

func TestTerminationFanOut(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	n, _ := newTestNode(t, ns, 1)

	raws := make(map[int32]*rawPeer)
	for _, id := range []int32{10, 11, 12, 13} {
		raws[id] = newRawPeer(t, ns, id)
		if err := n.Connect(id); err != nil {
			t.Fatalf("err: %v", err)
		}
		raws[id].receiveAll()
	}

	// 13 dies: its entry stays but it is skipped
	raws[13].mb.Destroy()

	errCh := runNode(t, n)

	// 10 relays an EXIT started by 99
	raws[10].send(t, 1, net.NewExitMessage(10, 99))

	select {
	case <-n.Done():
	case <-time.After(waitFor):
		t.Fatalf("node should have terminated")
	}
	require.NoError(t, <-errCh)

	for _, id := range []int32{11, 12} {
		got := raws[id].receiveAll()
		require.Len(t, got, 1, "neighbor %d", id)
		assert.Equal(t, net.Exit, got[0].Kind)
		assert.Equal(t, int32(99), got[0].Origin)
		assert.Equal(t, int32(1), got[0].LastHop)
	}
	assert.Empty(t, raws[10].receiveAll())

	assert.Equal(t, state.Shutdown, n.GetState())
	assert.Equal(t, "2", n.GetStats()["exits_sent"])

	if _, err := raws[10].trans.Open(1); !errors.Is(err, net.ErrNotFound) {
		t.Fatalf("Open after termination should fail with ErrNotFound, not %v", err)
	}
}

func TestLeave(t *testing.T) {
	ns := net.NewInmemNamespace(0)

	n, _ := newTestNode(t, ns, 1)

	raws := []*rawPeer{}
	for _, id := range []int32{10, 11} {
		raw := newRawPeer(t, ns, id)
		n.Connect(id)
		raw.receiveAll()
		raws = append(raws, raw)
	}

	errCh := runNode(t, n)

	n.Leave()
	require.NoError(t, <-errCh)

	for _, raw := range raws {
		got := raw.receiveAll()
		require.Len(t, got, 1)
		assert.Equal(t, net.NewExitMessage(1, 1), got[0])
	}

	assert.False(t, ns.Alive(1))
}

func TestExitPropagation(t *testing.T) {
	ns := net.NewInmemNamespace(0)
	nodes, _ := initTree(t, ns)

	nodes[2].Leave()

	for id, n := range nodes {
		select {
		case <-n.Done():
		case <-time.After(waitFor):
			t.Fatalf("node %d should have terminated", id)
		}
		assert.False(t, ns.Alive(id))
	}
}

type countingTransport struct {
	net.Transport
	arms    atomic.Int32
	failing atomic.Bool
}

func (c *countingTransport) Create(id int32) (net.Mailbox, error) {
	mb, err := c.Transport.Create(id)
	if err != nil {
		return nil, err
	}
	return &countingMailbox{Mailbox: mb, trans: c}, nil
}

type countingMailbox struct {
	net.Mailbox
	trans *countingTransport
}

func (m *countingMailbox) Arm() error {
	m.trans.arms.Add(1)
	return m.Mailbox.Arm()
}

func (m *countingMailbox) TryReceive() (net.Message, error) {
	if m.trans.failing.Load() {
		return net.Message{}, errors.New("disk on fire")
	}
	return m.Mailbox.TryReceive()
}

func TestDrainCompleteness(t *testing.T) {
	ns := net.NewInmemNamespace(0)
	trans := &countingTransport{Transport: net.NewInmemTransport(ns)}

	n, console := newTestNodeWithTransport(t, config.NewTestConfig(t, common.TestLogLevel), ns, trans, 1)
	require.Equal(t, int32(1), trans.arms.Load())

	raw := newRawPeer(t, ns, 10)
	for i := 0; i < 5; i++ {
		raw.send(t, 1, net.NewTextMessage(10, 10, 1, "queued"))
	}

	runNode(t, n)

	require.Eventually(t, func() bool {
		return trans.arms.Load() == 2
	}, waitFor, tick)

	time.Sleep(settle)

	assert.Len(t, console.Delivered(), 5)
	assert.Equal(t, int32(2), trans.arms.Load())
	assert.Equal(t, 0, ns.Len(1))

	// next cycle
	for i := 0; i < 3; i++ {
		raw.send(t, 1, net.NewTextMessage(10, 10, 1, "more"))
	}

	require.Eventually(t, func() bool {
		return len(console.Delivered()) == 8
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return trans.arms.Load() >= 3
	}, waitFor, tick)
}

func TestFatalTransportError(t *testing.T) {
	ns := net.NewInmemNamespace(0)
	trans := &countingTransport{Transport: net.NewInmemTransport(ns)}

	n, _ := newTestNodeWithTransport(t, config.NewTestConfig(t, common.TestLogLevel), ns, trans, 1)
	errCh := runNode(t, n)

	trans.failing.Store(true)
	raw := newRawPeer(t, ns, 10)
	raw.send(t, 1, net.NewTextMessage(10, 10, 1, "boom"))

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("Run should fail on an unexpected transport error")
		}
	case <-time.After(waitFor):
		t.Fatalf("Run should have returned")
	}

	assert.False(t, ns.Alive(1))
	assert.Equal(t, state.Shutdown, n.GetState())
}

func TestRunNotInitialized(t *testing.T) {
	ns := net.NewInmemNamespace(0)
	conf := config.NewTestConfig(t, common.TestLogLevel)

	n := NewNode(conf, 1, net.NewInmemTransport(ns), peers.ProberFunc(ns.Alive), newTestConsole(t))

	if err := n.Run(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Run should fail with ErrNotInitialized, not %v", err)
	}
}
