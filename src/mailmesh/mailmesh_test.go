package mailmesh

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/mosaicnetworks/mailmesh/src/common"
	"github.com/mosaicnetworks/mailmesh/src/config"
	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/peers"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/mosaicnetworks/mailmesh/src/proxy/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketProber treats a node as live while its socket exists.
func socketProber(dir string) peers.Prober {
	layer := net.NewUnixStreamLayer(dir)
	return peers.ProberFunc(func(id int32) bool {
		_, err := os.Stat(layer.Path(id))
		return err == nil
	})
}

func newTestEngine(t *testing.T, dir string, id int32) (*Mailmesh, *inmem.InmemProxy, chan net.Message) {
	deliveries := make(chan net.Message, 10)

	p := inmem.NewInmemProxy(
		proxy.DeliverCallback(func(msg net.Message) error {
			deliveries <- msg
			return nil
		}).Handler(),
		common.NewTestEntry(t, common.TestLogLevel),
	)

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.MailboxDir = dir
	conf.Timeout = time.Second
	conf.Proxy = p

	engine := NewMailmesh(conf, id)
	engine.Prober = socketProber(dir)

	if err := engine.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}

	return engine, p, deliveries
}

func runEngine(t *testing.T, m *Mailmesh) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Run()
	}()
	t.Cleanup(func() {
		m.Node.Leave()
	})
	return errCh
}

func TestUnixMesh(t *testing.T) {
	dir := t.TempDir()

	a, _, aDeliveries := newTestEngine(t, dir, 100)
	aErr := runEngine(t, a)

	b, bProxy, _ := newTestEngine(t, dir, 200)
	b.Connect(100)
	bErr := runEngine(t, b)

	require.Eventually(t, func() bool {
		return len(a.Node.Neighbors()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, bProxy.Submit(ctx, 100, "over unix sockets"))

	select {
	case msg := <-aDeliveries:
		assert.Equal(t, int32(200), msg.Origin)
		assert.Equal(t, "over unix sockets", msg.Text())
	case <-time.After(2 * time.Second):
		t.Fatalf("message should have been delivered")
	}

	a.Node.Leave()
	require.NoError(t, <-aErr)

	select {
	case err := <-bErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("EXIT should have reached 200")
	}

	layer := net.NewUnixStreamLayer(dir)
	for _, id := range []int32{100, 200} {
		if _, err := os.Stat(layer.Path(id)); !os.IsNotExist(err) {
			t.Fatalf("socket of %d should be gone, stat returned %v", id, err)
		}
	}
}

func TestConnectNotLiveIsNotFatal(t *testing.T) {
	dir := t.TempDir()

	a, _, _ := newTestEngine(t, dir, 100)
	a.Connect(4242)
	runEngine(t, a)

	assert.Empty(t, a.Node.Neighbors())
}

func TestInitWithoutProxy(t *testing.T) {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.MailboxDir = t.TempDir()

	engine := NewMailmesh(conf, 1)
	if err := engine.Init(); !errors.Is(err, ErrNoProxy) {
		t.Fatalf("Init should fail with ErrNoProxy, not %v", err)
	}
}
