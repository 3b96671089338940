package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/mailmesh/src/common"
	"github.com/mosaicnetworks/mailmesh/src/config"
	"github.com/mosaicnetworks/mailmesh/src/net"
	"github.com/mosaicnetworks/mailmesh/src/node"
	"github.com/mosaicnetworks/mailmesh/src/peers"
	"github.com/mosaicnetworks/mailmesh/src/proxy"
	"github.com/mosaicnetworks/mailmesh/src/proxy/inmem"
	"github.com/mosaicnetworks/mailmesh/src/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"
)

func newTestService(t *testing.T) (*Service, *node.Node, *inmem.InmemProxy, *net.InmemNamespace) {
	ns := net.NewInmemNamespace(0)
	conf := config.NewTestConfig(t, common.TestLogLevel)

	p := inmem.NewInmemProxy(
		proxy.DeliverCallback(func(net.Message) error { return nil }).Handler(),
		common.NewTestEntry(t, common.TestLogLevel),
	)

	n := node.NewNode(conf, 1, net.NewInmemTransport(ns), peers.ProberFunc(ns.Alive), p)
	require.NoError(t, n.Init())

	return NewService("127.0.0.1:0", n, conf.Logger()), n, p, ns
}

func get(t *testing.T, s *Service, path string, out interface{}) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code == http.StatusOK && out != nil {
		jh := new(codec.JsonHandle)
		if err := codec.NewDecoderBytes(rec.Body.Bytes(), jh).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", path, err)
		}
	}

	return rec.Code
}

func TestGetStats(t *testing.T) {
	s, _, _, _ := newTestService(t)

	var stats map[string]string
	require.Equal(t, http.StatusOK, get(t, s, "/stats", &stats))

	assert.Equal(t, "1", stats["id"])
	assert.Equal(t, "Idle", stats["state"])
	assert.Equal(t, "0", stats["num_neighbors"])
	assert.Equal(t, "5", stats["max_neighbors"])
}

func TestGetNeighbors(t *testing.T) {
	s, n, _, ns := newTestService(t)

	raw := net.NewInmemTransport(ns)
	defer raw.Close()
	mb10, _ := raw.Create(10)
	raw.Create(11)

	require.NoError(t, n.Connect(10))
	require.NoError(t, n.Connect(11))
	mb10.Destroy()

	var neighbors []node.NeighborInfo
	require.Equal(t, http.StatusOK, get(t, s, "/neighbors", &neighbors))

	assert.Equal(t, []node.NeighborInfo{
		{ID: 10, Live: false},
		{ID: 11, Live: true},
	}, neighbors)
}

func TestGetInbox(t *testing.T) {
	s, n, p, _ := newTestService(t)

	errCh := make(chan error, 1)
	go func() { errCh <- n.Run() }()
	defer func() {
		n.Leave()
		<-errCh
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, p.Submit(ctx, 1, text))
	}

	var inbox []store.Delivery
	require.Equal(t, http.StatusOK, get(t, s, "/inbox", &inbox))
	require.Len(t, inbox, 3)
	assert.Equal(t, "one", inbox[0].Text)
	assert.Equal(t, int32(1), inbox[0].Origin)

	inbox = nil
	require.Equal(t, http.StatusOK, get(t, s, "/inbox?skip=1", &inbox))
	require.Len(t, inbox, 1)
	assert.Equal(t, "three", inbox[0].Text)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/inbox?skip=abc", nil))
}

func TestGetMetrics(t *testing.T) {
	s, _, _, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "mailmesh_neighbors"), body)
	assert.True(t, strings.Contains(body, "mailmesh_messages_delivered_total"), body)
}
