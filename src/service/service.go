package service

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/mosaicnetworks/mailmesh/src/common"
	"github.com/mosaicnetworks/mailmesh/src/node"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// Service exposes a read-only HTTP API over a running node.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:    bindAddress,
		Handler: service.mux,
	}

	return &service
}

// registerHandlers registers the API handlers with a mux private to this
// service, so several nodes can serve from the same process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering mailmesh API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/neighbors", s.makeHandler(s.GetNeighbors))
	s.mux.HandleFunc("/inbox", s.makeHandler(s.GetInbox))
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.node.Registry(), promhttp.HandlerOpts{}))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call which returns when
// Close is called.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving mailmesh API")

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error(err)
	}
}

// Close stops the HTTP server.
func (s *Service) Close() error {
	return s.server.Close()
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	s.encode(w, s.node.GetStats())
}

// GetNeighbors ...
func (s *Service) GetNeighbors(w http.ResponseWriter, r *http.Request) {
	s.encode(w, s.node.GetNeighbors())
}

// GetInbox returns the messages delivered to the node. The optional skip
// parameter only returns those delivered after the given index.
func (s *Service) GetInbox(w http.ResponseWriter, r *http.Request) {
	skip := -1

	if param := r.URL.Query().Get("skip"); param != "" {
		var err error
		skip, err = strconv.Atoi(param)
		if err != nil {
			s.logger.WithError(err).Errorf("Parsing skip parameter %s", param)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	deliveries, err := s.node.GetDeliveries(skip)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving deliveries after %d", skip)
		status := http.StatusInternalServerError
		if common.IsStore(err, common.TooLate) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}

	s.encode(w, deliveries)
}

func (s *Service) encode(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	jh := new(codec.JsonHandle)
	jh.Canonical = true

	if err := codec.NewEncoder(w, jh).Encode(v); err != nil {
		s.logger.WithError(err).Error("Encoding response")
	}
}
