package service

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/mosaicnetworks/plexus/src/node"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service exposes the node's state over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is usefull when plexus is used
// in-memory and expecpted to use the same endpoint (address:port) as the
// application's API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering plexus API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/sessions", s.makeHandler(s.GetSessions))
	http.HandleFunc("/record/", s.makeHandler(s.GetRecord))
	http.Handle("/metrics", promhttp.Handler())
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

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when plexus is used in-memory and another server has already been
// started with the DefaultServerMux and the same address:port combination.
// Indeed, plexus API handlers have already been registered when the service was
// instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving plexus API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	returnPeerSet(w, r, s.node.GetPeers())
}

// GetSessions ...
func (s *Service) GetSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.GetSessions())
}

// recordInfo is the JSON form of a DHT record. The value is decoded as an
// address set when possible; anything else is returned raw.
type recordInfo struct {
	Key     string            `json:"key"`
	Addrs   []peers.Multiaddr `json:"addrs,omitempty"`
	Value   []byte            `json:"value,omitempty"`
	Expires time.Time         `json:"expires"`
}

// GetRecord looks up a record in the local store by the base58 peer ID it is
// keyed under.
func (s *Service) GetRecord(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/record/"):]

	id, err := peers.ParseID(param)

	if err != nil {
		s.logger.WithError(err).Errorf("Parsing record key parameter %s", param)

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	record, ok := s.node.GetRecord(id.Bytes())

	if !ok {
		http.Error(w, "record not found", http.StatusNotFound)

		return
	}

	info := recordInfo{
		Key:     id.String(),
		Expires: record.Expires,
	}

	if addrs, err := peers.DecodeAddrs(record.Value); err == nil {
		info.Addrs = addrs
	} else {
		info.Value = record.Value
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(info)
}

func returnPeerSet(w http.ResponseWriter, r *http.Request, peers []*peers.Peer) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)

	encoder.Encode(peers)
}
