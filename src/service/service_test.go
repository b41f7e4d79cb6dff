package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mosaicnetworks/plexus/src/autonat"
	"github.com/mosaicnetworks/plexus/src/common"
	"github.com/mosaicnetworks/plexus/src/crypto/keys"
	"github.com/mosaicnetworks/plexus/src/identify"
	"github.com/mosaicnetworks/plexus/src/kad"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/node"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/mosaicnetworks/plexus/src/ping"
)

// newServiceNode wires a stopped node for the service to read from.
func newServiceNode(t *testing.T) (*node.Node, *kad.Engine) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	identity := node.NewIdentity(key, "svc")

	_, trans := net.NewInmemTransport(identity.ID(), "")

	conf := node.TestConfig(t)
	logEntry := conf.Logger.WithField("id", identity.ID().Short())

	engine := kad.NewEngine(identity.ID(), trans, kad.DefaultConfig(), nil, logEntry)
	monitor := ping.NewMonitor(identity.ID(), trans, time.Hour, nil, logEntry)
	exchanger := identify.NewExchanger(
		identity.ID(),
		identity.PublicKeyBytes(),
		"plexus/test",
		[]string{kad.ProtocolID},
		trans,
		logEntry)
	prober := autonat.NewProber(identity.ID(), trans, engine, time.Hour, nil, logEntry)

	return node.NewNode(conf, identity, nil, trans, engine, monitor, exchanger, prober), engine
}

func newTestService(t *testing.T, n *node.Node) *Service {
	// NewService registers fixed paths on the process-global DefaultServeMux,
	// which panics on re-registration; start each test from a fresh mux.
	http.DefaultServeMux = http.NewServeMux()

	return NewService("127.0.0.1:0", n, common.NewTestEntry(t, common.TestLogLevel))
}

func TestServiceStats(t *testing.T) {
	n, _ := newServiceNode(t)
	s := newTestService(t, n)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/stats", nil)

	s.makeHandler(s.GetStats)(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected CORS header, got %q", origin)
	}

	stats := map[string]string{}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("err: %v", err)
	}
	if stats["id"] != n.ID().String() {
		t.Fatalf("expected id %s, got %s", n.ID(), stats["id"])
	}
	if stats["moniker"] != "svc" {
		t.Fatalf("expected moniker svc, got %s", stats["moniker"])
	}
}

func TestServicePeers(t *testing.T) {
	n, engine := newServiceNode(t)
	s := newTestService(t, n)

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	peerID := peers.NewID(&key.PublicKey)

	addr, err := peers.ParseMultiaddr("/ip4/10.0.0.1/tcp/64001")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	engine.AddAddress(peerID, addr)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/peers", nil)

	s.makeHandler(s.GetPeers)(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	found := []*peers.Peer{}
	if err := json.NewDecoder(w.Body).Decode(&found); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(found) != 1 || found[0].ID != peerID {
		t.Fatalf("expected the table's peer, got %v", found)
	}
}

func TestServiceSessions(t *testing.T) {
	n, _ := newServiceNode(t)
	s := newTestService(t, n)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/sessions", nil)

	s.makeHandler(s.GetSessions)(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	sessions := []node.SessionInfo{}
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %v", sessions)
	}
}

func TestServiceRecord(t *testing.T) {
	n, engine := newServiceNode(t)
	s := newTestService(t, n)

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	recordID := peers.NewID(&key.PublicKey)

	addr, err := peers.ParseMultiaddr("/ip4/10.0.0.1/tcp/64001")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	value, err := peers.EncodeAddrs([]peers.Multiaddr{addr})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := engine.HandlePutRecord(n.ID(), recordID.Bytes(), value); err != nil {
		t.Fatalf("err: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/record/"+recordID.String(), nil)

	s.makeHandler(s.GetRecord)(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	out := struct {
		Key   string            `json:"key"`
		Addrs []peers.Multiaddr `json:"addrs"`
	}{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.Key != recordID.String() {
		t.Fatalf("expected key %s, got %s", recordID, out.Key)
	}
	if len(out.Addrs) != 1 || out.Addrs[0] != addr {
		t.Fatalf("expected the decoded address set, got %v", out.Addrs)
	}

	//Unknown record
	w = httptest.NewRecorder()
	r = httptest.NewRequest("GET", "/record/"+n.ID().String(), nil)

	s.makeHandler(s.GetRecord)(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	//Unparsable ID
	w = httptest.NewRecorder()
	r = httptest.NewRequest("GET", "/record/not-a-peer-id", nil)

	s.makeHandler(s.GetRecord)(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
