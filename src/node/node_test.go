package node

import (
	"errors"
	"testing"
	"time"

	"github.com/mosaicnetworks/plexus/src/autonat"
	"github.com/mosaicnetworks/plexus/src/crypto/keys"
	"github.com/mosaicnetworks/plexus/src/identify"
	"github.com/mosaicnetworks/plexus/src/kad"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/mosaicnetworks/plexus/src/ping"
)

type testNode struct {
	identity *Identity
	trans    *net.InmemTransport
	addr     peers.Multiaddr
	engine   *kad.Engine
	node     *Node
}

// newTestNode assembles a full node over an in-memory transport. Ping and
// probe intervals are pushed out of the way so tests only see the traffic
// they cause.
func newTestNode(t *testing.T, moniker string, bootstrap []*peers.Peer) *testNode {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	identity := NewIdentity(key, moniker)

	addr, trans := net.NewInmemTransport(identity.ID(), "")

	conf := TestConfig(t)
	logEntry := conf.Logger.WithField("id", identity.ID().Short())

	engine := kad.NewEngine(identity.ID(), trans, kad.DefaultConfig(), nil, logEntry)

	monitor := ping.NewMonitor(identity.ID(), trans, time.Hour, nil, logEntry)

	exchanger := identify.NewExchanger(
		identity.ID(),
		identity.PublicKeyBytes(),
		"plexus/test",
		[]string{ping.ProtocolID, identify.ProtocolVersion, kad.ProtocolID, autonat.ProtocolID},
		trans,
		logEntry)

	prober := autonat.NewProber(identity.ID(), trans, engine, time.Hour, nil, logEntry)

	node := NewNode(conf, identity, bootstrap, trans, engine, monitor, exchanger, prober)

	return &testNode{
		identity: identity,
		trans:    trans,
		addr:     addr,
		engine:   engine,
		node:     node,
	}
}

func (tn *testNode) peer() *peers.Peer {
	return peers.NewPeer(tn.identity.ID(), tn.addr)
}

func connectTransports(nodes []*testNode) {
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.trans.Connect(b.addr, b.trans)
			}
		}
	}
}

func startNodes(t *testing.T, nodes []*testNode) {
	for _, tn := range nodes {
		if err := tn.node.Init(); err != nil {
			t.Fatalf("err: %v", err)
		}
		tn.node.RunAsync()
	}
}

func shutdownNodes(nodes []*testNode) {
	for _, tn := range nodes {
		tn.node.Shutdown()
	}
}

func waitUntil(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func identifiedSessions(n *Node) int {
	count := 0
	for _, s := range n.GetSessions() {
		if s.Identified && s.Routable {
			count++
		}
	}
	return count
}

func containsPeer(ps []*peers.Peer, id peers.ID) bool {
	for _, p := range ps {
		if p.ID == id {
			return true
		}
	}
	return false
}

func TestEmptyBootstrap(t *testing.T) {
	a := newTestNode(t, "loner", nil)

	startNodes(t, []*testNode{a})
	defer shutdownNodes([]*testNode{a})

	waitUntil(t, time.Second, "the node to start discovering", func() bool {
		return a.node.getState() == Discovering
	})

	stats := a.node.GetStats()
	if stats["moniker"] != "loner" {
		t.Fatalf("expected moniker loner, got %s", stats["moniker"])
	}
	if stats["num_sessions"] != "0" {
		t.Fatalf("expected no sessions, got %s", stats["num_sessions"])
	}
}

func TestBootstrapAndIdentify(t *testing.T) {
	a := newTestNode(t, "a", nil)
	b := newTestNode(t, "b", []*peers.Peer{a.peer()})

	nodes := []*testNode{a, b}
	connectTransports(nodes)

	startNodes(t, nodes)
	defer shutdownNodes(nodes)

	waitUntil(t, 3*time.Second, "both sessions to be identified", func() bool {
		return identifiedSessions(a.node) == 1 && identifiedSessions(b.node) == 1
	})

	//Both ends passed the gate, so both registered each other
	if !containsPeer(a.node.GetPeers(), b.identity.ID()) {
		t.Fatal("expected b in a's routing table")
	}
	if !containsPeer(b.node.GetPeers(), a.identity.ID()) {
		t.Fatal("expected a in b's routing table")
	}

	//The exchange carried the agent string
	sessions := b.node.GetSessions()
	if len(sessions) != 1 || sessions[0].Agent != "plexus/test" {
		t.Fatalf("expected the agent string in the session, got %+v", sessions)
	}
}

func TestRecordPropagation(t *testing.T) {
	a := newTestNode(t, "a", nil)
	b := newTestNode(t, "b", []*peers.Peer{a.peer()})
	c := newTestNode(t, "c", []*peers.Peer{a.peer()})

	nodes := []*testNode{a, b, c}
	connectTransports(nodes)

	startNodes(t, nodes)
	defer shutdownNodes(nodes)

	bKey := b.identity.ID().Bytes()
	cKey := c.identity.ID().Bytes()

	//A identifies both newcomers and publishes a record for each
	waitUntil(t, 3*time.Second, "a to hold records for b and c", func() bool {
		_, okB := a.node.GetRecord(bKey)
		_, okC := a.node.GetRecord(cKey)
		return okB && okC
	})

	rec, _ := a.node.GetRecord(bKey)
	addrs, err := peers.DecodeAddrs(rec.Value)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != b.addr {
		t.Fatalf("expected b's record to carry %s, got %v", b.addr, addrs)
	}

	//Replication and self-publication spread the records beyond A, so B and
	//C end up resolvable without asking A
	waitUntil(t, 5*time.Second, "records to replicate across the overlay", func() bool {
		_, okB := c.node.GetRecord(bKey)
		_, okC := b.node.GetRecord(cKey)
		return okB && okC
	})
}

func TestReconnectCreatesFreshSession(t *testing.T) {
	a := newTestNode(t, "a", nil)
	b := newTestNode(t, "b", []*peers.Peer{a.peer()})

	nodes := []*testNode{a, b}
	connectTransports(nodes)

	startNodes(t, nodes)
	defer shutdownNodes(nodes)

	waitUntil(t, 3*time.Second, "sessions to be identified", func() bool {
		return identifiedSessions(a.node) == 1 && identifiedSessions(b.node) == 1
	})

	//b's connection drops
	a.trans.EmitSessionEvent(net.SessionEvent{
		Peer:   b.identity.ID(),
		Closed: true,
		Err:    errors.New("connection reset"),
	})

	waitUntil(t, 3*time.Second, "a to drop the session", func() bool {
		return len(a.node.GetSessions()) == 0
	})

	//b reconnects and identifies again; the fresh session goes through the
	//whole evaluation once more
	args := net.IdentifyRequest{
		From: b.identity.ID(),
		Info: b.node.exchanger.LocalInfo(),
	}
	var resp net.IdentifyResponse
	if err := b.trans.Identify(a.addr.WithPeer(a.identity.ID()), &args, &resp); err != nil {
		t.Fatalf("err: %v", err)
	}

	waitUntil(t, 3*time.Second, "a to evaluate the fresh session", func() bool {
		sessions := a.node.GetSessions()
		return len(sessions) == 1 && sessions[0].Identified && sessions[0].Routable
	})
}

func TestShutdown(t *testing.T) {
	a := newTestNode(t, "a", nil)
	b := newTestNode(t, "b", []*peers.Peer{a.peer()})

	nodes := []*testNode{a, b}
	connectTransports(nodes)

	startNodes(t, nodes)

	waitUntil(t, 3*time.Second, "sessions to be identified", func() bool {
		return identifiedSessions(a.node) == 1 && identifiedSessions(b.node) == 1
	})

	b.node.Shutdown()

	if b.node.getState() != Shutdown {
		t.Fatalf("expected state %s, got %s", Shutdown, b.node.getState())
	}

	//Shutdown is idempotent
	b.node.Shutdown()

	//The transport went down with the node
	args := net.PingRequest{From: a.identity.ID(), Nonce: []byte{1}}
	var resp net.PingResponse
	if err := a.trans.Ping(b.addr.WithPeer(b.identity.ID()), &args, &resp); err == nil {
		t.Fatal("expected pinging a stopped node to fail")
	}

	a.node.Shutdown()
}
