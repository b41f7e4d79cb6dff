package kad

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/plexus/src/common"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/peers"
)

// fakeNetwork routes engine queries straight to the Handle methods of the
// target engine, standing in for the wire.
type fakeNetwork struct {
	sync.Mutex
	engines map[peers.ID]*Engine
	down    map[peers.ID]bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		engines: make(map[peers.ID]*Engine),
		down:    make(map[peers.ID]bool),
	}
}

func (f *fakeNetwork) register(e *Engine) {
	f.Lock()
	defer f.Unlock()
	f.engines[e.self] = e
}

func (f *fakeNetwork) setDown(id peers.ID, down bool) {
	f.Lock()
	defer f.Unlock()
	f.down[id] = down
}

func (f *fakeNetwork) engineFor(target peers.Multiaddr) (*Engine, error) {
	id, err := target.PeerID()
	if err != nil {
		return nil, err
	}

	f.Lock()
	defer f.Unlock()

	if f.down[id] {
		return nil, fmt.Errorf("peer %s is down", id.Short())
	}
	e, ok := f.engines[id]
	if !ok {
		return nil, fmt.Errorf("no route to %s", id.Short())
	}
	return e, nil
}

func (f *fakeNetwork) FindNode(target peers.Multiaddr, args *net.FindNodeRequest, resp *net.FindNodeResponse) error {
	e, err := f.engineFor(target)
	if err != nil {
		return err
	}
	resp.From = e.self
	resp.Peers = e.HandleFindNode(args.From, args.Target)
	return nil
}

func (f *fakeNetwork) GetRecord(target peers.Multiaddr, args *net.GetRecordRequest, resp *net.GetRecordResponse) error {
	e, err := f.engineFor(target)
	if err != nil {
		return err
	}
	resp.From = e.self
	resp.Value, resp.Found, resp.Closer = e.HandleGetRecord(args.From, args.Key)
	return nil
}

func (f *fakeNetwork) PutRecord(target peers.Multiaddr, args *net.PutRecordRequest, resp *net.PutRecordResponse) error {
	e, err := f.engineFor(target)
	if err != nil {
		return err
	}
	resp.From = e.self
	return e.HandlePutRecord(args.From, args.Key, args.Value)
}

type testNode struct {
	engine *Engine
	addr   peers.Multiaddr
}

// newTestCluster creates n engines on a fake network. Every engine starts
// with the first engine in its routing table, the way nodes start with a
// bootstrap peer.
func newTestCluster(t *testing.T, n int) ([]*testNode, *fakeNetwork) {
	network := newFakeNetwork()

	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		addr := peers.Multiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", 9000+i))
		engine := NewEngine(
			randID(t),
			network,
			DefaultConfig(),
			nil,
			common.NewTestEntry(t, common.TestLogLevel),
		)
		network.register(engine)
		nodes[i] = &testNode{engine: engine, addr: addr}
	}

	for i := 1; i < n; i++ {
		nodes[i].engine.AddAddress(nodes[0].engine.self, nodes[0].addr)
		nodes[0].engine.AddAddress(nodes[i].engine.self, nodes[i].addr)
	}

	return nodes, network
}

func waitEvent(t *testing.T, e *Engine, typ EventType) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-e.Events():
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v event", typ)
		}
	}
}

func TestEnginePutGet(t *testing.T) {
	nodes, _ := newTestCluster(t, 4)

	key := nodes[2].engine.self.Bytes()
	value := []byte("encoded addresses")

	qid := nodes[0].engine.Put(key, value, QuorumOne)

	ev := waitEvent(t, nodes[0].engine, EventPutDone)
	if ev.QueryID != qid {
		t.Fatalf("query ID mismatch: %v %v", ev.QueryID, qid)
	}
	if ev.Err != nil {
		t.Fatalf("err: %v", ev.Err)
	}
	if ev.Acks != 1 {
		t.Fatalf("acks = %d, want 1", ev.Acks)
	}

	// Another node retrieves the record through the network
	gid := nodes[1].engine.Get(key)

	gev := waitEvent(t, nodes[1].engine, EventGetDone)
	if gev.QueryID != gid {
		t.Fatalf("query ID mismatch: %v %v", gev.QueryID, gid)
	}
	if gev.Err != nil {
		t.Fatalf("err: %v", gev.Err)
	}
	if !bytes.Equal(gev.Value, value) {
		t.Fatalf("value = %q, want %q", gev.Value, value)
	}
}

func TestEnginePutQuorumFailed(t *testing.T) {
	network := newFakeNetwork()
	engine := NewEngine(randID(t), network, DefaultConfig(), nil, common.NewTestEntry(t, common.TestLogLevel))
	network.register(engine)

	key := randID(t).Bytes()

	engine.Put(key, []byte("nobody to tell"), QuorumOne)

	ev := waitEvent(t, engine, EventPutDone)
	if !errors.Is(ev.Err, ErrQuorumFailed) {
		t.Fatalf("err: %v", ev.Err)
	}

	// The local copy is still there
	if _, ok := engine.Record(key); !ok {
		t.Fatal("record should be stored locally even without a quorum")
	}
}

func TestEnginePutValidation(t *testing.T) {
	network := newFakeNetwork()
	engine := NewEngine(randID(t), network, DefaultConfig(), nil, common.NewTestEntry(t, common.TestLogLevel))

	engine.Put([]byte("short"), []byte("value"), QuorumOne)
	ev := waitEvent(t, engine, EventPutDone)
	if !errors.Is(ev.Err, ErrInvalidKey) {
		t.Fatalf("err: %v", ev.Err)
	}

	engine.Put(randID(t).Bytes(), bytes.Repeat([]byte{1}, MaxValueSize+1), QuorumOne)
	ev = waitEvent(t, engine, EventPutDone)
	if !errors.Is(ev.Err, ErrValueTooLarge) {
		t.Fatalf("err: %v", ev.Err)
	}
}

func TestEnginePutQuorumAll(t *testing.T) {
	nodes, _ := newTestCluster(t, 4)

	key := randID(t).Bytes()

	nodes[0].engine.Put(key, []byte("replicated everywhere"), QuorumAll)

	ev := waitEvent(t, nodes[0].engine, EventPutDone)
	if ev.Err != nil {
		t.Fatalf("err: %v", ev.Err)
	}
	if ev.Acks != len(nodes)-1 {
		t.Fatalf("acks = %d, want %d", ev.Acks, len(nodes)-1)
	}

	// Every other node now holds the record
	for _, n := range nodes[1:] {
		if _, ok := n.engine.Record(key); !ok {
			t.Fatalf("node %s is missing the record", n.engine.self.Short())
		}
	}
}

func TestEngineGetNotFound(t *testing.T) {
	nodes, _ := newTestCluster(t, 3)

	nodes[0].engine.Get(randID(t).Bytes())

	ev := waitEvent(t, nodes[0].engine, EventGetDone)
	if !errors.Is(ev.Err, ErrNotFound) {
		t.Fatalf("err: %v", ev.Err)
	}
}

func TestEngineBootstrap(t *testing.T) {
	network := newFakeNetwork()

	// Three established nodes that know each other
	established, _ := newTestCluster(t, 3)
	for _, n := range established {
		network.register(n.engine)
	}
	for _, a := range established {
		for _, b := range established {
			a.engine.AddAddress(b.engine.self, b.addr)
		}
	}

	// A newcomer that only knows the first one
	newcomer := NewEngine(randID(t), network, DefaultConfig(), nil, common.NewTestEntry(t, common.TestLogLevel))
	network.register(newcomer)

	seed := peers.NewPeer(established[0].engine.self, established[0].addr)
	newcomer.Bootstrap([]*peers.Peer{seed})

	ev := waitEvent(t, newcomer, EventBootstrapDone)
	if ev.TableSize < len(established) {
		t.Fatalf("table size = %d, want at least %d", ev.TableSize, len(established))
	}
}

func TestEngineHandleInboundValidation(t *testing.T) {
	engine := NewEngine(randID(t), newFakeNetwork(), DefaultConfig(), nil, common.NewTestEntry(t, common.TestLogLevel))

	from := randID(t)

	if err := engine.HandlePutRecord(from, []byte("short"), []byte("v")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("err: %v", err)
	}

	big := bytes.Repeat([]byte{1}, MaxValueSize+1)
	if err := engine.HandlePutRecord(from, randID(t).Bytes(), big); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("err: %v", err)
	}

	key := randID(t).Bytes()
	if err := engine.HandlePutRecord(from, key, []byte("held for others")); err != nil {
		t.Fatalf("err: %v", err)
	}

	value, found, _ := engine.HandleGetRecord(from, key)
	if !found || string(value) != "held for others" {
		t.Fatalf("Get = %q, %v", value, found)
	}
}

func TestEngineUnreachablePeerEvicted(t *testing.T) {
	nodes, network := newTestCluster(t, 3)

	// node 1 goes dark; a lookup through it should evict it
	network.setDown(nodes[1].engine.self, true)

	nodes[0].engine.Get(randID(t).Bytes())
	waitEvent(t, nodes[0].engine, EventGetDone)

	if _, ok := nodes[0].engine.table.Get(nodes[1].engine.self); ok {
		t.Fatal("unresponsive peer should have been evicted")
	}
}
