package kad

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/mosaicnetworks/plexus/src/peers"
)

func randID(t testing.TB) peers.ID {
	var id peers.ID
	if _, err := rand.Read(id[:]); err != nil {
		t.Fatalf("err: %v", err)
	}
	return id
}

func TestTableAddIdempotent(t *testing.T) {
	self := randID(t)
	table := NewTable(self)

	id := randID(t)
	addr := peers.Multiaddr("/ip4/10.0.0.1/tcp/64001")

	if !table.Add(id, []peers.Multiaddr{addr}) {
		t.Fatal("first Add should change the table")
	}
	if table.Add(id, []peers.Multiaddr{addr}) {
		t.Fatal("re-adding a known address should be a no-op")
	}

	entry, ok := table.Get(id)
	if !ok {
		t.Fatal("peer should be in the table")
	}
	if len(entry.Addrs) != 1 {
		t.Fatalf("peer has %d addrs, want 1", len(entry.Addrs))
	}

	// a second address for the same peer does count as a change
	if !table.Add(id, []peers.Multiaddr{"/ip4/10.0.0.1/tcp/64002/ws"}) {
		t.Fatal("new address for a known peer should change the table")
	}

	if table.Len() != 1 {
		t.Fatalf("table size = %d, want 1", table.Len())
	}
}

func TestTableRejectsSelf(t *testing.T) {
	self := randID(t)
	table := NewTable(self)

	if table.Add(self, []peers.Multiaddr{"/ip4/10.0.0.1/tcp/64001"}) {
		t.Fatal("table should not hold its own node")
	}
	if table.Add(peers.ZeroID, []peers.Multiaddr{"/ip4/10.0.0.1/tcp/64001"}) {
		t.Fatal("table should not hold the zero ID")
	}
}

func TestTableClosest(t *testing.T) {
	self := idWithPrefix(0x00)
	table := NewTable(self)

	// first byte doubles as the distance to the zero target
	var ids []peers.ID
	for _, b := range []byte{0x80, 0x01, 0x40, 0x02} {
		id := idWithPrefix(b)
		ids = append(ids, id)
		addr := peers.Multiaddr(fmt.Sprintf("/ip4/10.0.0.%d/tcp/64001", b))
		if !table.Add(id, []peers.Multiaddr{addr}) {
			t.Fatalf("err adding %x", b)
		}
	}

	closest := table.Closest(idWithPrefix(0x00), 3)
	if len(closest) != 3 {
		t.Fatalf("got %d peers, want 3", len(closest))
	}

	expected := []byte{0x01, 0x02, 0x40}
	for i, p := range closest {
		if p.ID[0] != expected[i] {
			t.Fatalf("closest[%d] = %x, want %x", i, p.ID[0], expected[i])
		}
	}
}

func TestTableBucketFull(t *testing.T) {
	self := idWithPrefix(0x00)
	table := NewTable(self)

	// All these IDs share no prefix bits with self, so they land in the
	// same bucket.
	added := 0
	for i := 0; i < K+5; i++ {
		id := idWithPrefix(0x80, byte(i+1))
		addr := peers.Multiaddr(fmt.Sprintf("/ip4/10.0.1.%d/tcp/64001", i+1))
		if table.Add(id, []peers.Multiaddr{addr}) {
			added++
		}
	}

	if added != K {
		t.Fatalf("added %d peers to one bucket, want %d", added, K)
	}
	if table.Len() != K {
		t.Fatalf("table size = %d, want %d", table.Len(), K)
	}
}

func TestTableRemove(t *testing.T) {
	table := NewTable(randID(t))

	id := randID(t)
	table.Add(id, []peers.Multiaddr{"/ip4/10.0.0.1/tcp/64001"})
	table.Remove(id)

	if _, ok := table.Get(id); ok {
		t.Fatal("peer should be gone")
	}
	if table.Len() != 0 {
		t.Fatalf("table size = %d, want 0", table.Len())
	}
}
