package peers

import (
	"io/ioutil"
	"os"
	"reflect"
	"testing"
)

func TestPeerAddAddr(t *testing.T) {
	addrA := Multiaddr("/ip4/127.0.0.1/tcp/64001")
	addrB := Multiaddr("/ip4/127.0.0.1/tcp/64002/ws")

	p := NewPeer(testID(1), addrA)

	if !p.AddAddr(addrB) {
		t.Fatalf("adding a new address should report a change")
	}

	if p.AddAddr(addrA) {
		t.Fatalf("adding a known address should not report a change")
	}

	expected := []Multiaddr{addrA, addrB}
	if !reflect.DeepEqual(p.Addrs, expected) {
		t.Fatalf("addrs should be %v, not %v", expected, p.Addrs)
	}
}

func TestPeerSetMergesDuplicates(t *testing.T) {
	id := testID(1)
	addrA := Multiaddr("/ip4/127.0.0.1/tcp/64001")
	addrB := Multiaddr("/ip4/10.0.0.1/tcp/64001")

	ps := NewPeerSet([]*Peer{
		NewPeer(id, addrA),
		NewPeer(id, addrB),
		NewPeer(testID(2), addrA),
	})

	if ps.Len() != 2 {
		t.Fatalf("peer set should contain 2 peers, not %d", ps.Len())
	}

	p, ok := ps.Get(id)
	if !ok {
		t.Fatalf("peer %s not found", id)
	}

	expected := []Multiaddr{addrA, addrB}
	if !reflect.DeepEqual(p.Addrs, expected) {
		t.Fatalf("addrs should be %v, not %v", expected, p.Addrs)
	}
}

func TestParseBootstrap(t *testing.T) {
	id := testID(9)

	ps, err := ParseBootstrap([]string{
		"/ip4/10.0.0.1/tcp/64001/p2p/" + id.String(),
		"/ip4/10.0.0.1/tcp/64002/ws/p2p/" + id.String(),
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if ps.Len() != 1 {
		t.Fatalf("bootstrap set should contain 1 peer, not %d", ps.Len())
	}

	// An address without an embedded identity is a configuration error
	if _, err := ParseBootstrap([]string{"/ip4/10.0.0.1/tcp/64001"}); err == nil {
		t.Fatalf("bootstrap address without identity should be rejected")
	}

	if _, err := ParseBootstrap([]string{"garbage"}); err == nil {
		t.Fatalf("unparsable bootstrap address should be rejected")
	}
}

func TestJSONPeerSet(t *testing.T) {
	dir, err := ioutil.TempDir("", "plexus")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	idA := testID(1)
	idB := testID(2)

	ps := NewPeerSet([]*Peer{
		NewPeer(idA, "/ip4/10.0.0.1/tcp/64001"),
		NewPeer(idB, "/webrtc/"+Multiaddr(idB.String())),
	})

	store := NewJSONPeerSet(dir)

	if err := store.Write(ps); err != nil {
		t.Fatalf("err: %v", err)
	}

	loaded, err := store.PeerSet()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if loaded.Len() != ps.Len() {
		t.Fatalf("loaded %d peers, want %d", loaded.Len(), ps.Len())
	}

	for _, id := range ps.IDs() {
		if _, ok := loaded.Get(id); !ok {
			t.Fatalf("peer %s missing after round trip", id)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	addrs := []Multiaddr{
		"/ip4/192.168.0.10/tcp/64001",
		"/ip4/192.168.0.10/tcp/64002/ws",
		"/webrtc/" + Multiaddr(testID(3).String()),
	}

	data, err := EncodeAddrs(addrs)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	decoded, err := DecodeAddrs(data)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(addrs, decoded) {
		t.Fatalf("round trip mismatch: %v != %v", addrs, decoded)
	}

	// canonical encoding: same set encodes to the same bytes
	data2, err := EncodeAddrs(decoded)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if string(data) != string(data2) {
		t.Fatalf("encoding is not canonical")
	}

	if _, err := DecodeAddrs([]byte{0xff, 0x00}); err == nil {
		t.Fatalf("garbage should not decode")
	}
}
