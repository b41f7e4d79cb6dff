package kad

import (
	"testing"

	"github.com/mosaicnetworks/plexus/src/peers"
)

func idWithPrefix(b ...byte) peers.ID {
	var id peers.ID
	copy(id[:], b)
	return id
}

func TestXORDistance(t *testing.T) {
	a := idWithPrefix(0xff)
	b := idWithPrefix(0x0f)

	d := XORDistance(a, b)
	if d[0] != 0xf0 {
		t.Fatalf("distance[0] = %x, want f0", d[0])
	}
	for i := 1; i < peers.IDLength; i++ {
		if d[i] != 0 {
			t.Fatalf("distance[%d] = %x, want 0", i, d[i])
		}
	}

	if XORDistance(a, a) != (Distance{}) {
		t.Fatal("distance to self should be zero")
	}
}

func TestCompareDistance(t *testing.T) {
	target := idWithPrefix(0x00)
	near := idWithPrefix(0x01)
	far := idWithPrefix(0x80)

	if CompareDistance(near, far, target) >= 0 {
		t.Fatal("0x01 should be closer to 0x00 than 0x80")
	}
	if CompareDistance(far, near, target) <= 0 {
		t.Fatal("0x80 should be farther from 0x00 than 0x01")
	}
	if CompareDistance(near, near, target) != 0 {
		t.Fatal("a peer is equidistant with itself")
	}
}

func TestCommonPrefixLen(t *testing.T) {
	cases := []struct {
		a, b     peers.ID
		expected int
	}{
		{idWithPrefix(0x00), idWithPrefix(0x80), 0},
		{idWithPrefix(0x00), idWithPrefix(0x40), 1},
		{idWithPrefix(0x00), idWithPrefix(0x01), 7},
		{idWithPrefix(0x00), idWithPrefix(0x00, 0x80), 8},
		{idWithPrefix(0xff), idWithPrefix(0xff), peers.IDLength * 8},
	}

	for _, c := range cases {
		if got := CommonPrefixLen(c.a, c.b); got != c.expected {
			t.Fatalf("CommonPrefixLen(%x, %x) = %d, want %d", c.a[0], c.b[0], got, c.expected)
		}
	}
}
