package kad

import (
	"bytes"
	"math/bits"

	"github.com/mosaicnetworks/plexus/src/peers"
)

// Distance is the XOR metric between two IDs, big-endian.
type Distance [peers.IDLength]byte

// XORDistance computes the distance between two IDs.
func XORDistance(a, b peers.ID) Distance {
	var d Distance
	for i := 0; i < peers.IDLength; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether d is strictly closer than o.
func (d Distance) Less(o Distance) bool {
	return bytes.Compare(d[:], o[:]) < 0
}

// CompareDistance orders a and b by their distance to target. It returns -1
// when a is closer, 1 when b is closer, and 0 when they are equidistant.
func CompareDistance(a, b, target peers.ID) int {
	da := XORDistance(a, target)
	db := XORDistance(b, target)
	return bytes.Compare(da[:], db[:])
}

// CommonPrefixLen counts the leading bits shared by two IDs. It is the
// bucket index of b in a's routing table.
func CommonPrefixLen(a, b peers.ID) int {
	d := XORDistance(a, b)
	for i, x := range d {
		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return peers.IDLength * 8
}
