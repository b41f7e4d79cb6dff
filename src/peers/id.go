package peers

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/mosaicnetworks/plexus/src/crypto"
	"github.com/mosaicnetworks/plexus/src/crypto/keys"
)

// IDLength is the size in bytes of a peer ID.
const IDLength = 32

// ID is the unique, stable identifier of a peer: the SHA256 hash of its
// uncompressed secp256k1 public key.
type ID [IDLength]byte

// ZeroID is the zero value of an ID. It identifies no peer.
var ZeroID ID

// NewID derives a peer ID from a public key.
func NewID(pub *ecdsa.PublicKey) ID {
	return IDFromPublicKeyBytes(keys.PublicKeyBytes(pub))
}

// IDFromPublicKeyBytes derives a peer ID from an uncompressed SEC1 public
// key.
func IDFromPublicKeyBytes(pubBytes []byte) ID {
	var id ID
	copy(id[:], crypto.SHA256(pubBytes))
	return id
}

// IDFromBytes converts a raw 32-byte slice, as carried in DHT record keys,
// into an ID.
func IDFromBytes(raw []byte) (ID, error) {
	var id ID
	if len(raw) != IDLength {
		return id, fmt.Errorf("ID should be %d bytes, not %d", IDLength, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ParseID parses the base58 string form of an ID.
func ParseID(s string) (ID, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return ZeroID, fmt.Errorf("parsing peer ID %q: %v", s, err)
	}
	return IDFromBytes(raw)
}

// Bytes returns the raw ID, the form used as a DHT record key.
func (id ID) Bytes() []byte {
	return id[:]
}

// String returns the base58 form of the ID.
func (id ID) String() string {
	return base58.Encode(id[:])
}

// Short returns a truncated base58 form for logging.
func (id ID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id == ZeroID
}
