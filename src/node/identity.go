package node

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/plexus/src/crypto/keys"
	"github.com/mosaicnetworks/plexus/src/peers"
)

//Identity holds the key material behind a node's peer ID
type Identity struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id       peers.ID
	pubBytes []byte
	pubHex   string
}

//NewIdentity is a factory method for an Identity
func NewIdentity(key *ecdsa.PrivateKey, moniker string) *Identity {
	return &Identity{
		Key:     key,
		Moniker: moniker,
	}
}

//ID returns the peer ID derived from the public key
func (v *Identity) ID() peers.ID {
	if v.id.IsZero() {
		v.id = peers.NewID(&v.Key.PublicKey)
	}
	return v.id
}

//PublicKeyBytes returns the identity's public key as a byte array
func (v *Identity) PublicKeyBytes() []byte {
	if len(v.pubBytes) == 0 {
		v.pubBytes = keys.PublicKeyBytes(&v.Key.PublicKey)
	}
	return v.pubBytes
}

//PublicKeyHex returns the identity's public key as a hex string
func (v *Identity) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}
