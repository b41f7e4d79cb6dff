// Package keys implements the public key cryptography used throughout Plexus.
//
// An instance of a Plexus node owns a cryptographic key-pair that identifies
// it on the overlay. The private key is secret but the public key is shared
// with other nodes, which derive the node's peer ID from it and use it to
// verify signed handshake material.
//
// Plexus uses elliptic curve cryptography (ECDSA) with the secp256k1 curve.
// We chose the secp256k1 curve because it is also used by Bitcoin and
// Ethereum which means that Bitcoin and Ethereum keys can be used to operate
// a Plexus node.
package keys
