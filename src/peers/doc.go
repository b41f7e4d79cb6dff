// Package peers defines the concept of a Plexus peer and implements functions
// to manage peer identities and addresses.
//
// A peer is identified by a 32-byte ID derived from its secp256k1 public key.
// IDs are immutable and compared by equality only; their string form is
// base58. XOR distance between IDs is what the DHT routes on, but the routing
// logic itself lives in the kad package.
//
// Peers are reached through multiaddrs: self-describing addresses that stack
// the network protocol and, optionally, the expected peer identity, e.g.
// /ip4/192.168.0.10/tcp/64001/p2p/<base58 id>. A multiaddr with an embedded
// identity can be dialed with authentication; one without can only be used
// where the identity is already known.
//
// Upon starting up, Plexus expects to find a bootstrap.json file in its data
// directory: a JSON array of multiaddrs, each embedding a peer identity.
// These peers are inserted into the DHT routing table before any discovery
// occurs.
package peers
