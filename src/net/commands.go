package net

import (
	"github.com/mosaicnetworks/plexus/src/peers"
)

// NodeInfo is the self-description exchanged by the identify protocol right
// after session establishment.
type NodeInfo struct {
	// Version is the identify protocol version string.
	Version string

	// Agent names the node software and version, e.g. "plexus/0.1.0".
	Agent string

	// PubKey is the uncompressed secp256k1 public key of the node.
	PubKey []byte

	// ListenAddrs is the full list of addresses the node believes it listens
	// on and that are worth advertising.
	ListenAddrs []peers.Multiaddr

	// Protocols lists the wire protocols the node speaks.
	Protocols []string
}

// PingRequest carries a random nonce for the liveness probe.
type PingRequest struct {
	From  peers.ID
	Nonce []byte
}

// PingResponse echoes the nonce back.
type PingResponse struct {
	From  peers.ID
	Nonce []byte
}

// IdentifyRequest opens an identity exchange: the requester presents its own
// self-description.
type IdentifyRequest struct {
	From peers.ID
	Info NodeInfo
}

// IdentifyResponse completes the exchange with the responder's
// self-description, so a single round trip identifies both ends.
type IdentifyResponse struct {
	From peers.ID
	Info NodeInfo
}

// FindNodeRequest asks for the peers closest to Target by XOR distance.
type FindNodeRequest struct {
	From   peers.ID
	Target peers.ID
}

// FindNodeResponse returns the closest peers known to the responder.
type FindNodeResponse struct {
	From  peers.ID
	Peers []*peers.Peer
}

// GetRecordRequest asks for the record stored under Key.
type GetRecordRequest struct {
	From peers.ID
	Key  []byte
}

// GetRecordResponse returns the record value if the responder stores it,
// together with closer peers to continue the lookup when it does not.
type GetRecordResponse struct {
	From   peers.ID
	Found  bool
	Value  []byte
	Closer []*peers.Peer
}

// PutRecordRequest asks the responder to store a record.
type PutRecordRequest struct {
	From  peers.ID
	Key   []byte
	Value []byte
}

// PutRecordResponse acknowledges a stored record. Rejections travel back as
// RPC errors.
type PutRecordResponse struct {
	From peers.ID
}

// DialBackRequest asks the responder to dial the requester's claimed
// addresses on fresh connections and report which ones are reachable.
type DialBackRequest struct {
	From  peers.ID
	Addrs []peers.Multiaddr
}

// DialBackResult is the outcome of one dial-back attempt.
type DialBackResult struct {
	Addr peers.Multiaddr
	OK   bool
	Err  string
}

// DialBackResponse reports the outcome per claimed address.
type DialBackResponse struct {
	From    peers.ID
	Results []DialBackResult
}
