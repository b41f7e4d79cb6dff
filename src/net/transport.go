package net

import (
	"github.com/mosaicnetworks/plexus/src/peers"
)

// SessionEvent reports the lifecycle of inbound sessions: an event with
// Closed unset is emitted when a connection completes the security handshake,
// and a matching event with Closed set is emitted when the connection goes
// away.
type SessionEvent struct {
	Peer       peers.ID
	RemoteAddr string
	Closed     bool
	Err        error
}

// Transport provides an interface for the overlay's wire protocols. It allows
// the node to speak to remote peers and to consume the RPCs and session
// events that remote peers produce.
type Transport interface {
	// Listen starts the accept loops of all stream layers. It blocks until
	// the transport is closed.
	Listen()

	// Consumer returns a channel that can be used to consume and respond to
	// inbound RPC requests.
	Consumer() <-chan RPC

	// Events returns the channel on which inbound session lifecycle events
	// are delivered.
	Events() <-chan SessionEvent

	// LocalID returns the authenticated identity of this transport.
	LocalID() peers.ID

	// AdvertiseAddrs returns the multiaddrs advertised to other nodes, one
	// per active stream layer.
	AdvertiseAddrs() []peers.Multiaddr

	// Ping sends the appropriate RPC to the target peer.
	Ping(target peers.Multiaddr, args *PingRequest, resp *PingResponse) error

	// Identify sends the appropriate RPC to the target peer.
	Identify(target peers.Multiaddr, args *IdentifyRequest, resp *IdentifyResponse) error

	// FindNode sends the appropriate RPC to the target peer.
	FindNode(target peers.Multiaddr, args *FindNodeRequest, resp *FindNodeResponse) error

	// GetRecord sends the appropriate RPC to the target peer.
	GetRecord(target peers.Multiaddr, args *GetRecordRequest, resp *GetRecordResponse) error

	// PutRecord sends the appropriate RPC to the target peer.
	PutRecord(target peers.Multiaddr, args *PutRecordRequest, resp *PutRecordResponse) error

	// DialBack sends the appropriate RPC to the target peer.
	DialBack(target peers.Multiaddr, args *DialBackRequest, resp *DialBackResponse) error

	// Probe establishes a fresh, non-pooled connection to the target, runs
	// the security handshake, and closes it. It is how dial-back requests are
	// verified.
	Probe(target peers.Multiaddr) error

	// Close permanently closes the transport, its listeners and pooled
	// connections.
	Close() error
}
