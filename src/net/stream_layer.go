package net

import (
	"net"
	"time"
)

// StreamLayer is the raw connection provider underneath a NetworkTransport.
// Addresses at this level are dial strings (host:port, or a signaling
// identity for WebRTC); multiaddr resolution happens in the transport.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// Network names the multiaddr network this layer serves.
	Network() string

	// AdvertiseAddr returns the address advertised to other nodes.
	AdvertiseAddr() string
}
