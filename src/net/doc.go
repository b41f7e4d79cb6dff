// Package net implements the transports that connect Plexus nodes.
//
// This package contains the Transport interface, which nodes use to send and
// receive the RPC requests of the overlay's wire protocols (ping, identify,
// DHT find-node/get/put, and NAT dial-back). The production implementation,
// NetworkTransport, frames RPCs over connections obtained from pluggable
// StreamLayers:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// - WebSocket: TCP carrying a WebSocket stream, for nodes behind
// HTTP-friendly infrastructure
//
// - WebRTC: data channels negotiated through a signaling server, for nodes
// that cannot accept inbound connections at all
//
// Every raw connection, inbound or outbound, is upgraded with a Noise XX
// handshake before any RPC flows. The handshake binds the wire to the
// remote's secp256k1 identity: each side proves ownership of its identity key
// by signing its ephemeral Noise static key, and the transport derives the
// authenticated peer ID from the proven identity key. Inbound RPCs carry that
// authenticated ID, so handlers never trust sender information in payloads.
//
// Multiaddrs select the stream layer: /ip4/../tcp/.. dials TCP,
// /ip4/../tcp/../ws dials WebSocket, /webrtc/<id> dials through the
// signaling server. A /p2p/<id> component pins the identity the handshake
// must authenticate; dialing a pinned address that authenticates as anyone
// else fails.
package net
