// Package wamp implements WebRTC signaling with RPC over WebSockets.
//
// It contains a WAMP server that relays RPC requests between connected
// clients, and a client which implements the Signal interface and which can
// be used to instantiate a WebRTC stream layer. Clients register a procedure
// named after their base58 peer ID, so an offer addressed to a peer ID is
// routed to that peer by the router without any extra lookup.
//
// The server normally terminates TLS with the certificate it is given. A
// self-signed certificate works because clients can be handed the
// certificate directly through their configuration; there is also an option
// to skip certificate verification, which should only be used for testing.
// A server started without a certificate speaks plain ws, which is only
// acceptable on private networks and in tests.
package wamp

const (
	// ErrProcessingOffer indicates that the client who received the offer
	// ran into an error while processing it.
	ErrProcessingOffer = "io.plexus.processing_offer"
)
