// Package signal defines the mechanism by which two nodes exchange SDP
// offers and answers to establish a WebRTC PeerConnection. Nodes are
// addressed by their base58 peer ID, so a WebRTC multiaddr is routable with
// nothing but the identity it embeds.
package signal

import "github.com/pion/webrtc/v2"

// Signal is a system through which nodes exchange SDP offers and answers to
// establish WebRTC PeerConnections.
type Signal interface {
	// ID returns the identity under which this end is reachable through the
	// signaling system.
	ID() string

	// Listen is called to listen for incoming SDP offers, and forward them
	// to the Consumer channel
	Listen() error

	// Consumer is the channel through which incoming SDP offers are passed
	// to the WebRTC stream layer. Offers are wrapped in a promise object
	// which offers a response mechanism.
	Consumer() <-chan OfferPromise

	// Offer sends an SDP offer and waits for an answer
	Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)

	// Close disconnects from the signaling system.
	Close() error
}
