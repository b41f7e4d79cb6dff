package node

import (
	"time"

	"github.com/mosaicnetworks/plexus/src/peers"
)

// session tracks one active connection from establishment to disconnection.
// A session starts unidentified; the first identity exchange settles it for
// good, whichever way it goes. A reconnecting peer gets a fresh session.
//
// addr holds the dialed multiaddr for outbound sessions, or the observed
// remote address for inbound ones.
type session struct {
	peer    peers.ID
	addr    string
	inbound bool

	// identified is set by the first exchange outcome and never cleared.
	// Duplicate exchanges within the session are not re-evaluated.
	identified bool

	// routable means the peer passed the address-learning gate and was
	// registered with the DHT.
	routable bool

	connectedAt time.Time
	lastRTT     time.Duration
	agent       string
}

// SessionInfo is the JSON-friendly snapshot of a session served by the HTTP
// service.
type SessionInfo struct {
	Peer        string    `json:"peer"`
	Addr        string    `json:"addr"`
	Inbound     bool      `json:"inbound"`
	Identified  bool      `json:"identified"`
	Routable    bool      `json:"routable"`
	Agent       string    `json:"agent,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastRTT     string    `json:"last_rtt,omitempty"`
}

func (s *session) info() SessionInfo {
	info := SessionInfo{
		Peer:        s.peer.String(),
		Addr:        s.addr,
		Inbound:     s.inbound,
		Identified:  s.identified,
		Routable:    s.routable,
		Agent:       s.agent,
		ConnectedAt: s.connectedAt,
	}
	if s.lastRTT > 0 {
		info.LastRTT = s.lastRTT.String()
	}
	return info
}
