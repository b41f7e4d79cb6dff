package peers

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Networks a multiaddr can resolve to. They select the stream layer used to
// dial the address.
const (
	NetworkTCP    = "tcp"
	NetworkWS     = "ws"
	NetworkWebRTC = "webrtc"
)

// Multiaddr is a structured, self-describing network address in textual form:
//
//	/ip4/127.0.0.1/tcp/64001
//	/ip4/127.0.0.1/tcp/64002/ws
//	/dns4/node.example.com/tcp/64001/p2p/<base58 peer id>
//	/webrtc/<base58 peer id>
//
// The host component may be ip4, ip6, dns4 or dns6. A trailing /p2p component
// pins the identity expected at the other end. WebRTC addresses carry the
// peer identity directly, as it doubles as the signaling-server routing key.
type Multiaddr string

// ParseMultiaddr validates the textual form of a multiaddr.
func ParseMultiaddr(s string) (Multiaddr, error) {
	if !strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("multiaddr %q must begin with /", s)
	}

	parts := strings.Split(strings.TrimSuffix(s, "/"), "/")[1:]
	if len(parts) < 2 {
		return "", fmt.Errorf("multiaddr %q is too short", s)
	}

	switch parts[0] {
	case "webrtc":
		if _, err := ParseID(parts[1]); err != nil {
			return "", fmt.Errorf("multiaddr %q: %v", s, err)
		}
		if len(parts) > 2 {
			return "", fmt.Errorf("multiaddr %q has trailing components after the webrtc identity", s)
		}
		return Multiaddr(s), nil

	case "ip4", "ip6":
		ip := net.ParseIP(parts[1])
		if ip == nil {
			return "", fmt.Errorf("multiaddr %q has an invalid IP", s)
		}
		if parts[0] == "ip4" && ip.To4() == nil {
			return "", fmt.Errorf("multiaddr %q: %s is not an IPv4 address", s, parts[1])
		}

	case "dns4", "dns6":
		if parts[1] == "" {
			return "", fmt.Errorf("multiaddr %q has an empty host", s)
		}

	default:
		return "", fmt.Errorf("multiaddr %q has unsupported protocol %q", s, parts[0])
	}

	if len(parts) < 4 || parts[2] != "tcp" {
		return "", fmt.Errorf("multiaddr %q must carry a tcp port", s)
	}

	port, err := strconv.Atoi(parts[3])
	if err != nil || port < 0 || port > 65535 {
		return "", fmt.Errorf("multiaddr %q has an invalid port", s)
	}

	rest := parts[4:]
	if len(rest) > 0 && rest[0] == "ws" {
		rest = rest[1:]
	}

	switch {
	case len(rest) == 0:
	case len(rest) == 2 && rest[0] == "p2p":
		if _, err := ParseID(rest[1]); err != nil {
			return "", fmt.Errorf("multiaddr %q: %v", s, err)
		}
	default:
		return "", fmt.Errorf("multiaddr %q has unsupported trailing components", s)
	}

	return Multiaddr(s), nil
}

// MultiaddrFromNetAddr builds a multiaddr from a network name and a host:port
// pair, the form reported by net.Listener addresses.
func MultiaddrFromNetAddr(network string, hostport string) (Multiaddr, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", err
	}

	proto := "dns4"
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() != nil {
			proto = "ip4"
		} else {
			proto = "ip6"
		}
	}

	suffix := ""
	if network == NetworkWS {
		suffix = "/ws"
	}

	return ParseMultiaddr(fmt.Sprintf("/%s/%s/tcp/%s%s", proto, host, port, suffix))
}

func (m Multiaddr) components() []string {
	return strings.Split(strings.TrimSuffix(string(m), "/"), "/")[1:]
}

// String returns the textual form.
func (m Multiaddr) String() string {
	return string(m)
}

// Network returns the stream layer network this address dials through.
func (m Multiaddr) Network() string {
	parts := m.components()
	if len(parts) == 0 {
		return ""
	}
	if parts[0] == "webrtc" {
		return NetworkWebRTC
	}
	for _, p := range parts[4:] {
		if p == "ws" {
			return NetworkWS
		}
	}
	return NetworkTCP
}

// DialAddr returns the address understood by the stream layer: host:port for
// TCP and WebSocket, the signaling identity for WebRTC.
func (m Multiaddr) DialAddr() string {
	parts := m.components()
	if len(parts) < 2 {
		return ""
	}
	if parts[0] == "webrtc" {
		return parts[1]
	}
	if len(parts) < 4 {
		return ""
	}
	return net.JoinHostPort(parts[1], parts[3])
}

// PeerID extracts the peer identity embedded in the multiaddr.
func (m Multiaddr) PeerID() (ID, error) {
	parts := m.components()
	if len(parts) >= 2 && parts[0] == "webrtc" {
		return ParseID(parts[1])
	}
	if len(parts) >= 2 && parts[len(parts)-2] == "p2p" {
		return ParseID(parts[len(parts)-1])
	}
	return ZeroID, fmt.Errorf("multiaddr %q carries no peer identity", m)
}

// HasPeer reports whether the multiaddr embeds a peer identity.
func (m Multiaddr) HasPeer() bool {
	_, err := m.PeerID()
	return err == nil
}

// WithPeer returns the multiaddr with the peer identity pinned.
func (m Multiaddr) WithPeer(id ID) Multiaddr {
	if m.Network() == NetworkWebRTC {
		return m
	}
	return m.WithoutPeer() + Multiaddr("/p2p/"+id.String())
}

// WithoutPeer returns the multiaddr with any trailing /p2p component
// stripped. WebRTC addresses are returned unchanged since their identity is
// structural.
func (m Multiaddr) WithoutPeer() Multiaddr {
	parts := m.components()
	if len(parts) >= 2 && parts[0] != "webrtc" && parts[len(parts)-2] == "p2p" {
		return Multiaddr("/" + strings.Join(parts[:len(parts)-2], "/"))
	}
	return m
}
