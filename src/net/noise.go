package net

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/flynn/noise"
	"github.com/mosaicnetworks/plexus/src/crypto/keys"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/multiformats/go-varint"
)

const (
	// noisePayloadPrefix domain-separates the handshake signature: the
	// identity key signs the Noise static key, proving that whoever owns the
	// encrypted channel also owns the identity.
	noisePayloadPrefix = "plexus-noise-static-key:"

	// maxFrameSize is the Noise message ceiling.
	maxFrameSize = 65535

	// maxPlaintextSize is the chunk size for post-handshake frames.
	maxPlaintextSize = 4096
)

// ErrIdentityMismatch is returned when a handshake authenticates a different
// peer than the one the dialed address was pinned to.
var ErrIdentityMismatch = errors.New("handshake authenticated an unexpected peer")

// noisePayload is the handshake payload binding the ephemeral Noise static
// key to the node's secp256k1 identity.
type noisePayload struct {
	PubKey []byte `json:"pub_key"`
	Sig    []byte `json:"sig"`
}

// NoiseConfig upgrades raw connections with a Noise XX handshake
// (25519/ChaChaPoly/SHA256) carrying a signed identity payload. One
// NoiseConfig, with one ephemeral static key, serves all connections of a
// transport.
type NoiseConfig struct {
	suite   noise.CipherSuite
	static  noise.DHKey
	localID peers.ID
	payload []byte
}

// NewNoiseConfig generates the ephemeral static key and the signed identity
// payload for a transport.
func NewNoiseConfig(key *ecdsa.PrivateKey) (*NoiseConfig, error) {
	suite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

	static, err := suite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}

	sig, err := keys.Sign(key, append([]byte(noisePayloadPrefix), static.Public...))
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(noisePayload{
		PubKey: keys.PublicKeyBytes(&key.PublicKey),
		Sig:    sig,
	})
	if err != nil {
		return nil, err
	}

	return &NoiseConfig{
		suite:   suite,
		static:  static,
		localID: peers.NewID(&key.PublicKey),
		payload: payload,
	}, nil
}

// LocalID returns the identity the payload proves.
func (c *NoiseConfig) LocalID() peers.ID {
	return c.localID
}

// Upgrade runs the handshake over conn and returns the encrypted connection.
// If expected is not the zero ID, the remote must authenticate as exactly
// that peer. Callers are responsible for deadlines on conn.
func (c *NoiseConfig) Upgrade(conn net.Conn, initiator bool, expected peers.ID) (*SecureConn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   c.suite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: c.static,
	})
	if err != nil {
		return nil, err
	}

	// sized for message-oriented layers which deliver a whole frame per read
	br := bufio.NewReaderSize(conn, bufSize)

	var send, recv *noise.CipherState
	var remoteID peers.ID

	if initiator {
		// -> e
		msg, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, err
		}
		if err := writeFrame(conn, msg); err != nil {
			return nil, err
		}

		// <- e, ee, s, es + payload
		frame, err := readFrame(br)
		if err != nil {
			return nil, err
		}
		payload, _, _, err := hs.ReadMessage(nil, frame)
		if err != nil {
			return nil, err
		}
		remoteID, err = verifyPayload(payload, hs.PeerStatic())
		if err != nil {
			return nil, err
		}

		// -> s, se + payload
		msg, cs1, cs2, err := hs.WriteMessage(nil, c.payload)
		if err != nil {
			return nil, err
		}
		if err := writeFrame(conn, msg); err != nil {
			return nil, err
		}
		send, recv = cs1, cs2
	} else {
		// <- e
		frame, err := readFrame(br)
		if err != nil {
			return nil, err
		}
		if _, _, _, err := hs.ReadMessage(nil, frame); err != nil {
			return nil, err
		}

		// -> e, ee, s, es + payload
		msg, _, _, err := hs.WriteMessage(nil, c.payload)
		if err != nil {
			return nil, err
		}
		if err := writeFrame(conn, msg); err != nil {
			return nil, err
		}

		// <- s, se + payload
		frame, err = readFrame(br)
		if err != nil {
			return nil, err
		}
		payload, cs1, cs2, err := hs.ReadMessage(nil, frame)
		if err != nil {
			return nil, err
		}
		remoteID, err = verifyPayload(payload, hs.PeerStatic())
		if err != nil {
			return nil, err
		}
		send, recv = cs2, cs1
	}

	if !expected.IsZero() && remoteID != expected {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrIdentityMismatch, remoteID, expected)
	}

	return &SecureConn{
		conn:   conn,
		br:     br,
		send:   send,
		recv:   recv,
		remote: remoteID,
	}, nil
}

// verifyPayload checks the identity payload against the remote's Noise
// static key and derives the authenticated peer ID.
func verifyPayload(raw []byte, remoteStatic []byte) (peers.ID, error) {
	var p noisePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return peers.ZeroID, fmt.Errorf("parsing handshake payload: %v", err)
	}

	pub, err := keys.UnmarshalPublicKey(p.PubKey)
	if err != nil {
		return peers.ZeroID, err
	}

	msg := append([]byte(noisePayloadPrefix), remoteStatic...)
	if !keys.Verify(pub, msg, p.Sig) {
		return peers.ZeroID, errors.New("handshake payload signature does not verify")
	}

	return peers.IDFromPublicKeyBytes(p.PubKey), nil
}

// writeFrame writes the length prefix and the frame in a single Write so
// that message-oriented layers carry one frame per message.
func writeFrame(w io.Writer, frame []byte) error {
	if len(frame) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the %d limit", len(frame), maxFrameSize)
	}
	buf := append(varint.ToUvarint(uint64(len(frame))), frame...)
	_, err := w.Write(buf)
	return err
}

func readFrame(br *bufio.Reader) ([]byte, error) {
	l, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if l > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds the %d limit", l, maxFrameSize)
	}
	frame := make([]byte, l)
	if _, err := io.ReadFull(br, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// SecureConn is a net.Conn carrying varint-length-delimited encrypted frames
// over the handshaken connection.
type SecureConn struct {
	conn   net.Conn
	br     *bufio.Reader
	send   *noise.CipherState
	recv   *noise.CipherState
	buf    []byte
	remote peers.ID
}

// RemoteID returns the authenticated identity of the other end.
func (s *SecureConn) RemoteID() peers.ID {
	return s.remote
}

// Read implements the Conn Read method.
func (s *SecureConn) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		frame, err := readFrame(s.br)
		if err != nil {
			return 0, err
		}
		plain, err := s.recv.Decrypt(nil, nil, frame)
		if err != nil {
			return 0, err
		}
		s.buf = plain
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Write implements the Conn Write method.
func (s *SecureConn) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlaintextSize {
			chunk = chunk[:maxPlaintextSize]
		}

		ct, err := s.send.Encrypt(nil, nil, chunk)
		if err != nil {
			return written, err
		}
		if err := writeFrame(s.conn, ct); err != nil {
			return written, err
		}

		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// Close implements the Conn Close method.
func (s *SecureConn) Close() error {
	return s.conn.Close()
}

// LocalAddr implements the Conn LocalAddr method.
func (s *SecureConn) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr implements the Conn RemoteAddr method.
func (s *SecureConn) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// SetDeadline implements the Conn SetDeadline method.
func (s *SecureConn) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// SetReadDeadline implements the Conn SetReadDeadline method.
func (s *SecureConn) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements the Conn SetWriteDeadline method.
func (s *SecureConn) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}
