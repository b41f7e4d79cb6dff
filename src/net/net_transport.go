package net

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/sirupsen/logrus"
)

/*******************************************************************************
THE CONNECTION POOL AND RPC FRAMING ARE TAKEN FROM HASHICORP RAFT
*******************************************************************************/

const (
	rpcPing uint8 = iota
	rpcIdentify
	rpcFindNode
	rpcGetRecord
	rpcPutRecord
	rpcDialBack
)

const (
	// we need this high buffer size for compatibility with WebRTC
	bufSize = math.MaxUint16
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrUnknownNetwork is returned when no stream layer serves the target's
	// network.
	ErrUnknownNetwork = errors.New("no stream layer for target network")

	// ErrDialTimeout is returned when the target did not answer in time.
	ErrDialTimeout = errors.New("dial timeout")

	// ErrUnreachable is returned when the target could not be reached at
	// all.
	ErrUnreachable = errors.New("peer unreachable")

	// ErrHandshakeFailed is returned when a connection was established but
	// the security handshake did not complete.
	ErrHandshakeFailed = errors.New("security handshake failed")
)

/*
NetworkTransport provides a network based transport that can be used to
communicate with plexus nodes on remote machines. It multiplexes pluggable
stream layers, one per network (TCP, WebSocket, WebRTC), and upgrades every
raw connection with the Noise handshake before any RPC flows.

This transport is very simple and lightweight. Each RPC request is framed by
sending a byte that indicates the message type, followed by the json encoded
request. The response is an error string followed by the response object,
both encoded with json. All of it travels inside encrypted frames.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	noise *NoiseConfig

	layers map[string]StreamLayer

	connPool     map[string][]*netConn
	connPoolLock sync.Mutex
	maxPool      int

	consumeCh chan RPC
	eventsCh  chan SessionEvent

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	timeout time.Duration
}

type netConn struct {
	target string
	peer   peers.ID
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	dec    *json.Decoder
	enc    *json.Encoder
}

// Release closes the underlying connection
func (n *netConn) Release() error {
	return n.conn.Close()
}

// NewNetworkTransport creates a new network transport on top of the given
// stream layers. The maxPool controls how many connections we will pool (per
// target). The timeout is used to apply I/O deadlines, including on the
// security handshake.
func NewNetworkTransport(
	layers []StreamLayer,
	noiseCfg *NoiseConfig,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	layerMap := make(map[string]StreamLayer, len(layers))
	for _, l := range layers {
		layerMap[l.Network()] = l
	}

	trans := &NetworkTransport{
		connPool:   make(map[string][]*netConn),
		consumeCh:  make(chan RPC),
		eventsCh:   make(chan SessionEvent, 16),
		logger:     logger,
		noise:      noiseCfg,
		layers:     layerMap,
		maxPool:    maxPool,
		shutdownCh: make(chan struct{}),
		timeout:    timeout,
	}

	return trans
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		for _, l := range n.layers {
			l.Close()
		}

		n.connPoolLock.Lock()
		for _, conns := range n.connPool {
			for _, conn := range conns {
				conn.Release()
			}
		}
		n.connPool = make(map[string][]*netConn)
		n.connPoolLock.Unlock()

		n.shutdown = true
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// Events implements the Transport interface.
func (n *NetworkTransport) Events() <-chan SessionEvent {
	return n.eventsCh
}

// LocalID implements the Transport interface.
func (n *NetworkTransport) LocalID() peers.ID {
	return n.noise.LocalID()
}

// LocalAddrs returns the bound address of every stream layer, for logging.
func (n *NetworkTransport) LocalAddrs() []string {
	var addrs []string
	for _, l := range n.layers {
		if a := l.Addr(); a != nil {
			addrs = append(addrs, fmt.Sprintf("%s(%s)", l.Network(), a.String()))
		} else {
			addrs = append(addrs, l.Network())
		}
	}
	return addrs
}

// AdvertiseAddrs implements the Transport interface. Layers bound to an
// unspecified IP are expanded to the machine's interface addresses, because
// an address nobody can dial is not worth advertising.
func (n *NetworkTransport) AdvertiseAddrs() []peers.Multiaddr {
	var addrs []peers.Multiaddr

	for _, network := range []string{peers.NetworkTCP, peers.NetworkWS, peers.NetworkWebRTC} {
		layer, ok := n.layers[network]
		if !ok {
			continue
		}

		if network == peers.NetworkWebRTC {
			m, err := peers.ParseMultiaddr("/webrtc/" + layer.AdvertiseAddr())
			if err != nil {
				n.logger.WithError(err).Warn("Invalid WebRTC advertise address")
				continue
			}
			addrs = append(addrs, m)
			continue
		}

		for _, hostport := range expandUnspecified(layer.AdvertiseAddr()) {
			m, err := peers.MultiaddrFromNetAddr(network, hostport)
			if err != nil {
				n.logger.WithError(err).WithField("addr", hostport).Warn("Invalid advertise address")
				continue
			}
			addrs = append(addrs, m)
		}
	}

	return addrs
}

// expandUnspecified substitutes 0.0.0.0 and :: with the machine's unicast
// interface addresses, keeping the port.
func expandUnspecified(hostport string) []string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil || !ip.IsUnspecified() {
		return []string{hostport}
	}

	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var out []string
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip.To4() != nil && ipNet.IP.To4() == nil {
			continue
		}
		if ip.To4() == nil && ipNet.IP.To4() != nil {
			continue
		}
		if ipNet.IP.IsLinkLocalUnicast() || ipNet.IP.IsMulticast() {
			continue
		}
		out = append(out, net.JoinHostPort(ipNet.IP.String(), port))
	}
	return out
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// getPooledConn is used to grab a pooled connection.
func (n *NetworkTransport) getPooledConn(target string) *netConn {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	conns, ok := n.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *netConn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	n.connPool[target] = conns[:num-1]
	return conn
}

// dial establishes and secures a fresh connection to the target.
func (n *NetworkTransport) dial(target peers.Multiaddr, timeout time.Duration) (*SecureConn, error) {
	layer, ok := n.layers[target.Network()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, target.Network())
	}

	conn, err := layer.Dial(target.DialAddr(), timeout)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrDialTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	// the handshake must not outlive the dial budget
	expected, _ := target.PeerID()
	conn.SetDeadline(time.Now().Add(timeout))

	sec, err := n.noise.Upgrade(conn, true, expected)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	sec.SetDeadline(time.Time{})

	return sec, nil
}

// getConn is used to get a usable connection from the pool, dialing a new
// one if needed.
func (n *NetworkTransport) getConn(target peers.Multiaddr, timeout time.Duration) (*netConn, error) {
	// Check for a pooled conn
	if conn := n.getPooledConn(target.String()); conn != nil {
		return conn, nil
	}

	sec, err := n.dial(target, timeout)
	if err != nil {
		return nil, err
	}

	// Wrap the conn
	netConn := &netConn{
		target: target.String(),
		peer:   sec.RemoteID(),
		conn:   sec,
		r:      bufio.NewReaderSize(sec, bufSize),
		w:      bufio.NewWriterSize(sec, bufSize),
	}
	// Setup encoder/decoders
	netConn.dec = json.NewDecoder(netConn.r)
	netConn.enc = json.NewEncoder(netConn.w)

	// Done
	return netConn, nil
}

// returnConn returns a connection back to the pool.
func (n *NetworkTransport) returnConn(conn *netConn) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	key := conn.target
	conns := n.connPool[key]

	if !n.IsShutdown() && len(conns) < n.maxPool {
		n.connPool[key] = append(conns, conn)
	} else {
		conn.Release()
	}
}

// Ping implements the Transport interface.
func (n *NetworkTransport) Ping(target peers.Multiaddr, args *PingRequest, resp *PingResponse) error {
	return n.genericRPC(target, rpcPing, args, resp)
}

// Identify implements the Transport interface.
func (n *NetworkTransport) Identify(target peers.Multiaddr, args *IdentifyRequest, resp *IdentifyResponse) error {
	return n.genericRPC(target, rpcIdentify, args, resp)
}

// FindNode implements the Transport interface.
func (n *NetworkTransport) FindNode(target peers.Multiaddr, args *FindNodeRequest, resp *FindNodeResponse) error {
	return n.genericRPC(target, rpcFindNode, args, resp)
}

// GetRecord implements the Transport interface.
func (n *NetworkTransport) GetRecord(target peers.Multiaddr, args *GetRecordRequest, resp *GetRecordResponse) error {
	return n.genericRPC(target, rpcGetRecord, args, resp)
}

// PutRecord implements the Transport interface.
func (n *NetworkTransport) PutRecord(target peers.Multiaddr, args *PutRecordRequest, resp *PutRecordResponse) error {
	return n.genericRPC(target, rpcPutRecord, args, resp)
}

// DialBack implements the Transport interface.
func (n *NetworkTransport) DialBack(target peers.Multiaddr, args *DialBackRequest, resp *DialBackResponse) error {
	return n.genericRPC(target, rpcDialBack, args, resp)
}

// Probe implements the Transport interface. The connection is deliberately
// not pooled: a dial-back must prove that a fresh inbound path to the target
// works.
func (n *NetworkTransport) Probe(target peers.Multiaddr) error {
	sec, err := n.dial(target, n.timeout)
	if err != nil {
		return err
	}
	return sec.Close()
}

// genericRPC handles a simple request/response RPC.
func (n *NetworkTransport) genericRPC(target peers.Multiaddr, rpcType uint8, args interface{}, resp interface{}) error {
	// Get a conn
	conn, err := n.getConn(target, n.timeout)
	if err != nil {
		return err
	}

	// Set a deadline
	if n.timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(n.timeout))
	}

	// Send the RPC
	if err = sendRPC(conn, rpcType, args); err != nil {
		return err
	}

	// Decode the response
	canReturn, err := decodeResponse(conn, resp)
	if canReturn {
		n.returnConn(conn)
	}

	return err
}

// sendRPC is used to encode and send the RPC.
func sendRPC(conn *netConn, rpcType uint8, args interface{}) error {
	// Write the request type
	if err := conn.w.WriteByte(rpcType); err != nil {
		conn.Release()
		return err
	}

	// Send the request
	if err := conn.enc.Encode(args); err != nil {
		conn.Release()
		return err
	}

	// Flush
	if err := conn.w.Flush(); err != nil {
		conn.Release()
		return err
	}
	return nil
}

// decodeResponse is used to decode an RPC response and reports whether
// the connection can be reused.
func decodeResponse(conn *netConn, resp interface{}) (bool, error) {
	// Decode the error if any
	var rpcError string
	if err := conn.dec.Decode(&rpcError); err != nil {
		conn.Release()
		return false, err
	}

	// Decode the response
	if err := conn.dec.Decode(resp); err != nil {
		conn.Release()
		return false, err
	}

	// Format an error if any
	if rpcError != "" {
		return true, errors.New(rpcError)
	}
	return true, nil
}

// Listen runs the accept loop of every stream layer and blocks until the
// transport is closed.
func (n *NetworkTransport) Listen() {
	for _, layer := range n.layers {
		go n.acceptLoop(layer)
	}
	<-n.shutdownCh
}

// acceptLoop handles incoming connections of one stream layer.
func (n *NetworkTransport) acceptLoop(layer StreamLayer) {
	for {
		// Accept incoming connections
		conn, err := layer.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}

		// Handle the connection in dedicated routine
		go n.handleConn(conn)
	}
}

// handleConn secures an inbound connection and serves it for its lifespan.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(n.timeout))

	sec, err := n.noise.Upgrade(conn, false, peers.ZeroID)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"from":  conn.RemoteAddr(),
			"error": err,
		}).Warn("Inbound handshake failed")
		return
	}

	sec.SetDeadline(time.Time{})

	from := sec.RemoteID()
	remoteAddr := ""
	if a := sec.RemoteAddr(); a != nil {
		remoteAddr = a.String()
	}

	n.logger.WithFields(logrus.Fields{
		"peer": from.Short(),
		"from": remoteAddr,
	}).Debug("accepted connection")

	n.emitEvent(SessionEvent{Peer: from, RemoteAddr: remoteAddr})

	r := bufio.NewReaderSize(sec, bufSize)
	w := bufio.NewWriterSize(sec, bufSize)
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)

	var loopErr error
	for {
		if err := n.handleCommand(r, dec, enc, from); err != nil {
			if err != io.EOF && err != ErrTransportShutdown {
				n.logger.WithField("error", err).Error("Failed to decode incoming command")
				loopErr = err
			}
			break
		}
		if err := w.Flush(); err != nil {
			n.logger.WithField("error", err).Error("Failed to flush response")
			loopErr = err
			break
		}
	}

	n.emitEvent(SessionEvent{Peer: from, RemoteAddr: remoteAddr, Closed: true, Err: loopErr})
}

func (n *NetworkTransport) emitEvent(ev SessionEvent) {
	select {
	case n.eventsCh <- ev:
	case <-n.shutdownCh:
	}
}

// handleCommand is used to decode and dispatch a single command.
func (n *NetworkTransport) handleCommand(r *bufio.Reader, dec *json.Decoder, enc *json.Encoder, from peers.ID) error {
	// Get the rpc type
	rpcType, err := r.ReadByte()
	if err != nil {
		return err
	}

	// Create the RPC object
	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		From:     from,
		RespChan: respCh,
	}

	// Decode the command
	switch rpcType {
	case rpcPing:
		var req PingRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		req.From = from
		rpc.Command = &req
	case rpcIdentify:
		var req IdentifyRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		req.From = from
		rpc.Command = &req
	case rpcFindNode:
		var req FindNodeRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		req.From = from
		rpc.Command = &req
	case rpcGetRecord:
		var req GetRecordRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		req.From = from
		rpc.Command = &req
	case rpcPutRecord:
		var req PutRecordRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		req.From = from
		rpc.Command = &req
	case rpcDialBack:
		var req DialBackRequest
		if err := dec.Decode(&req); err != nil {
			return err
		}
		req.From = from
		rpc.Command = &req
	default:
		return fmt.Errorf("unknown rpc type %d", rpcType)
	}

	// Dispatch the RPC
	select {
	case n.consumeCh <- rpc:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	// Wait for response
	select {
	case resp := <-respCh:
		// Send the error first
		respErr := ""
		if resp.Error != nil {
			respErr = resp.Error.Error()
		}
		if err := enc.Encode(respErr); err != nil {
			return err
		}

		// Send the response
		if err := enc.Encode(resp.Response); err != nil {
			return err
		}
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	return nil
}
