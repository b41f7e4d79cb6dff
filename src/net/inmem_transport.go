package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/plexus/src/peers"
)

// NewInmemAddr returns a new in-memory multiaddr with a randomly generated
// UUID as the host.
func NewInmemAddr() peers.Multiaddr {
	m, _ := peers.ParseMultiaddr(fmt.Sprintf("/dns4/%s.inmem/tcp/1", uuid.New()))
	return m
}

// InmemTransport implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network. Identity pinning is
// honoured: a dial to a multiaddr pinned to the wrong peer fails the way a
// real handshake would.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	eventsCh   chan SessionEvent
	localID    peers.ID
	localAddr  peers.Multiaddr
	peers      map[string]*InmemTransport
	timeout    time.Duration

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewInmemTransport is used to initialize a new transport and generates a
// random local address if none is specified.
func NewInmemTransport(id peers.ID, addr peers.Multiaddr) (peers.Multiaddr, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 16),
		eventsCh:   make(chan SessionEvent, 16),
		localID:    id,
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    50 * time.Millisecond,
		closeCh:    make(chan struct{}),
	}
	return addr, trans
}

// Listen implements the Transport interface. There is nothing to accept, so
// it just blocks until the transport is closed.
func (i *InmemTransport) Listen() {
	<-i.closeCh
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// Events implements the Transport interface.
func (i *InmemTransport) Events() <-chan SessionEvent {
	return i.eventsCh
}

// EmitSessionEvent injects a session event, standing in for an inbound
// connection coming or going.
func (i *InmemTransport) EmitSessionEvent(ev SessionEvent) {
	i.eventsCh <- ev
}

// LocalID implements the Transport interface.
func (i *InmemTransport) LocalID() peers.ID {
	return i.localID
}

// AdvertiseAddrs implements the Transport interface.
func (i *InmemTransport) AdvertiseAddrs() []peers.Multiaddr {
	return []peers.Multiaddr{i.localAddr}
}

// Ping implements the Transport interface.
func (i *InmemTransport) Ping(target peers.Multiaddr, args *PingRequest, resp *PingResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*PingResponse)
	*resp = *out
	return nil
}

// Identify implements the Transport interface.
func (i *InmemTransport) Identify(target peers.Multiaddr, args *IdentifyRequest, resp *IdentifyResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*IdentifyResponse)
	*resp = *out
	return nil
}

// FindNode implements the Transport interface.
func (i *InmemTransport) FindNode(target peers.Multiaddr, args *FindNodeRequest, resp *FindNodeResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*FindNodeResponse)
	*resp = *out
	return nil
}

// GetRecord implements the Transport interface.
func (i *InmemTransport) GetRecord(target peers.Multiaddr, args *GetRecordRequest, resp *GetRecordResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*GetRecordResponse)
	*resp = *out
	return nil
}

// PutRecord implements the Transport interface.
func (i *InmemTransport) PutRecord(target peers.Multiaddr, args *PutRecordRequest, resp *PutRecordResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*PutRecordResponse)
	*resp = *out
	return nil
}

// DialBack implements the Transport interface.
func (i *InmemTransport) DialBack(target peers.Multiaddr, args *DialBackRequest, resp *DialBackResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}

	// Copy the result back
	out := rpcResp.Response.(*DialBackResponse)
	*resp = *out
	return nil
}

// Probe implements the Transport interface. It succeeds when the target is
// routable, which is all a fresh connection proves.
func (i *InmemTransport) Probe(target peers.Multiaddr) error {
	_, err := i.resolve(target)
	return err
}

func (i *InmemTransport) resolve(target peers.Multiaddr) (*InmemTransport, error) {
	i.RLock()
	peer, ok := i.peers[target.WithoutPeer().String()]
	i.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, target)
	}

	if id, err := target.PeerID(); err == nil && id != peer.localID {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, ErrIdentityMismatch)
	}

	return peer, nil
}

func (i *InmemTransport) makeRPC(target peers.Multiaddr, args interface{}, timeout time.Duration) (rpcResp RPCResponse, err error) {
	peer, err := i.resolve(target)
	if err != nil {
		return rpcResp, err
	}

	// Send the RPC over
	respCh := make(chan RPCResponse, 1)
	peer.consumerCh <- RPC{
		From:     i.localID,
		Command:  args,
		RespChan: respCh,
	}

	// Wait for a response
	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-time.After(timeout):
		err = fmt.Errorf("command timed out")
	}
	return
}

// Connect is used to connect this transport to another transport for a given
// address. This allows for local routing.
func (i *InmemTransport) Connect(addr peers.Multiaddr, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[addr.WithoutPeer().String()] = trans
}

// Disconnect is used to remove the ability to route to a given address.
func (i *InmemTransport) Disconnect(addr peers.Multiaddr) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, addr.WithoutPeer().String())
}

// DisconnectAll is used to remove all routes.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport.
func (i *InmemTransport) Close() error {
	i.closeOnce.Do(func() { close(i.closeCh) })
	i.DisconnectAll()
	return nil
}
