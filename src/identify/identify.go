// Package identify implements the identity exchange that follows session
// establishment. A single round trip carries both nodes' self-descriptions,
// so each end learns the other's listen addresses and supported protocols.
// The exchange happens once per session and is never retried.
package identify

import (
	"fmt"
	"sync"

	"github.com/mosaicnetworks/plexus/src/crypto/keys"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/sirupsen/logrus"
)

// ProtocolVersion is the identify protocol version string carried in every
// NodeInfo.
const ProtocolVersion = "/plexus/identify/1.0.0"

// Transport is the slice of the transport the exchanger needs.
type Transport interface {
	AdvertiseAddrs() []peers.Multiaddr
	Identify(target peers.Multiaddr, args *net.IdentifyRequest, resp *net.IdentifyResponse) error
}

// Event reports the outcome of one outbound exchange.
type Event struct {
	Peer peers.ID
	Info net.NodeInfo
	Err  error
}

// Exchanger issues identify requests and builds the local self-description.
type Exchanger struct {
	self      peers.ID
	pubKey    []byte
	agent     string
	protocols []string
	transport Transport
	logger    *logrus.Entry

	eventsCh   chan Event
	shutdownCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewExchanger creates an exchanger for the node identified by pubKey.
func NewExchanger(
	self peers.ID,
	pubKey []byte,
	agent string,
	protocols []string,
	transport Transport,
	logger *logrus.Entry,
) *Exchanger {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.ErrorLevel
		logger = logrus.NewEntry(log)
	}
	return &Exchanger{
		self:       self,
		pubKey:     pubKey,
		agent:      agent,
		protocols:  protocols,
		transport:  transport,
		logger:     logger,
		eventsCh:   make(chan Event, 16),
		shutdownCh: make(chan struct{}),
	}
}

// LocalInfo assembles the node's current self-description. Advertise
// addresses are read live so late stream layers are reflected.
func (e *Exchanger) LocalInfo() net.NodeInfo {
	return net.NodeInfo{
		Version:     ProtocolVersion,
		Agent:       e.agent,
		PubKey:      e.pubKey,
		ListenAddrs: e.transport.AdvertiseAddrs(),
		Protocols:   e.protocols,
	}
}

// Events delivers exchange outcomes.
func (e *Exchanger) Events() <-chan Event {
	return e.eventsCh
}

// Request starts an exchange with the peer reachable at addr. The outcome
// arrives on Events. The caller is responsible for issuing at most one
// request per session.
func (e *Exchanger) Request(id peers.ID, addr peers.Multiaddr) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		args := net.IdentifyRequest{From: e.self, Info: e.LocalInfo()}
		var resp net.IdentifyResponse

		if err := e.transport.Identify(addr.WithPeer(id), &args, &resp); err != nil {
			e.logger.WithField("peer", id.Short()).WithError(err).Debug("Identify failed")
			e.emit(Event{Peer: id, Err: err})
			return
		}

		if err := Verify(id, resp.Info); err != nil {
			e.logger.WithField("peer", id.Short()).WithError(err).Warning("Identify rejected")
			e.emit(Event{Peer: id, Err: err})
			return
		}

		e.emit(Event{Peer: id, Info: resp.Info})
	}()
}

// Stop waits for in-flight exchanges.
func (e *Exchanger) Stop() {
	e.stopOnce.Do(func() {
		close(e.shutdownCh)
	})
	e.wg.Wait()
}

func (e *Exchanger) emit(ev Event) {
	select {
	case e.eventsCh <- ev:
	case <-e.shutdownCh:
	}
}

// Verify checks that a received self-description belongs to the peer the
// session was authenticated with: the public key it carries must be a valid
// secp256k1 key hashing to the session identity.
func Verify(id peers.ID, info net.NodeInfo) error {
	if _, err := keys.UnmarshalPublicKey(info.PubKey); err != nil {
		return fmt.Errorf("identify: bad public key: %v", err)
	}
	if derived := peers.IDFromPublicKeyBytes(info.PubKey); derived != id {
		return fmt.Errorf("identify: public key belongs to %s, not %s",
			derived.Short(), id.Short())
	}
	return nil
}
