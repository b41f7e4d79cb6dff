// Package autonat implements the reachability prober. The node cannot know
// whether the addresses it advertises are dialable from the outside, so it
// periodically asks a random identified peer to dial them back on fresh
// connections. Enough confirmations mark an address Public; failures decay it
// back toward Private. The verdict is advisory and never gates anything.
package autonat

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/sirupsen/logrus"
)

const (
	// ProtocolID names the dial-back protocol in identify announcements.
	ProtocolID = "/plexus/autonat/1.0.0"

	// DefaultProbeInterval is the base delay between outbound probes. Each
	// round adds up to a third of it as jitter.
	DefaultProbeInterval = 90 * time.Second

	// DefaultThrottlePeriod is how long to leave a peer alone after asking it
	// for a dial-back, in either direction.
	DefaultThrottlePeriod = 10 * time.Minute

	// ConfidenceThreshold is the confidence at which an address is reported
	// Public.
	ConfidenceThreshold = 3

	// maxDialBackAddrs bounds the addresses probed per inbound request.
	maxDialBackAddrs = 8

	throttleSize = 256
)

// Status is the reachability verdict for one advertised address.
type Status int

const (
	StatusUnknown Status = iota
	StatusPrivate
	StatusPublic
)

func (s Status) String() string {
	switch s {
	case StatusPrivate:
		return "private"
	case StatusPublic:
		return "public"
	default:
		return "unknown"
	}
}

// Transport is the slice of the transport the prober needs. Probe must open
// a fresh connection, never one from the pool, or reachability would be
// confused with an existing session.
type Transport interface {
	AdvertiseAddrs() []peers.Multiaddr
	DialBack(target peers.Multiaddr, args *net.DialBackRequest, resp *net.DialBackResponse) error
	Probe(target peers.Multiaddr) error
}

// PeerSource supplies dial-back candidates.
type PeerSource interface {
	TablePeers() []*peers.Peer
}

// Event reports an address crossing the Public or Private line.
type Event struct {
	Probe  uuid.UUID
	Addr   peers.Multiaddr
	Status Status
	Peer   peers.ID
}

// Prober drives periodic dial-back probes and tracks per-address confidence.
type Prober struct {
	sync.Mutex
	confidence map[peers.Multiaddr]int
	status     map[peers.Multiaddr]Status

	self      peers.ID
	transport Transport
	source    PeerSource
	interval  time.Duration
	clock     clock.Clock
	logger    *logrus.Entry

	outThrottle *expirable.LRU[peers.ID, struct{}]
	inThrottle  *expirable.LRU[peers.ID, struct{}]

	eventsCh   chan Event
	shutdownCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewProber creates a stopped prober. Pass a nil clock to use the wall clock.
func NewProber(
	self peers.ID,
	transport Transport,
	source PeerSource,
	interval time.Duration,
	clk clock.Clock,
	logger *logrus.Entry,
) *Prober {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.ErrorLevel
		logger = logrus.NewEntry(log)
	}
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		confidence:  make(map[peers.Multiaddr]int),
		status:      make(map[peers.Multiaddr]Status),
		self:        self,
		transport:   transport,
		source:      source,
		interval:    interval,
		clock:       clk,
		logger:      logger,
		outThrottle: expirable.NewLRU[peers.ID, struct{}](throttleSize, nil, DefaultThrottlePeriod),
		inThrottle:  expirable.NewLRU[peers.ID, struct{}](throttleSize, nil, DefaultThrottlePeriod),
		eventsCh:    make(chan Event, 16),
		shutdownCh:  make(chan struct{}),
	}
}

// Start launches the probe loop.
func (p *Prober) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop terminates the probe loop.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() {
		close(p.shutdownCh)
	})
	p.wg.Wait()
}

// Events delivers status transitions.
func (p *Prober) Events() <-chan Event {
	return p.eventsCh
}

// Status returns the current verdict for one advertised address.
func (p *Prober) Status(addr peers.Multiaddr) Status {
	p.Lock()
	defer p.Unlock()
	return p.status[addr]
}

// PublicAddrs returns the addresses currently confirmed Public.
func (p *Prober) PublicAddrs() []peers.Multiaddr {
	p.Lock()
	defer p.Unlock()

	res := []peers.Multiaddr{}
	for addr, status := range p.status {
		if status == StatusPublic {
			res = append(res, addr)
		}
	}
	return res
}

func (p *Prober) run() {
	defer p.wg.Done()

	for {
		delay := p.interval
		if third := int64(p.interval / 3); third > 0 {
			delay += time.Duration(rand.Int63n(third))
		}
		timer := p.clock.Timer(delay)
		select {
		case <-timer.C:
			p.probeOnce()
		case <-p.shutdownCh:
			timer.Stop()
			return
		}
	}
}

// probeOnce picks one identified peer that has not been asked recently and
// requests a dial-back of every advertised address.
func (p *Prober) probeOnce() {
	addrs := p.transport.AdvertiseAddrs()
	if len(addrs) == 0 {
		return
	}

	candidates := []*peers.Peer{}
	for _, peer := range p.source.TablePeers() {
		if !p.outThrottle.Contains(peer.ID) {
			candidates = append(candidates, peer)
		}
	}
	if len(candidates) == 0 {
		return
	}

	target := candidates[rand.Intn(len(candidates))]
	p.outThrottle.Add(target.ID, struct{}{})

	probeID := uuid.New()
	logger := p.logger.WithFields(logrus.Fields{
		"probe": probeID.String(),
		"peer":  target.ID.Short(),
	})

	args := net.DialBackRequest{From: p.self, Addrs: addrs}
	var resp net.DialBackResponse

	var err error
	for _, addr := range target.Addrs {
		if err = p.transport.DialBack(addr.WithPeer(target.ID), &args, &resp); err == nil {
			break
		}
	}
	if err != nil {
		logger.WithError(err).Debug("Dial-back request failed")
		return
	}

	for _, result := range resp.Results {
		p.record(probeID, target.ID, result)
	}
}

// record folds one dial-back outcome into the address's confidence and emits
// an event when the verdict flips.
func (p *Prober) record(probeID uuid.UUID, from peers.ID, result net.DialBackResult) {
	p.Lock()

	conf := p.confidence[result.Addr]
	if result.OK {
		if conf < ConfidenceThreshold {
			conf++
		}
	} else if conf > 0 {
		conf--
	}
	p.confidence[result.Addr] = conf

	old := p.status[result.Addr]
	status := old
	switch {
	case conf >= ConfidenceThreshold:
		status = StatusPublic
	case conf == 0:
		status = StatusPrivate
	}
	p.status[result.Addr] = status
	p.Unlock()

	if status == old {
		return
	}

	p.logger.WithFields(logrus.Fields{
		"addr":   result.Addr,
		"status": status.String(),
		"peer":   from.Short(),
	}).Debug("Reachability changed")

	select {
	case p.eventsCh <- Event{Probe: probeID, Addr: result.Addr, Status: status, Peer: from}:
	case <-p.shutdownCh:
	}
}

// HandleDialBack serves an inbound dial-back request: every claimed address
// is dialed on a fresh connection pinned to the requester's identity. Blocks
// for the duration of the dials; callers run it off the main loop.
func (p *Prober) HandleDialBack(from peers.ID, addrs []peers.Multiaddr) ([]net.DialBackResult, error) {
	if p.inThrottle.Contains(from) {
		return nil, fmt.Errorf("dial-back throttled for %s", from.Short())
	}
	p.inThrottle.Add(from, struct{}{})

	if len(addrs) > maxDialBackAddrs {
		addrs = addrs[:maxDialBackAddrs]
	}

	results := make([]net.DialBackResult, 0, len(addrs))
	for _, addr := range addrs {
		result := net.DialBackResult{Addr: addr}
		if err := p.transport.Probe(addr.WithPeer(from)); err != nil {
			result.Err = err.Error()
		} else {
			result.OK = true
		}
		results = append(results, result)
	}
	return results, nil
}
