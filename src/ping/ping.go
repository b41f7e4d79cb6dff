// Package ping implements the liveness monitor. It periodically probes every
// tracked session with a random nonce and reports round-trip times and
// failures as Results. It never closes connections itself; acting on a dead
// session is the caller's business.
package ping

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/sirupsen/logrus"
)

// ProtocolID names the liveness protocol in identify announcements.
const ProtocolID = "/plexus/ping/1.0.0"

// DefaultInterval is the default time between probes of one peer.
const DefaultInterval = 15 * time.Second

const nonceSize = 8

// Pinger is the slice of the transport the monitor needs.
type Pinger interface {
	Ping(target peers.Multiaddr, args *net.PingRequest, resp *net.PingResponse) error
}

// Result reports the outcome of one probe.
type Result struct {
	Peer peers.ID
	RTT  time.Duration
	Err  error
}

// Monitor probes tracked peers at a fixed interval.
type Monitor struct {
	sync.Mutex
	tracked map[peers.ID]peers.Multiaddr

	self      peers.ID
	transport Pinger
	interval  time.Duration
	clock     clock.Clock
	logger    *logrus.Entry

	resultsCh  chan Result
	shutdownCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewMonitor creates a stopped monitor. Pass a nil clock to use the wall
// clock.
func NewMonitor(
	self peers.ID,
	transport Pinger,
	interval time.Duration,
	clk clock.Clock,
	logger *logrus.Entry,
) *Monitor {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.ErrorLevel
		logger = logrus.NewEntry(log)
	}
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		tracked:    make(map[peers.ID]peers.Multiaddr),
		self:       self,
		transport:  transport,
		interval:   interval,
		clock:      clk,
		logger:     logger,
		resultsCh:  make(chan Result, 16),
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop terminates the probe loop and waits for in-flight probes.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.shutdownCh)
	})
	m.wg.Wait()
}

// Results delivers probe outcomes.
func (m *Monitor) Results() <-chan Result {
	return m.resultsCh
}

// Track adds a peer to the probe set. The address is pinned to the peer's
// identity so a probe cannot be answered by anyone else.
func (m *Monitor) Track(id peers.ID, addr peers.Multiaddr) {
	m.Lock()
	defer m.Unlock()
	m.tracked[id] = addr.WithPeer(id)
}

// Untrack removes a peer from the probe set.
func (m *Monitor) Untrack(id peers.ID) {
	m.Lock()
	defer m.Unlock()
	delete(m.tracked, id)
}

// Tracked returns the number of peers being probed.
func (m *Monitor) Tracked() int {
	m.Lock()
	defer m.Unlock()
	return len(m.tracked)
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.shutdownCh:
			return
		}
	}
}

func (m *Monitor) probeAll() {
	m.Lock()
	snapshot := make(map[peers.ID]peers.Multiaddr, len(m.tracked))
	for id, addr := range m.tracked {
		snapshot[id] = addr
	}
	m.Unlock()

	for id, addr := range snapshot {
		m.wg.Add(1)
		go func(id peers.ID, addr peers.Multiaddr) {
			defer m.wg.Done()
			m.probe(id, addr)
		}(id, addr)
	}
}

func (m *Monitor) probe(id peers.ID, addr peers.Multiaddr) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		m.emit(Result{Peer: id, Err: err})
		return
	}

	args := net.PingRequest{From: m.self, Nonce: nonce}
	var resp net.PingResponse

	start := m.clock.Now()
	err := m.transport.Ping(addr, &args, &resp)
	rtt := m.clock.Since(start)

	if err == nil && !bytes.Equal(resp.Nonce, nonce) {
		err = fmt.Errorf("ping nonce mismatch from %s", id.Short())
	}

	if err != nil {
		m.logger.WithField("peer", id.Short()).WithError(err).Debug("Ping failed")
		m.emit(Result{Peer: id, RTT: rtt, Err: err})
		return
	}

	m.emit(Result{Peer: id, RTT: rtt})
}

func (m *Monitor) emit(res Result) {
	select {
	case m.resultsCh <- res:
	case <-m.shutdownCh:
	}
}
