package node

import (
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/plexus/src/autonat"
	"github.com/mosaicnetworks/plexus/src/identify"
	"github.com/mosaicnetworks/plexus/src/kad"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/mosaicnetworks/plexus/src/ping"
	"github.com/sirupsen/logrus"
)

// DHT is the engine surface the node drives. Put, Get and Bootstrap return a
// query ID immediately; outcomes arrive on Events. The Handle methods serve
// inbound requests from local state without blocking.
type DHT interface {
	Start()
	Stop()
	Events() <-chan kad.Event
	AddAddress(id peers.ID, addr peers.Multiaddr) bool
	Bootstrap(seeds []*peers.Peer) uuid.UUID
	Put(key, value []byte, quorum int) uuid.UUID
	Get(key []byte) uuid.UUID
	HandleFindNode(from peers.ID, target peers.ID) []*peers.Peer
	HandlePutRecord(from peers.ID, key, value []byte) error
	HandleGetRecord(from peers.ID, key []byte) ([]byte, bool, []*peers.Peer)
	TablePeers() []*peers.Peer
	TableSize() int
	StoreSize() int
	Record(key []byte) (kad.Record, bool)
}

//Node defines a plexus node
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	identity *Identity

	trans     net.Transport
	netCh     <-chan net.RPC
	sessionCh <-chan net.SessionEvent

	dht       DHT
	monitor   *ping.Monitor
	exchanger *identify.Exchanger
	prober    *autonat.Prober

	bootstrapPeers []*peers.Peer

	sessLock sync.RWMutex
	sessions map[peers.ID]*session

	sigintCh   chan os.Signal
	shutdownCh chan struct{}
	stopOnce   sync.Once

	controlTimer *ControlTimer

	start              time.Time
	identifiesAccepted int
	identifiesSkipped  int
}

//NewNode is a factory method that returns a Node instance
func NewNode(conf *Config,
	identity *Identity,
	bootstrapPeers []*peers.Peer,
	trans net.Transport,
	dht DHT,
	monitor *ping.Monitor,
	exchanger *identify.Exchanger,
	prober *autonat.Prober,
) *Node {
	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	node := Node{
		conf:           conf,
		logger:         conf.Logger.WithField("this_id", identity.ID().Short()),
		identity:       identity,
		trans:          trans,
		netCh:          trans.Consumer(),
		sessionCh:      trans.Events(),
		dht:            dht,
		monitor:        monitor,
		exchanger:      exchanger,
		prober:         prober,
		bootstrapPeers: bootstrapPeers,
		sessions:       make(map[peers.ID]*session),
		sigintCh:       sigintCh,
		shutdownCh:     make(chan struct{}),
		controlTimer:   NewRandomControlTimer(),
	}

	return &node
}

//Init starts the background behaviors. The transport is expected to be
//listening already.
func (n *Node) Init() error {
	n.logger.WithField("addrs", n.trans.AdvertiseAddrs()).Info("Init")

	n.start = time.Now()

	n.dht.Start()
	n.monitor.Start()
	n.prober.Start()

	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")

	go n.Run()
}

//Run invokes the main loop of the node
func (n *Node) Run() {
	//The ControlTimer paces the heartbeat: stats logging and the periodic
	//republication of our own address record.
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Execute Node State Machine
	for {
		//Run different routines depending on node state
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Bootstrapping:
			n.bootstrap()
		case Discovering:
			n.discover()
		case Shutdown:
			return
		}
	}
}

// bootstrap seeds the routing table from the bootstrap set, starts a
// self-lookup to populate the table's neighborhood, and opens a session to
// every bootstrap peer.
func (n *Node) bootstrap() {
	n.logger.Debug("BOOTSTRAPPING")

	if len(n.bootstrapPeers) > 0 {
		queryID := n.dht.Bootstrap(n.bootstrapPeers)

		n.logger.WithFields(logrus.Fields{
			"peers": len(n.bootstrapPeers),
			"query": queryID,
		}).Debug("Bootstrap")

		for _, p := range n.bootstrapPeers {
			n.connect(p)
		}
	}

	n.setState(Discovering)
}

// discover is the main event loop. All session and policy state is owned by
// this goroutine; handlers run to completion and never block on network I/O.
// Blocking work lives in the behaviors' own goroutines and comes back here
// as events.
func (n *Node) discover() {
	n.logger.Debug("DISCOVERING")

	for {
		select {
		case rpc := <-n.netCh:
			n.processRPC(rpc)
		case ev := <-n.sessionCh:
			n.processSessionEvent(ev)
		case ev := <-n.dht.Events():
			n.processDHTEvent(ev)
		case ev := <-n.exchanger.Events():
			n.processIdentifyEvent(ev)
		case res := <-n.monitor.Results():
			n.processPingResult(res)
		case ev := <-n.prober.Events():
			n.processReachabilityEvent(ev)
		case <-n.controlTimer.tickCh:
			n.heartbeat()
			n.resetTimer()
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - Shutdown")
			n.Shutdown()
			return
		}
	}
}

func (n *Node) resetTimer() {
	select {
	case n.controlTimer.resetCh <- n.conf.HeartbeatTimeout:
	case <-n.shutdownCh:
	}
}

// connect opens an outbound session to a known peer and starts the identity
// exchange. The exchange outcome comes back on the exchanger's event
// channel.
func (n *Node) connect(p *peers.Peer) {
	if len(p.Addrs) == 0 || p.ID == n.identity.ID() {
		return
	}

	if s := n.getSession(p.ID); s != nil {
		n.logger.WithField("peer", p.ID.Short()).Debug("Session already exists")
		return
	}

	n.addSession(&session{
		peer:        p.ID,
		addr:        p.Addrs[0].String(),
		connectedAt: time.Now(),
	})

	n.logger.WithFields(logrus.Fields{
		"peer": p.ID.Short(),
		"addr": p.Addrs[0],
	}).Info("Opening session")

	//Probe liveness from the start; the monitor reports failures but never
	//closes anything.
	n.monitor.Track(p.ID, p.Addrs[0])

	n.exchanger.Request(p.ID, p.Addrs[0])
}

// heartbeat runs on every control-timer tick.
func (n *Node) heartbeat() {
	n.logStats()

	metricTableSize.Set(float64(n.dht.TableSize()))
	metricStoreSize.Set(float64(n.dht.StoreSize()))
	metricPublicAddrs.Set(float64(len(n.prober.PublicAddrs())))

	n.publishSelf()
}

// publishSelf refreshes our own address record on the DHT. A record is only
// published once at least one listen address is known, and only when there
// is somebody to publish to.
func (n *Node) publishSelf() {
	addrs := n.trans.AdvertiseAddrs()
	if len(addrs) == 0 || n.dht.TableSize() == 0 {
		return
	}

	value, err := peers.EncodeAddrs(addrs)
	if err != nil {
		n.logger.WithError(err).Warning("Encoding own addresses")
		return
	}

	queryID := n.dht.Put(n.identity.ID().Bytes(), value, kad.QuorumOne)

	n.logger.WithFields(logrus.Fields{
		"addrs": len(addrs),
		"query": queryID,
	}).Debug("Publishing own record")
}

func (n *Node) processSessionEvent(ev net.SessionEvent) {
	if ev.Closed {
		if s := n.getSession(ev.Peer); s != nil {
			n.monitor.Untrack(ev.Peer)
			n.removeSession(ev.Peer)

			logger := n.logger.WithField("peer", ev.Peer.Short())
			if ev.Err != nil {
				logger = logger.WithError(ev.Err)
			}
			logger.Info("Session closed")
		}
		return
	}

	n.sessLock.Lock()
	if s, ok := n.sessions[ev.Peer]; ok {
		//The first RPC on a new connection can overtake the session event;
		//the session already exists in that case.
		if s.addr == "" {
			s.addr = ev.RemoteAddr
		}
		n.sessLock.Unlock()
		return
	}
	n.sessLock.Unlock()

	n.addSession(&session{
		peer:        ev.Peer,
		addr:        ev.RemoteAddr,
		inbound:     true,
		connectedAt: time.Now(),
	})

	n.logger.WithFields(logrus.Fields{
		"peer": ev.Peer.Short(),
		"addr": ev.RemoteAddr,
	}).Info("Session opened")
}

func (n *Node) processIdentifyEvent(ev identify.Event) {
	if n.getSession(ev.Peer) == nil {
		n.logger.WithField("peer", ev.Peer.Short()).
			Debug("Identify outcome for unknown session")
		return
	}

	if ev.Err != nil {
		//Terminal: one exchange per session, no retries.
		n.sessLock.Lock()
		if s, ok := n.sessions[ev.Peer]; ok {
			s.identified = true
		}
		n.sessLock.Unlock()

		metricIdentify.WithLabelValues(outcomeFailed).Inc()
		n.logger.WithField("peer", ev.Peer.Short()).
			WithError(ev.Err).Warning("Identity exchange failed")
		return
	}

	n.evaluatePeer(ev.Peer, ev.Info)
}

// evaluatePeer applies the address-learning policy to a freshly identified
// peer. A peer with no listen addresses, or without the DHT protocol, is
// excluded from DHT participation for the rest of the session. Everyone else
// has their addresses inserted into the routing table and their address set
// published as a DHT record.
func (n *Node) evaluatePeer(peer peers.ID, info net.NodeInfo) {
	n.sessLock.Lock()
	s, ok := n.sessions[peer]
	if !ok {
		n.sessLock.Unlock()
		return
	}
	if s.identified {
		n.sessLock.Unlock()
		n.logger.WithField("peer", peer.Short()).
			Debug("Duplicate identify within session")
		return
	}
	s.identified = true
	s.agent = info.Agent
	inbound := s.inbound
	n.sessLock.Unlock()

	if len(info.ListenAddrs) == 0 {
		n.skipPeer()
		metricIdentify.WithLabelValues(outcomeSkipped).Inc()
		n.logger.WithField("peer", peer.Short()).
			Warning("Peer advertises no listen addresses, skipping DHT registration")
		return
	}

	if !supportsProtocol(info.Protocols, kad.ProtocolID) {
		n.skipPeer()
		metricIdentify.WithLabelValues(outcomeSkipped).Inc()
		n.logger.WithFields(logrus.Fields{
			"peer":     peer.Short(),
			"protocol": kad.ProtocolID,
		}).Warning("Peer does not support the DHT protocol, skipping DHT registration")
		return
	}

	n.sessLock.Lock()
	s.routable = true
	n.identifiesAccepted++
	n.sessLock.Unlock()

	metricIdentify.WithLabelValues(outcomeAccepted).Inc()

	for _, addr := range info.ListenAddrs {
		n.dht.AddAddress(peer, addr)
	}

	value, err := peers.EncodeAddrs(info.ListenAddrs)
	if err != nil {
		n.logger.WithField("peer", peer.Short()).
			WithError(err).Warning("Encoding peer addresses")
		return
	}

	queryID := n.dht.Put(peer.Bytes(), value, kad.QuorumOne)

	n.logger.WithFields(logrus.Fields{
		"peer":  peer.Short(),
		"addrs": len(info.ListenAddrs),
		"query": queryID,
	}).Debug("Publishing peer record")

	//Inbound sessions are only reachable at an advertised address, not at
	//the observed one.
	if inbound {
		n.monitor.Track(peer, info.ListenAddrs[0])
	}
}

func (n *Node) skipPeer() {
	n.sessLock.Lock()
	n.identifiesSkipped++
	n.sessLock.Unlock()
}

func (n *Node) processDHTEvent(ev kad.Event) {
	switch ev.Type {
	case kad.EventBootstrapDone:
		n.logger.WithFields(logrus.Fields{
			"query":      ev.QueryID,
			"table_size": ev.TableSize,
		}).Info("Bootstrap done")

	case kad.EventPutDone:
		if ev.Err != nil {
			metricDHTQueries.WithLabelValues("put", outcomeError).Inc()
			n.logger.WithFields(logrus.Fields{
				"query": ev.QueryID,
				"acks":  ev.Acks,
			}).WithError(ev.Err).Warning("DHT put failed")
			return
		}
		metricDHTQueries.WithLabelValues("put", outcomeOK).Inc()
		n.logger.WithFields(logrus.Fields{
			"query": ev.QueryID,
			"acks":  ev.Acks,
		}).Debug("DHT put done")

	case kad.EventGetDone:
		if ev.Err != nil {
			metricDHTQueries.WithLabelValues("get", outcomeError).Inc()
			n.logger.WithField("query", ev.QueryID).
				WithError(ev.Err).Debug("DHT get failed")
			return
		}
		metricDHTQueries.WithLabelValues("get", outcomeOK).Inc()
		n.logger.WithFields(logrus.Fields{
			"query": ev.QueryID,
			"bytes": len(ev.Value),
		}).Debug("DHT get done")

	case kad.EventInboundRequest:
		metricDHTInbound.WithLabelValues(ev.Request).Inc()
		n.logger.WithFields(logrus.Fields{
			"kind": ev.Request,
			"from": ev.From.Short(),
		}).Debug("Served DHT request")
	}
}

func (n *Node) processPingResult(res ping.Result) {
	s := n.getSession(res.Peer)
	if s == nil {
		return
	}

	if res.Err != nil {
		n.logger.WithField("peer", res.Peer.Short()).
			WithError(res.Err).Debug("Ping failed")
		return
	}

	n.sessLock.Lock()
	s.lastRTT = res.RTT
	n.sessLock.Unlock()

	metricPingRTT.Observe(res.RTT.Seconds())

	n.logger.WithFields(logrus.Fields{
		"peer": res.Peer.Short(),
		"rtt":  res.RTT,
	}).Debug("Ping")
}

func (n *Node) processReachabilityEvent(ev autonat.Event) {
	n.logger.WithFields(logrus.Fields{
		"addr":   ev.Addr,
		"status": ev.Status.String(),
		"peer":   ev.Peer.Short(),
	}).Info("External address status changed")
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	n.stopOnce.Do(func() {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.waitRoutines()

		n.controlTimer.Shutdown()

		//Behaviors unblock their own emitters on Stop, in-flight queries
		//wind down before the transport goes away.
		n.monitor.Stop()
		n.prober.Stop()
		n.exchanger.Stop()
		n.dht.Stop()

		n.trans.Close()
	})
}

//ID returns the node's peer ID
func (n *Node) ID() peers.ID {
	return n.identity.ID()
}

//Moniker returns the node's moniker
func (n *Node) Moniker() string {
	return n.identity.Moniker
}

//GetPeers returns the routing table's entries
func (n *Node) GetPeers() []*peers.Peer {
	return n.dht.TablePeers()
}

//GetRecord returns the locally stored record under key, if any
func (n *Node) GetRecord(key []byte) (kad.Record, bool) {
	return n.dht.Record(key)
}

//GetSessions returns a snapshot of the active sessions
func (n *Node) GetSessions() []SessionInfo {
	n.sessLock.RLock()
	defer n.sessLock.RUnlock()

	res := []SessionInfo{}
	for _, s := range n.sessions {
		res = append(res, s.info())
	}
	return res
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	timeElapsed := time.Since(n.start)

	n.sessLock.RLock()
	numSessions := len(n.sessions)
	identified := 0
	for _, s := range n.sessions {
		if s.identified {
			identified++
		}
	}
	accepted := n.identifiesAccepted
	skipped := n.identifiesSkipped
	n.sessLock.RUnlock()

	s := map[string]string{
		"id":                  n.identity.ID().String(),
		"moniker":             n.identity.Moniker,
		"state":               n.getState().String(),
		"uptime":              timeElapsed.String(),
		"num_sessions":        strconv.Itoa(numSessions),
		"identified_sessions": strconv.Itoa(identified),
		"table_size":          strconv.Itoa(n.dht.TableSize()),
		"store_size":          strconv.Itoa(n.dht.StoreSize()),
		"public_addrs":        strconv.Itoa(len(n.prober.PublicAddrs())),
		"identify_accepted":   strconv.Itoa(accepted),
		"identify_skipped":    strconv.Itoa(skipped),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"num_sessions":        stats["num_sessions"],
		"identified_sessions": stats["identified_sessions"],
		"table_size":          stats["table_size"],
		"store_size":          stats["store_size"],
		"public_addrs":        stats["public_addrs"],
		"state":               stats["state"],
	}).Debug("Stats")
}

func (n *Node) getSession(id peers.ID) *session {
	n.sessLock.RLock()
	defer n.sessLock.RUnlock()
	return n.sessions[id]
}

func (n *Node) addSession(s *session) {
	n.sessLock.Lock()
	defer n.sessLock.Unlock()
	n.sessions[s.peer] = s

	metricSessionsOpen.Inc()
	metricSessionsTotal.Inc()
}

func (n *Node) removeSession(id peers.ID) {
	n.sessLock.Lock()
	defer n.sessLock.Unlock()

	if _, ok := n.sessions[id]; ok {
		delete(n.sessions, id)
		metricSessionsOpen.Dec()
	}
}

func supportsProtocol(protocols []string, wanted string) bool {
	for _, p := range protocols {
		if p == wanted {
			return true
		}
	}
	return false
}
