package kad

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/sirupsen/logrus"
)

// Config holds the engine's tunables.
type Config struct {
	// RecordTTL is how long stored records live without a republish.
	RecordTTL time.Duration

	// RepublishInterval is how often originated records are pushed to the
	// current closest peers.
	RepublishInterval time.Duration

	// CleanupInterval is how often expired records are reaped.
	CleanupInterval time.Duration
}

// DefaultConfig returns the stock engine tunables.
func DefaultConfig() Config {
	return Config{
		RecordTTL:         DefaultRecordTTL,
		RepublishInterval: DefaultRepublishInterval,
		CleanupInterval:   DefaultCleanupInterval,
	}
}

// Engine ties the routing table, the record store and the query machinery
// together. Put, Get and Bootstrap return immediately with a query ID; the
// outcome is delivered on the Events channel. The Handle methods serve
// inbound requests synchronously from local state and are cheap enough to
// call from an event loop.
type Engine struct {
	self    peers.ID
	conf    Config
	network Network
	table   *Table
	store   *Store
	clock   clock.Clock
	logger  *logrus.Entry

	eventsCh   chan Event
	shutdownCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewEngine creates an engine centered on self, querying the network through
// the given transport.
func NewEngine(
	self peers.ID,
	network Network,
	conf Config,
	clk clock.Clock,
	logger *logrus.Entry,
) *Engine {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if clk == nil {
		clk = clock.New()
	}

	return &Engine{
		self:       self,
		conf:       conf,
		network:    network,
		table:      NewTable(self),
		store:      NewStore(clk),
		clock:      clk,
		logger:     logger,
		eventsCh:   make(chan Event, 64),
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the engine's maintenance routine.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.maintenanceLoop()
}

// Stop terminates the engine and waits for running queries to wind down.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.shutdownCh) })
	e.wg.Wait()
}

// Events returns the channel on which query completions and inbound-request
// notifications are delivered.
func (e *Engine) Events() <-chan Event {
	return e.eventsCh
}

// AddAddress records an address for a peer in the routing table. It reports
// whether the table changed; re-adding a known address is a no-op.
func (e *Engine) AddAddress(id peers.ID, addr peers.Multiaddr) bool {
	added := e.table.Add(id, []peers.Multiaddr{addr.WithoutPeer()})
	if added {
		e.logger.WithFields(logrus.Fields{
			"peer": id.Short(),
			"addr": addr,
		}).Debug("Added address to routing table")
	}
	return added
}

// TablePeers returns a copy of the routing table's entries.
func (e *Engine) TablePeers() []*peers.Peer {
	return e.table.Peers()
}

// TableSize returns the number of peers in the routing table.
func (e *Engine) TableSize() int {
	return e.table.Len()
}

// StoreSize returns the number of live records held locally.
func (e *Engine) StoreSize() int {
	return e.store.Len()
}

// Record returns the locally stored record under key, if any.
func (e *Engine) Record(key []byte) (Record, bool) {
	return e.store.Record(key)
}

// Bootstrap seeds the routing table and walks the network towards our own
// ID to populate the table's neighborhood.
func (e *Engine) Bootstrap(seeds []*peers.Peer) uuid.UUID {
	queryID := uuid.New()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		for _, seed := range seeds {
			e.table.Add(seed.ID, seed.Addrs)
		}

		e.lookup(e.self)

		e.emit(Event{
			Type:      EventBootstrapDone,
			QueryID:   queryID,
			TableSize: e.table.Len(),
		})
	}()

	return queryID
}

// Put stores the record locally, then replicates it to the K closest peers
// to the key. The query completes as soon as quorum acknowledgements are in;
// later acknowledgements are counted but not awaited.
func (e *Engine) Put(key, value []byte, quorum int) uuid.UUID {
	queryID := uuid.New()

	e.wg.Add(1)
	go e.runPut(queryID, key, value, quorum)

	return queryID
}

func (e *Engine) runPut(queryID uuid.UUID, key, value []byte, quorum int) {
	defer e.wg.Done()

	if len(key) != KeySize {
		e.emit(Event{Type: EventPutDone, QueryID: queryID, Key: key, Err: ErrInvalidKey})
		return
	}
	if len(value) > MaxValueSize {
		e.emit(Event{Type: EventPutDone, QueryID: queryID, Key: key, Err: ErrValueTooLarge})
		return
	}

	// The origin always keeps its own record
	e.store.Put(key, value, e.conf.RecordTTL, true)

	target, _ := peers.IDFromBytes(key)
	targets := e.lookup(target)

	need := quorum
	if quorum == QuorumAll || quorum > len(targets) {
		need = len(targets)
	}
	if need < 1 {
		need = 1
	}

	var acked int32
	var replicators sync.WaitGroup

	for _, p := range targets {
		replicators.Add(1)
		go func(p *peers.Peer) {
			defer replicators.Done()

			if err := e.putRecord(p, key, value); err != nil {
				e.logger.WithField("peer", p.ID.Short()).
					WithError(err).Debug("PutRecord failed")
				return
			}

			if atomic.AddInt32(&acked, 1) == int32(need) {
				e.emit(Event{Type: EventPutDone, QueryID: queryID, Key: key, Acks: need})
			}
		}(p)
	}

	replicators.Wait()

	total := atomic.LoadInt32(&acked)
	if total < int32(need) {
		e.emit(Event{
			Type:    EventPutDone,
			QueryID: queryID,
			Key:     key,
			Acks:    int(total),
			Err:     ErrQuorumFailed,
		})
		return
	}

	e.logger.WithFields(logrus.Fields{
		"query": queryID,
		"acks":  total,
	}).Debug("Record replicated")
}

// Get retrieves the record under key, serving from the local store when
// possible and walking the network otherwise.
func (e *Engine) Get(key []byte) uuid.UUID {
	queryID := uuid.New()

	e.wg.Add(1)
	go e.runGet(queryID, key)

	return queryID
}

func (e *Engine) runGet(queryID uuid.UUID, key []byte) {
	defer e.wg.Done()

	if len(key) != KeySize {
		e.emit(Event{Type: EventGetDone, QueryID: queryID, Key: key, Err: ErrInvalidKey})
		return
	}

	if value, ok := e.store.Get(key); ok {
		e.emit(Event{Type: EventGetDone, QueryID: queryID, Key: key, Value: value})
		return
	}

	target, _ := peers.IDFromBytes(key)

	visited := map[peers.ID]bool{e.self: true}
	cands := newCandidateSet(target, e.self)
	cands.add(e.table.Closest(target, K)...)

	var lastBest *Distance

	for {
		batch := cands.next(Alpha, visited)
		if len(batch) == 0 {
			break
		}

		type result struct {
			from *peers.Peer
			resp *getResult
			err  error
		}
		results := make(chan result, len(batch))

		for _, p := range batch {
			visited[p.ID] = true
			go func(p *peers.Peer) {
				resp, err := e.getRecord(p, key)
				if err != nil {
					results <- result{from: p, err: err}
					return
				}
				results <- result{from: p, resp: &getResult{
					found:  resp.Found,
					value:  resp.Value,
					closer: resp.Closer,
				}}
			}(p)
		}

		var found []byte
		haveValue := false

		for range batch {
			res := <-results
			if res.err != nil {
				e.logger.WithField("peer", res.from.ID.Short()).
					WithError(res.err).Debug("GetRecord failed")
				e.table.Remove(res.from.ID)
				continue
			}

			e.table.Add(res.from.ID, res.from.Addrs)

			if res.resp.found {
				found = res.resp.value
				haveValue = true
				continue
			}
			cands.add(res.resp.closer...)
		}

		if haveValue {
			// cache along the lookup path
			e.store.Put(key, found, e.conf.RecordTTL, false)
			e.emit(Event{Type: EventGetDone, QueryID: queryID, Key: key, Value: found})
			return
		}

		best := cands.best()
		if best == nil {
			break
		}
		d := XORDistance(best.ID, target)
		if lastBest != nil && !d.Less(*lastBest) {
			break
		}
		lastBest = &d
	}

	e.emit(Event{Type: EventGetDone, QueryID: queryID, Key: key, Err: ErrNotFound})
}

type getResult struct {
	found  bool
	value  []byte
	closer []*peers.Peer
}

// HandleFindNode serves an inbound node lookup from the routing table.
func (e *Engine) HandleFindNode(from peers.ID, target peers.ID) []*peers.Peer {
	e.observe(from, "find-node")
	return e.table.Closest(target, K)
}

// HandlePutRecord accepts a record for local storage.
func (e *Engine) HandlePutRecord(from peers.ID, key, value []byte) error {
	e.observe(from, "put-record")

	if len(key) != KeySize {
		return ErrInvalidKey
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}

	e.store.Put(key, value, e.conf.RecordTTL, false)
	return nil
}

// HandleGetRecord serves a record from the local store, or the closest
// known peers to its key when the record is absent.
func (e *Engine) HandleGetRecord(from peers.ID, key []byte) (value []byte, found bool, closer []*peers.Peer) {
	e.observe(from, "get-record")

	if len(key) != KeySize {
		return nil, false, nil
	}

	if v, ok := e.store.Get(key); ok {
		return v, true, nil
	}

	target, _ := peers.IDFromBytes(key)
	return nil, false, e.table.Closest(target, K)
}

// emit delivers a query completion. It blocks until the consumer takes it,
// because completions are the engine's contract with its caller.
func (e *Engine) emit(ev Event) {
	select {
	case e.eventsCh <- ev:
	case <-e.shutdownCh:
	}
}

// observe delivers an inbound-request notification without ever blocking;
// when the consumer lags these are dropped.
func (e *Engine) observe(from peers.ID, request string) {
	ev := Event{
		Type:    EventInboundRequest,
		From:    from,
		Request: request,
	}
	select {
	case e.eventsCh <- ev:
	default:
	}
}

func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	cleanup := e.clock.Ticker(e.conf.CleanupInterval)
	defer cleanup.Stop()

	republish := e.clock.Ticker(e.conf.RepublishInterval)
	defer republish.Stop()

	for {
		select {
		case <-cleanup.C:
			if n := e.store.CleanupExpired(); n > 0 {
				e.logger.WithField("records", n).Debug("Reaped expired records")
			}
		case <-republish.C:
			e.republish()
		case <-e.shutdownCh:
			return
		}
	}
}

// republish pushes every record we originated to the current K closest
// peers, so that nodes that joined closer to the key receive it.
func (e *Engine) republish() {
	for _, rec := range e.store.OriginRecords() {
		target, err := peers.IDFromBytes(rec.Key)
		if err != nil {
			continue
		}

		// refresh the record's own TTL
		e.store.Put(rec.Key, rec.Value, e.conf.RecordTTL, true)

		for _, p := range e.lookup(target) {
			if err := e.putRecord(p, rec.Key, rec.Value); err != nil {
				e.logger.WithField("peer", p.ID.Short()).
					WithError(err).Debug("Republish failed")
			}
		}
	}
}
