package kad

import (
	"sort"

	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/peers"
)

// Network is the subset of the transport the engine queries through.
type Network interface {
	FindNode(target peers.Multiaddr, args *net.FindNodeRequest, resp *net.FindNodeResponse) error
	GetRecord(target peers.Multiaddr, args *net.GetRecordRequest, resp *net.GetRecordResponse) error
	PutRecord(target peers.Multiaddr, args *net.PutRecordRequest, resp *net.PutRecordResponse) error
}

// candidateSet accumulates the peers discovered during a lookup, ordered by
// distance to the target. The local node never enters the set; peers
// routinely return the querier among the closest nodes they know.
type candidateSet struct {
	target peers.ID
	self   peers.ID
	byID   map[peers.ID]*peers.Peer
}

func newCandidateSet(target, self peers.ID) *candidateSet {
	return &candidateSet{
		target: target,
		self:   self,
		byID:   make(map[peers.ID]*peers.Peer),
	}
}

func (c *candidateSet) add(list ...*peers.Peer) {
	for _, p := range list {
		if p == nil || p.ID.IsZero() || p.ID == c.self || len(p.Addrs) == 0 {
			continue
		}
		if existing, ok := c.byID[p.ID]; ok {
			for _, a := range p.Addrs {
				existing.AddAddr(a)
			}
			continue
		}
		c.byID[p.ID] = p.Clone()
	}
}

func (c *candidateSet) sorted() []*peers.Peer {
	out := make([]*peers.Peer, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return CompareDistance(out[i].ID, out[j].ID, c.target) < 0
	})
	return out
}

// next returns the n closest candidates that have not been visited yet.
func (c *candidateSet) next(n int, visited map[peers.ID]bool) []*peers.Peer {
	var batch []*peers.Peer
	for _, p := range c.sorted() {
		if len(batch) >= n {
			break
		}
		if visited[p.ID] {
			continue
		}
		batch = append(batch, p)
	}
	return batch
}

func (c *candidateSet) best() *peers.Peer {
	s := c.sorted()
	if len(s) == 0 {
		return nil
	}
	return s[0]
}

func (c *candidateSet) closest(n int) []*peers.Peer {
	s := c.sorted()
	if len(s) > n {
		s = s[:n]
	}
	return s
}

// lookup walks the network towards target with Alpha parallel requests per
// round, learning peers as it goes, until the closest known candidate stops
// improving. It returns the K closest peers discovered.
func (e *Engine) lookup(target peers.ID) []*peers.Peer {
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
			from  *peers.Peer
			found []*peers.Peer
			err   error
		}
		results := make(chan result, len(batch))

		for _, p := range batch {
			visited[p.ID] = true
			go func(p *peers.Peer) {
				found, err := e.findNode(p, target)
				results <- result{p, found, err}
			}(p)
		}

		for range batch {
			res := <-results
			if res.err != nil {
				e.logger.WithField("peer", res.from.ID.Short()).
					WithError(res.err).Debug("FindNode failed")
				e.table.Remove(res.from.ID)
				continue
			}

			// The responder proved itself live
			e.table.Add(res.from.ID, res.from.Addrs)
			cands.add(res.found...)
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

	return cands.closest(K)
}

// findNode queries one peer for nodes close to target, trying each of its
// addresses in turn.
func (e *Engine) findNode(p *peers.Peer, target peers.ID) ([]*peers.Peer, error) {
	args := net.FindNodeRequest{From: e.self, Target: target}

	var lastErr error
	for _, addr := range p.Addrs {
		var resp net.FindNodeResponse
		if err := e.network.FindNode(addr.WithPeer(p.ID), &args, &resp); err != nil {
			lastErr = err
			continue
		}
		return resp.Peers, nil
	}
	return nil, lastErr
}

// putRecord offers one peer a record, trying each of its addresses in turn.
func (e *Engine) putRecord(p *peers.Peer, key, value []byte) error {
	args := net.PutRecordRequest{From: e.self, Key: key, Value: value}

	var lastErr error
	for _, addr := range p.Addrs {
		var resp net.PutRecordResponse
		if err := e.network.PutRecord(addr.WithPeer(p.ID), &args, &resp); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// getRecord asks one peer for a record. Found reports whether the peer held
// the value; when it did not, the peer's closer candidates are returned.
func (e *Engine) getRecord(p *peers.Peer, key []byte) (*net.GetRecordResponse, error) {
	args := net.GetRecordRequest{From: e.self, Key: key}

	var lastErr error
	for _, addr := range p.Addrs {
		var resp net.GetRecordResponse
		if err := e.network.GetRecord(addr.WithPeer(p.ID), &args, &resp); err != nil {
			lastErr = err
			continue
		}
		return &resp, nil
	}
	return nil, lastErr
}
