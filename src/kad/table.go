package kad

import (
	"sort"
	"sync"

	"github.com/mosaicnetworks/plexus/src/peers"
)

const numBuckets = peers.IDLength * 8

// Table is the Kademlia routing table: one bucket per shared-prefix length,
// at most K entries per bucket. Entries accumulate addresses with set
// semantics, so re-adding a known peer and address changes nothing.
type Table struct {
	sync.RWMutex
	self    peers.ID
	buckets [numBuckets][]*peers.Peer
}

// NewTable creates an empty table centered on self.
func NewTable(self peers.ID) *Table {
	return &Table{self: self}
}

// Add records addresses for a peer. It reports whether the table changed:
// re-adding known addresses is a no-op, as is adding self, a zero ID, or a
// peer whose bucket is full.
func (t *Table) Add(id peers.ID, addrs []peers.Multiaddr) bool {
	if id == t.self || id.IsZero() || len(addrs) == 0 {
		return false
	}

	t.Lock()
	defer t.Unlock()

	b := t.bucketFor(id)

	for _, entry := range t.buckets[b] {
		if entry.ID == id {
			changed := false
			for _, addr := range addrs {
				if entry.AddAddr(addr) {
					changed = true
				}
			}
			return changed
		}
	}

	if len(t.buckets[b]) >= K {
		return false
	}

	peer := peers.NewPeer(id, addrs...)
	t.buckets[b] = append(t.buckets[b], peer)
	return true
}

// Remove drops a peer from the table.
func (t *Table) Remove(id peers.ID) {
	t.Lock()
	defer t.Unlock()

	b := t.bucketFor(id)
	for i, entry := range t.buckets[b] {
		if entry.ID == id {
			t.buckets[b] = append(t.buckets[b][:i], t.buckets[b][i+1:]...)
			return
		}
	}
}

// Get returns a copy of the table entry for a peer.
func (t *Table) Get(id peers.ID) (*peers.Peer, bool) {
	t.RLock()
	defer t.RUnlock()

	for _, entry := range t.buckets[t.bucketFor(id)] {
		if entry.ID == id {
			return entry.Clone(), true
		}
	}
	return nil, false
}

// Closest returns up to count peers ordered by distance to target. The
// table is small enough that a full scan beats bucket gymnastics.
func (t *Table) Closest(target peers.ID, count int) []*peers.Peer {
	t.RLock()
	all := t.snapshot()
	t.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return CompareDistance(all[i].ID, all[j].ID, target) < 0
	})

	if len(all) > count {
		all = all[:count]
	}
	return all
}

// Peers returns a copy of every table entry.
func (t *Table) Peers() []*peers.Peer {
	t.RLock()
	defer t.RUnlock()
	return t.snapshot()
}

// Len returns the number of peers in the table.
func (t *Table) Len() int {
	t.RLock()
	defer t.RUnlock()

	n := 0
	for _, b := range t.buckets {
		n += len(b)
	}
	return n
}

func (t *Table) snapshot() []*peers.Peer {
	var all []*peers.Peer
	for _, b := range t.buckets {
		for _, entry := range b {
			all = append(all, entry.Clone())
		}
	}
	return all
}

func (t *Table) bucketFor(id peers.ID) int {
	cpl := CommonPrefixLen(t.self, id)
	if cpl >= numBuckets {
		cpl = numBuckets - 1
	}
	return cpl
}
