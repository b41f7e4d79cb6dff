package peers

// PeerSet is a collection of peers with a lookup map by ID.
type PeerSet struct {
	Peers []*Peer      `json:"peers"`
	ByID  map[ID]*Peer `json:"-"`
}

// NewPeerSet creates a PeerSet from a list of peers, merging duplicate IDs
// into one entry.
func NewPeerSet(peers []*Peer) *PeerSet {
	ps := &PeerSet{
		ByID: make(map[ID]*Peer),
	}
	for _, p := range peers {
		if existing, ok := ps.ByID[p.ID]; ok {
			for _, a := range p.Addrs {
				existing.AddAddr(a)
			}
			continue
		}
		clone := p.Clone()
		ps.Peers = append(ps.Peers, clone)
		ps.ByID[p.ID] = clone
	}
	return ps
}

// Get returns the peer with the given ID.
func (ps *PeerSet) Get(id ID) (*Peer, bool) {
	p, ok := ps.ByID[id]
	return p, ok
}

// Len returns the number of peers in the set.
func (ps *PeerSet) Len() int {
	return len(ps.Peers)
}

// IDs returns the IDs of all peers in the set.
func (ps *PeerSet) IDs() []ID {
	ids := make([]ID, 0, len(ps.Peers))
	for _, p := range ps.Peers {
		ids = append(ids, p.ID)
	}
	return ids
}
