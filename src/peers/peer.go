package peers

// Peer associates a peer ID with the set of multiaddrs currently believed to
// reach it. The address set has set semantics and is never empty for a peer
// held in the DHT routing table.
type Peer struct {
	ID    ID          `json:"id"`
	Addrs []Multiaddr `json:"addrs"`
}

// NewPeer instantiates a Peer with a deduplicated address set.
func NewPeer(id ID, addrs ...Multiaddr) *Peer {
	peer := &Peer{ID: id}
	for _, a := range addrs {
		peer.AddAddr(a)
	}
	return peer
}

// AddAddr inserts an address into the peer's address set. It reports whether
// the set changed.
func (p *Peer) AddAddr(addr Multiaddr) bool {
	if p.HasAddr(addr) {
		return false
	}
	p.Addrs = append(p.Addrs, addr)
	return true
}

// HasAddr reports whether the address is already in the peer's address set.
func (p *Peer) HasAddr(addr Multiaddr) bool {
	for _, a := range p.Addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the peer.
func (p *Peer) Clone() *Peer {
	addrs := make([]Multiaddr, len(p.Addrs))
	copy(addrs, p.Addrs)
	return &Peer{ID: p.ID, Addrs: addrs}
}
