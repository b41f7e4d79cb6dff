package peers

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sync"
)

// jsonPeerSetPath is the name of the bootstrap file within the data
// directory.
const jsonPeerSetPath = "bootstrap.json"

// JSONPeerSet loads the bootstrap set from a JSON file on disk. The file
// holds a flat array of multiaddr strings, each of which must embed the
// identity of the peer it reaches.
type JSONPeerSet struct {
	l    sync.Mutex
	path string
}

// NewJSONPeerSet creates a JSONPeerSet with reference to the base directory
// where the bootstrap file resides.
func NewJSONPeerSet(base string) *JSONPeerSet {
	return &JSONPeerSet{
		path: filepath.Join(base, jsonPeerSetPath),
	}
}

// PeerSet parses the underlying JSON file and returns the corresponding
// PeerSet, grouping addresses by their embedded peer identity.
func (j *JSONPeerSet) PeerSet() (*PeerSet, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	var addrs []string
	if err := json.Unmarshal(buf, &addrs); err != nil {
		return nil, fmt.Errorf("parsing %s: %v", j.path, err)
	}

	return ParseBootstrap(addrs)
}

// Write dumps a PeerSet back to the underlying JSON file, one multiaddr per
// peer address with the identity pinned.
func (j *JSONPeerSet) Write(ps *PeerSet) error {
	j.l.Lock()
	defer j.l.Unlock()

	var addrs []string
	for _, p := range ps.Peers {
		for _, a := range p.Addrs {
			addrs = append(addrs, a.WithPeer(p.ID).String())
		}
	}

	b, err := json.MarshalIndent(addrs, "", "  ")
	if err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, b, 0644)
}

// ParseBootstrap builds a PeerSet from raw multiaddr strings. Every address
// must parse and embed a peer identity; a single bad entry fails the whole
// set, because a node with a broken bootstrap configuration should not start.
func ParseBootstrap(addrs []string) (*PeerSet, error) {
	var bootstrapPeers []*Peer

	for _, s := range addrs {
		m, err := ParseMultiaddr(s)
		if err != nil {
			return nil, err
		}

		id, err := m.PeerID()
		if err != nil {
			return nil, err
		}

		bootstrapPeers = append(bootstrapPeers, NewPeer(id, m))
	}

	return NewPeerSet(bootstrapPeers), nil
}
