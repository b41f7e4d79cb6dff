// Package kad implements the Kademlia engine behind the overlay's address
// book: an XOR-keyed routing table, a TTL record store, and the iterative
// queries that place and retrieve records on the network.
//
// The engine runs its own goroutines for queries and maintenance and guards
// its state with internal locks, so all exported methods are safe to call
// from the node's event loop without blocking it. Query results come back
// asynchronously on the Events channel.
package kad

import (
	"errors"
	"time"
)

// ProtocolID names the DHT protocol. Peers that do not advertise it in their
// identify info are not involved in record placement.
const ProtocolID = "/plexus/kad/1.0.0"

const (
	// K is the bucket size and the fan-out of record replication.
	K = 20

	// Alpha is the number of parallel requests per lookup round.
	Alpha = 3

	// KeySize is the exact record key length. Keys are peer IDs, nothing
	// else.
	KeySize = 32

	// MaxValueSize caps stored record values.
	MaxValueSize = 2048
)

const (
	// QuorumOne completes a Put on the first remote acknowledgement.
	QuorumOne = 1

	// QuorumAll completes a Put only when every selected peer has
	// acknowledged.
	QuorumAll = -1
)

const (
	// DefaultRecordTTL is how long a stored record survives without being
	// republished.
	DefaultRecordTTL = 36 * time.Hour

	// DefaultRepublishInterval is how often records we originated are
	// pushed to the current closest peers.
	DefaultRepublishInterval = 1 * time.Hour

	// DefaultCleanupInterval is how often expired records are reaped.
	DefaultCleanupInterval = 10 * time.Minute
)

var (
	// ErrQuorumFailed is returned when a Put obtained fewer remote
	// acknowledgements than its quorum. The record is still stored locally.
	ErrQuorumFailed = errors.New("put quorum not reached")

	// ErrNotFound is returned when a Get exhausted the candidate peers
	// without finding the record.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidKey is returned for keys that are not exactly KeySize
	// bytes.
	ErrInvalidKey = errors.New("record key must be a peer ID")

	// ErrValueTooLarge is returned for values above MaxValueSize.
	ErrValueTooLarge = errors.New("record value too large")
)
