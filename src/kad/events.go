package kad

import (
	"github.com/google/uuid"
	"github.com/mosaicnetworks/plexus/src/peers"
)

// EventType discriminates engine events.
type EventType int

const (
	// EventBootstrapDone reports the outcome of a Bootstrap query.
	EventBootstrapDone EventType = iota

	// EventPutDone reports the outcome of a Put query.
	EventPutDone

	// EventGetDone reports the outcome of a Get query.
	EventGetDone

	// EventInboundRequest reports a request served from the local table or
	// store. Purely informational; these are dropped rather than queued
	// when the consumer falls behind.
	EventInboundRequest
)

func (t EventType) String() string {
	switch t {
	case EventBootstrapDone:
		return "bootstrap-done"
	case EventPutDone:
		return "put-done"
	case EventGetDone:
		return "get-done"
	case EventInboundRequest:
		return "inbound-request"
	default:
		return "unknown"
	}
}

// Event is delivered on the engine's Events channel.
type Event struct {
	Type EventType

	// QueryID ties a completion event back to the call that started the
	// query.
	QueryID uuid.UUID

	// Key of the record involved, for Put/Get completions.
	Key []byte

	// Value found, for Get completions.
	Value []byte

	// Acks is the number of remote acknowledgements obtained when the
	// completion was emitted.
	Acks int

	// TableSize after a bootstrap.
	TableSize int

	// From and Request describe inbound requests.
	From    peers.ID
	Request string

	// Err is set when the query failed.
	Err error
}
