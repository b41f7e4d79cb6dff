// Package node implements the reactive component of a plexus node.
//
// This is the part of plexus that ties the behaviors together: the transport,
// the liveness monitor, the identity exchanger, the DHT engine, and the
// reachability prober all report into a single event loop which owns every
// piece of session and policy state. Node implements a state machine with
// three states: Bootstrapping, Discovering, and Shutdown.
//
// Event Loop
//
// Handlers run to completion on the loop goroutine and never block on network
// I/O. Anything that must wait on the network, such as an outbound identity
// exchange or a DHT lookup, is started in a behavior's own goroutines and
// comes back to the loop as an event on that behavior's channel. Inbound RPCs
// from remote peers arrive on the transport's consumer channel and are
// dispatched by processRPC; all of them are answerable from local state
// except dial-back requests, which open fresh connections and therefore run
// off the loop.
//
// Sessions
//
// A session tracks one authenticated connection from establishment to
// disconnection. Sessions begin unidentified. The first identity exchange on
// a session settles it for good: the peer's presented description is checked
// against the connection's authenticated identity, and the address-learning
// policy decides whether the peer joins the DHT. A peer that advertises no
// listen addresses, or that does not speak the DHT protocol, is skipped with
// a warning and excluded from routing for the rest of the session. Everyone
// else has their addresses added to the routing table and their address set
// published as a DHT record. Duplicate exchanges within one session are
// ignored; a peer that reconnects gets a fresh session and a fresh
// evaluation.
//
// Bootstrapping
//
// A node starts from a possibly empty bootstrap set. During the Bootstrapping
// state it seeds the routing table with the bootstrap peers, starts a lookup
// for its own ID to populate its neighborhood, and opens a session to every
// bootstrap peer. It then moves to Discovering, where it stays until
// Shutdown. A heartbeat timer paces background upkeep: stats logging, gauge
// updates, and the periodic republication of the node's own address record.
package node
