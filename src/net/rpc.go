package net

import (
	"github.com/mosaicnetworks/plexus/src/peers"
)

// RPCResponse captures both a response and a potential error.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC has a command, the authenticated identity of the sender, and provides
// a response mechanism.
type RPC struct {
	From     peers.ID
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Respond is used to respond with a response, error or both
func (rpc *RPC) Respond(resp interface{}, err error) {
	rpc.RespChan <- RPCResponse{resp, err}
}
