package node

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/plexus/src/identify"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/sirupsen/logrus"
)

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.PingRequest:
		n.processPingRequest(rpc, cmd)
	case *net.IdentifyRequest:
		n.processIdentifyRequest(rpc, cmd)
	case *net.FindNodeRequest:
		n.processFindNodeRequest(rpc, cmd)
	case *net.GetRecordRequest:
		n.processGetRecordRequest(rpc, cmd)
	case *net.PutRecordRequest:
		n.processPutRecordRequest(rpc, cmd)
	case *net.DialBackRequest:
		n.processDialBackRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processPingRequest(rpc net.RPC, cmd *net.PingRequest) {
	n.logger.WithFields(logrus.Fields{
		"from": rpc.From.Short(),
	}).Debug("process PingRequest")

	resp := &net.PingResponse{
		From:  n.identity.ID(),
		Nonce: cmd.Nonce,
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processIdentifyRequest(rpc net.RPC, cmd *net.IdentifyRequest) {
	n.logger.WithFields(logrus.Fields{
		"from":  rpc.From.Short(),
		"agent": cmd.Info.Agent,
	}).Debug("process IdentifyRequest")

	resp := &net.IdentifyResponse{
		From: n.identity.ID(),
		Info: n.exchanger.LocalInfo(),
	}

	//Respond first; our self-description does not depend on whether we accept
	//theirs.
	rpc.Respond(resp, nil)

	if err := identify.Verify(rpc.From, cmd.Info); err != nil {
		metricIdentify.WithLabelValues(outcomeRejected).Inc()
		n.logger.WithField("peer", rpc.From.Short()).
			WithError(err).Warning("Rejecting inbound identify")
		return
	}

	//The first RPC on a fresh inbound connection can overtake the transport's
	//session event.
	n.ensureSession(rpc.From)

	n.evaluatePeer(rpc.From, cmd.Info)
}

func (n *Node) processFindNodeRequest(rpc net.RPC, cmd *net.FindNodeRequest) {
	found := n.dht.HandleFindNode(rpc.From, cmd.Target)

	n.logger.WithFields(logrus.Fields{
		"from":   rpc.From.Short(),
		"target": cmd.Target.Short(),
		"found":  len(found),
	}).Debug("process FindNodeRequest")

	resp := &net.FindNodeResponse{
		From:  n.identity.ID(),
		Peers: found,
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processGetRecordRequest(rpc net.RPC, cmd *net.GetRecordRequest) {
	value, found, closer := n.dht.HandleGetRecord(rpc.From, cmd.Key)

	n.logger.WithFields(logrus.Fields{
		"from":   rpc.From.Short(),
		"found":  found,
		"closer": len(closer),
	}).Debug("process GetRecordRequest")

	resp := &net.GetRecordResponse{
		From:   n.identity.ID(),
		Found:  found,
		Value:  value,
		Closer: closer,
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processPutRecordRequest(rpc net.RPC, cmd *net.PutRecordRequest) {
	var respErr error

	if err := n.dht.HandlePutRecord(rpc.From, cmd.Key, cmd.Value); err != nil {
		n.logger.WithFields(logrus.Fields{
			"from": rpc.From.Short(),
			"key":  fmt.Sprintf("%.8x", cmd.Key),
		}).WithError(err).Debug("Rejecting record")
		respErr = err
	}

	resp := &net.PutRecordResponse{
		From: n.identity.ID(),
	}

	rpc.Respond(resp, respErr)
}

func (n *Node) processDialBackRequest(rpc net.RPC, cmd *net.DialBackRequest) {
	n.logger.WithFields(logrus.Fields{
		"from":  rpc.From.Short(),
		"addrs": len(cmd.Addrs),
	}).Debug("process DialBackRequest")

	//Dial-backs open fresh connections and block on dial timeouts, so they
	//run off the main loop.
	launched := n.goFunc(func() {
		results, err := n.prober.HandleDialBack(rpc.From, cmd.Addrs)

		resp := &net.DialBackResponse{
			From:    n.identity.ID(),
			Results: results,
		}

		n.logger.WithFields(logrus.Fields{
			"from":    rpc.From.Short(),
			"results": len(results),
			"rpc_err": err,
		}).Debug("Responding to DialBackRequest")

		rpc.Respond(resp, err)
	})

	if !launched {
		rpc.Respond(nil, fmt.Errorf("too many concurrent dial-backs"))
	}
}

// ensureSession registers a session for a peer whose connection the transport
// has accepted but not yet announced on the event channel.
func (n *Node) ensureSession(peer peers.ID) {
	if n.getSession(peer) != nil {
		return
	}

	n.addSession(&session{
		peer:        peer,
		inbound:     true,
		connectedAt: time.Now(),
	})
}
