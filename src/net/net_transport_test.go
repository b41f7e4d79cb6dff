package net

import (
	"crypto/rand"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/plexus/src/common"
	"github.com/mosaicnetworks/plexus/src/crypto/keys"
	"github.com/mosaicnetworks/plexus/src/peers"
)

const (
	INMEM = iota
	TCP
	WS
	numTestTransports // NOTE: must be last
)

func randomID(t *testing.T) peers.ID {
	var id peers.ID
	if _, err := rand.Read(id[:]); err != nil {
		t.Fatalf("err: %v", err)
	}
	return id
}

func NewTestTransport(ttype int, t *testing.T) Transport {
	switch ttype {
	case INMEM:
		_, it := NewInmemTransport(randomID(t), "")
		return it
	case TCP, WS:
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		noiseCfg, err := NewNoiseConfig(key)
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		var layer StreamLayer
		if ttype == TCP {
			layer, err = NewTCPStreamLayer("127.0.0.1:0", "")
		} else {
			layer, err = NewWSStreamLayer("127.0.0.1:0", "")
		}
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		trans := NewNetworkTransport(
			[]StreamLayer{layer},
			noiseCfg,
			2,
			time.Second,
			common.NewTestEntry(t, common.TestLogLevel),
		)

		go trans.Listen()

		return trans
	default:
		panic("Unknown transport type")
	}
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_Ping(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, t)
		defer trans1.Close()
		rpcCh := trans1.Consumer()

		trans2 := NewTestTransport(ttype, t)
		defer trans2.Close()

		if ttype == INMEM {
			itrans1 := trans1.(*InmemTransport)
			itrans2 := trans2.(*InmemTransport)
			itrans1.Connect(trans2.AdvertiseAddrs()[0], trans2)
			itrans2.Connect(trans1.AdvertiseAddrs()[0], trans1)
		}

		args := PingRequest{Nonce: []byte("0123456789abcdef")}

		// Listen for a request
		go func() {
			select {
			case rpc := <-rpcCh:
				req := rpc.Command.(*PingRequest)

				// The transport must stamp the authenticated identity
				if rpc.From != trans2.LocalID() {
					t.Errorf("rpc.From = %v, want %v", rpc.From, trans2.LocalID())
				}

				rpc.Respond(&PingResponse{
					From:  trans1.LocalID(),
					Nonce: req.Nonce,
				}, nil)

			case <-time.After(500 * time.Millisecond):
				t.Errorf("timeout")
			}
		}()

		var resp PingResponse
		if err := trans2.Ping(trans1.AdvertiseAddrs()[0], &args, &resp); err != nil {
			t.Fatalf("transport %d err: %v", ttype, err)
		}

		if string(resp.Nonce) != string(args.Nonce) {
			t.Fatalf("nonce mismatch: %q %q", resp.Nonce, args.Nonce)
		}
		if resp.From != trans1.LocalID() {
			t.Fatalf("resp.From = %v, want %v", resp.From, trans1.LocalID())
		}
	}
}

func TestTransport_FindNode(t *testing.T) {
	trans1 := NewTestTransport(TCP, t)
	defer trans1.Close()
	rpcCh := trans1.Consumer()

	trans2 := NewTestTransport(TCP, t)
	defer trans2.Close()

	target := randomID(t)

	closer := []*peers.Peer{
		{
			ID:    randomID(t),
			Addrs: []peers.Multiaddr{"/ip4/10.0.0.1/tcp/64001"},
		},
		{
			ID:    randomID(t),
			Addrs: []peers.Multiaddr{"/ip4/10.0.0.2/tcp/64001", "/ip4/10.0.0.2/tcp/64002/ws"},
		},
	}

	go func() {
		select {
		case rpc := <-rpcCh:
			req := rpc.Command.(*FindNodeRequest)
			if req.Target != target {
				t.Errorf("target mismatch: %v %v", req.Target, target)
			}
			rpc.Respond(&FindNodeResponse{From: trans1.LocalID(), Peers: closer}, nil)

		case <-time.After(500 * time.Millisecond):
			t.Errorf("timeout")
		}
	}()

	args := FindNodeRequest{Target: target}
	var resp FindNodeResponse
	if err := trans2.FindNode(trans1.AdvertiseAddrs()[0], &args, &resp); err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(resp.Peers, closer) {
		t.Fatalf("peers mismatch: %#v %#v", resp.Peers, closer)
	}
}

func TestTransport_RPCError(t *testing.T) {
	trans1 := NewTestTransport(TCP, t)
	defer trans1.Close()
	rpcCh := trans1.Consumer()

	trans2 := NewTestTransport(TCP, t)
	defer trans2.Close()

	go func() {
		rpc := <-rpcCh
		rpc.Respond(&GetRecordResponse{From: trans1.LocalID()}, errors.New("record store on fire"))
	}()

	args := GetRecordRequest{Key: []byte("some key")}
	var resp GetRecordResponse
	err := trans2.GetRecord(trans1.AdvertiseAddrs()[0], &args, &resp)
	if err == nil || err.Error() != "record store on fire" {
		t.Fatalf("err: %v", err)
	}
}

func TestTransport_IdentityPin(t *testing.T) {
	trans1 := NewTestTransport(TCP, t)
	defer trans1.Close()

	trans2 := NewTestTransport(TCP, t)
	defer trans2.Close()

	// Pin the dial to an identity the server does not hold
	target := trans1.AdvertiseAddrs()[0].WithPeer(randomID(t))

	var resp PingResponse
	err := trans2.Ping(target, &PingRequest{}, &resp)
	if err == nil {
		t.Fatal("dial pinned to the wrong identity should fail")
	}
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("err: %v", err)
	}
}

func TestTransport_SessionEvents(t *testing.T) {
	trans1 := NewTestTransport(TCP, t)
	defer trans1.Close()
	rpcCh := trans1.Consumer()

	trans2 := NewTestTransport(TCP, t)

	go func() {
		rpc := <-rpcCh
		rpc.Respond(&PingResponse{From: trans1.LocalID()}, nil)
	}()

	var resp PingResponse
	if err := trans2.Ping(trans1.AdvertiseAddrs()[0], &PingRequest{}, &resp); err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case ev := <-trans1.Events():
		if ev.Peer != trans2.LocalID() {
			t.Fatalf("event peer = %v, want %v", ev.Peer, trans2.LocalID())
		}
		if ev.Closed {
			t.Fatal("first event should mark the session open")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session event")
	}

	// Closing the dialer's transport releases the pooled connection, which
	// the server observes as the session going away.
	trans2.Close()

	select {
	case ev := <-trans1.Events():
		if ev.Peer != trans2.LocalID() {
			t.Fatalf("event peer = %v, want %v", ev.Peer, trans2.LocalID())
		}
		if !ev.Closed {
			t.Fatal("second event should mark the session closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session close event")
	}
}

func TestTransport_DialErrors(t *testing.T) {
	trans := NewTestTransport(TCP, t)
	defer trans.Close()

	// Nothing listens on port 1
	var resp PingResponse
	err := trans.Ping("/ip4/127.0.0.1/tcp/1", &PingRequest{}, &resp)
	if err == nil {
		t.Fatal("dial to a closed port should fail")
	}
	if !errors.Is(err, ErrUnreachable) && !errors.Is(err, ErrDialTimeout) {
		t.Fatalf("err: %v", err)
	}

	// No layer serves webrtc in this transport
	err = trans.Probe(peers.Multiaddr("/webrtc/" + randomID(t).String()))
	if err == nil || !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("err: %v", err)
	}
}

func TestTransport_Probe(t *testing.T) {
	trans1 := NewTestTransport(TCP, t)
	defer trans1.Close()

	trans2 := NewTestTransport(TCP, t)
	defer trans2.Close()

	if err := trans2.Probe(trans1.AdvertiseAddrs()[0]); err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := trans2.Probe(trans1.AdvertiseAddrs()[0].WithPeer(randomID(t))); err == nil {
		t.Fatal("probe pinned to the wrong identity should fail")
	}
}
