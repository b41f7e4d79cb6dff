package net

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/plexus/src/net/signal"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/pion/datachannel"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// WebRTCStreamLayer implements the StreamLayer interface for WebRTC. Peers
// are addressed by identity, not by IP, so this layer is how two nodes
// behind NATs reach each other. Connection information is exchanged through
// the signaling system before a direct link is established.
type WebRTCStreamLayer struct {
	sync.Mutex
	peerConnections        map[string]*webrtc.PeerConnection
	dataChannels           map[uint16]datachannel.ReadWriteCloser
	signal                 signal.Signal
	iceServers             []webrtc.ICEServer
	incomingConnAggregator chan net.Conn
	logger                 *logrus.Entry
}

// NewWebRTCStreamLayer instantiates a new WebRTCStreamLayer and fires up the
// background signaling process which feeds the connection aggregator.
func NewWebRTCStreamLayer(
	sig signal.Signal,
	iceServers []webrtc.ICEServer,
	logger *logrus.Entry,
) *WebRTCStreamLayer {

	stream := &WebRTCStreamLayer{
		peerConnections:        make(map[string]*webrtc.PeerConnection),
		dataChannels:           make(map[uint16]datachannel.ReadWriteCloser),
		signal:                 sig,
		iceServers:             iceServers,
		incomingConnAggregator: make(chan net.Conn),
		logger:                 logger,
	}

	go stream.listen()

	return stream
}

// Receive SDP offers from the signal, create corresponding PeerConnections
// and respond. The PeerConnection's DataChannel is piped into the connection
// aggregator. A failure to process one offer is reported to its originator
// and does not stop the signaling loop.
func (w *WebRTCStreamLayer) listen() error {
	// Start the Signal listener
	if err := w.signal.Listen(); err != nil {
		return err
	}

	consumer := w.signal.Consumer()

	// Process incoming offers
	for offerPromise := range consumer {
		w.logger.WithField("from", offerPromise.From).Debug("Processing offer")

		answer, err := w.answerOffer(offerPromise.From, offerPromise.Offer)
		if err != nil {
			w.logger.WithError(err).Error("Failed to process offer")
			offerPromise.Respond(nil, err)
			continue
		}

		offerPromise.Respond(answer, nil)
	}

	return nil
}

func (w *WebRTCStreamLayer) answerOffer(
	from string,
	offer webrtc.SessionDescription,
) (*webrtc.SessionDescription, error) {

	peerConnection, err := w.newPeerConnection(w.incomingConnAggregator, false)
	if err != nil {
		return nil, err
	}

	// Set the remote SessionDescription
	if err := peerConnection.SetRemoteDescription(offer); err != nil {
		peerConnection.Close()
		return nil, err
	}

	// Create answer
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		peerConnection.Close()
		return nil, err
	}

	// Sets the LocalDescription, and starts our UDP listeners
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		peerConnection.Close()
		return nil, err
	}

	w.Lock()
	w.peerConnections[from] = peerConnection
	w.Unlock()

	return &answer, nil
}

// newPeerConnection creates a PeerConnection and pipes corresponding
// DataChannel connections into the provided channel. The createDataChannel
// parameter determines whether a new DataChannel is created for the
// PeerConnection or if we just bind to its OnDataChannel handler. Basically,
// set it to true when actively creating a PeerConnection (you are making the
// offer) and vice-versa.
func (w *WebRTCStreamLayer) newPeerConnection(connCh chan net.Conn, createDataChannel bool) (*webrtc.PeerConnection, error) {
	// Create a SettingEngine and enable Detach
	s := webrtc.SettingEngine{}
	s.DetachDataChannels()

	// Create an API object with the engine
	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	// Prepare the configuration
	config := webrtc.Configuration{
		ICEServers: w.iceServers,
	}

	// Create a new RTCPeerConnection using the API object
	peerConnection, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	// Set the handler for ICE connection state
	// This will notify you when the peer has connected/disconnected
	peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		w.logger.WithField("state", connectionState.String()).Debug("ICE Connection State has changed")
	})

	if createDataChannel {
		// Create a datachannel with label 'data'
		dataChannel, err := peerConnection.CreateDataChannel("data", nil)
		if err != nil {
			return nil, err
		}

		w.pipeDataChannel(dataChannel, connCh)
	} else {
		// Register data channel creation handling
		peerConnection.OnDataChannel(func(d *webrtc.DataChannel) {
			w.pipeDataChannel(d, connCh)
		})
	}

	return peerConnection, nil
}

func (w *WebRTCStreamLayer) pipeDataChannel(dataChannel *webrtc.DataChannel, connCh chan net.Conn) {
	// Register channel opening handling
	dataChannel.OnOpen(func() {
		// Detach the data channel
		raw, err := dataChannel.Detach()
		if err != nil {
			w.logger.WithError(err).Error("Error detaching DataChannel")
			return
		}

		w.Lock()
		w.dataChannels[*dataChannel.ID()] = raw
		w.Unlock()

		connCh <- NewWebRTCConn(raw)
	})
}

// Dial implements the StreamLayer interface. The target is the base58 peer
// ID of the remote node, which is also its address in the signaling system.
func (w *WebRTCStreamLayer) Dial(target string, timeout time.Duration) (net.Conn, error) {
	// connCh is a channel for receiving net.Conn objects asynchronously when
	// the DataChannel's OnOpen callback is fired.
	connCh := make(chan net.Conn)

	// Create PeerConnection and pipe DataChannel connections to connCh
	pc, err := w.newPeerConnection(connCh, true)
	if err != nil {
		return nil, err
	}

	// Create an offer to send to the signaling system
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}

	// Sets the LocalDescription, and starts our UDP listeners
	err = pc.SetLocalDescription(offer)
	if err != nil {
		return nil, err
	}

	// synchronous offer/answer RPC request through signal to exchange SDP
	// information.
	answer, err := w.signal.Offer(target, offer)
	if err != nil {
		return nil, err
	}

	if answer == nil {
		return nil, fmt.Errorf("No answer")
	}

	// Apply the answer as the remote description
	err = pc.SetRemoteDescription(*answer)
	if err != nil {
		return nil, err
	}

	w.Lock()
	w.peerConnections[target] = pc
	w.Unlock()

	// Wait for DataChannel opening
	timer := time.After(timeout)
	select {
	case <-timer:
		return nil, dialTimeoutError{target}
	case conn := <-connCh:
		return conn, nil
	}
}

// Accept consumes the incoming connection aggregator fed by the 'listen'
// routine. It aggregates the connections from all DataChannels formed with
// PeerConnections.
func (w *WebRTCStreamLayer) Accept() (c net.Conn, err error) {
	nextConn := <-w.incomingConnAggregator
	return nextConn, nil
}

// Close implements the net.Listener interface. It closes the Signal and all
// the PeerConnections
func (w *WebRTCStreamLayer) Close() (err error) {
	// Close the connection to the signal server
	w.signal.Close()

	w.Lock()
	defer w.Unlock()

	// Close all peer connections
	for _, pc := range w.peerConnections {
		pc.Close()
	}

	// Close all data channels
	for _, dc := range w.dataChannels {
		dc.Close()
	}
	return nil
}

// Addr implements the net.Listener interface
func (w *WebRTCStreamLayer) Addr() net.Addr {
	return nil
}

// AdvertiseAddr implements the StreamLayer interface. It returns the base58
// peer ID under which this node is reachable through the signaling system.
func (w *WebRTCStreamLayer) AdvertiseAddr() string {
	return w.signal.ID()
}

// Network implements the StreamLayer interface.
func (w *WebRTCStreamLayer) Network() string {
	return peers.NetworkWebRTC
}

// dialTimeoutError reports an expired DataChannel opening as a timeout so
// that dial errors are classified accordingly.
type dialTimeoutError struct {
	target string
}

func (e dialTimeoutError) Error() string {
	return fmt.Sprintf("webrtc dial to %s timed out", e.target)
}

func (e dialTimeoutError) Timeout() bool { return true }

func (e dialTimeoutError) Temporary() bool { return true }
