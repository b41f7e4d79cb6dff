package net

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/plexus/src/peers"
)

var errWSLayerClosed = errors.New("websocket stream layer closed")

// WSStreamLayer implements the StreamLayer interface over WebSocket. It runs
// an HTTP server that upgrades inbound requests and hands the resulting
// connections to the accept loop. Peer authentication happens above, in the
// security handshake, so all origins are accepted here.
type WSStreamLayer struct {
	advertise string
	listener  net.Listener
	server    *http.Server
	upgrader  websocket.Upgrader

	acceptCh  chan net.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWSStreamLayer binds a WebSocket listener.
func NewWSStreamLayer(bindAddr string, advertise string) (*WSStreamLayer, error) {
	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	layer := &WSStreamLayer{
		advertise: advertise,
		listener:  list,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		acceptCh: make(chan net.Conn),
		closeCh:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", layer.serveWS)
	layer.server = &http.Server{Handler: mux}

	go layer.server.Serve(list)

	return layer, nil
}

func (w *WSStreamLayer) serveWS(rw http.ResponseWriter, req *http.Request) {
	ws, err := w.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		return
	}

	conn := newWSConn(ws)

	select {
	case w.acceptCh <- conn:
	case <-w.closeCh:
		conn.Close()
	}
}

// Dial implements the StreamLayer interface.
func (w *WSStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	ws, _, err := dialer.Dial("ws://"+address+"/", nil)
	if err != nil {
		return nil, err
	}

	return newWSConn(ws), nil
}

// Accept implements the net.Listener interface.
func (w *WSStreamLayer) Accept() (net.Conn, error) {
	select {
	case conn := <-w.acceptCh:
		return conn, nil
	case <-w.closeCh:
		return nil, errWSLayerClosed
	}
}

// Close implements the net.Listener interface.
func (w *WSStreamLayer) Close() error {
	w.closeOnce.Do(func() { close(w.closeCh) })
	return w.server.Close()
}

// Addr implements the net.Listener interface.
func (w *WSStreamLayer) Addr() net.Addr {
	return w.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface.
func (w *WSStreamLayer) AdvertiseAddr() string {
	if w.advertise != "" {
		return w.advertise
	}
	return w.listener.Addr().String()
}

// Network implements the StreamLayer interface.
func (w *WSStreamLayer) Network() string {
	return peers.NetworkWS
}

// wsConn adapts a message-oriented websocket connection to the net.Conn
// byte-stream interface. Each Write becomes one binary message; Read drains
// inbound messages in order.
type wsConn struct {
	ws *websocket.Conn
	r  io.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
