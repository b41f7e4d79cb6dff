package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/plexus/src/common"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBootstrapFile is the default name of the file containing the
	// bootstrap peers
	DefaultBootstrapFile = "bootstrap.json"

	// DefaultCertFile is the default name of the file containing the TLS
	// certificate for connecting to the signaling server.
	DefaultCertFile = "cert.pem"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultListenAddr       = "/ip4/0.0.0.0/tcp/64001"
	DefaultWSListenAddr     = "/ip4/0.0.0.0/tcp/64002/ws"
	DefaultServiceAddr      = "127.0.0.1:8000"
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultPingInterval     = 15 * time.Second
	DefaultProbeInterval    = 90 * time.Second
	DefaultConnectTimeout   = 1000 * time.Millisecond
	DefaultMaxPool          = 2
	DefaultWebRTC           = false
	DefaultSignalAddr       = "127.0.0.1:2443"
	DefaultSignalRealm      = "main"
	DefaultSignalSkipVerify = false
	DefaultICEAddress       = "stun:stun.l.google.com:19302"
	DefaultICEUsername      = ""
	DefaultICEPassword      = ""
)

// Config contains all the configuration properties of a plexus node.
type Config struct {
	// DataDir is the top-level directory containing plexus configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, routes a copy of every log record to the given file
	// in JSON format, on top of the usual stderr output.
	LogFile string `mapstructure:"log-file"`

	// ListenAddr is the multiaddr of the TCP stream layer, e.g.
	// /ip4/0.0.0.0/tcp/64001. An empty value disables the layer. In some
	// cases, there may be a routable address that cannot be bound; use
	// AdvertiseAddr to advertise a different address to other nodes.
	ListenAddr string `mapstructure:"listen"`

	// WSListenAddr is the multiaddr of the WebSocket stream layer, e.g.
	// /ip4/0.0.0.0/tcp/64002/ws. An empty value disables the layer.
	WSListenAddr string `mapstructure:"ws-listen"`

	// AdvertiseAddr overrides the address advertised to other nodes in
	// identity exchanges and DHT records. When empty, the bound listen
	// addresses are advertised, with unspecified IPs expanded to the host's
	// interface addresses.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are registered
	// with the DefaultServerMux of the http package. It is possible that
	// another server in the same process is simultaneously using the
	// DefaultServerMux. In which case, the handlers will be accessible from
	// both servers. This is usefull when plexus is used in-memory and expected
	// to use the same endpoint (address:port) as the application's API.
	ServiceAddr string `mapstructure:"service-listen"`

	// HeartbeatTimeout is the frequency of the upkeep timer which paces stats
	// logging and the republication of the node's own address record.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// PingInterval is the frequency at which each active session is probed
	// for liveness.
	PingInterval time.Duration `mapstructure:"ping-interval"`

	// ProbeInterval is the base frequency of reachability dial-back probes.
	ProbeInterval time.Duration `mapstructure:"probe-interval"`

	// ConnectTimeout is the timeout of outbound RPC connections. It also
	// applies to WebRTC connections.
	ConnectTimeout time.Duration `mapstructure:"timeout"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// WebRTC determines whether to enable the WebRTC stream layer. WebRTC
	// uses a very different protocol stack than TCP/IP and enables peers to
	// connect directly even with multiple layers of NAT between them, such as
	// in cellular networks. WebRTC relies on a signaling server whose address
	// is specified by SignalAddr.
	WebRTC bool `mapstructure:"webrtc"`

	// SignalAddr is the IP:PORT of the WebRTC signaling server. It is ignored
	// when WebRTC is not enabled. The connection is over secured web-sockets,
	// wss, and it possible to include a self-signed certificated in a file
	// called cert.pem in the datadir. If no self-signed certificate is found,
	// the server's certifacate signing authority better be trusted.
	SignalAddr string `mapstructure:"signal-addr"`

	// SignalRealm is an administrative domain within the WebRTC signaling
	// server. WebRTC signaling messages are only routed within a Realm.
	SignalRealm string `mapstructure:"signal-realm"`

	// SignalSkipVerify controls whether the signal client verifies the server's
	// certificate chain and host name. If SignalSkipVerify is true, TLS accepts
	// any certificate presented by the server and any host name in that
	// certificate. In this mode, TLS is susceptible to man-in-the-middle
	// attacks. This should be used only for testing.
	SignalSkipVerify bool `mapstructure:"signal-skip-verify"`

	// ICE address is the URI of a server providing services for ICE, such as
	// STUN and TURN. The server should support password-based authentication,
	// as plexus will try to connect with the username and password provided in
	// ICEUsername and ICEPassword below. Username adn password can also be
	// empty if the ICE server does not use authentication.
	// https://developer.mozilla.org/en-US/docs/Web/API/RTCIceServer/urls
	ICEAddress string `mapstructure:"ice-addr"`

	// ICEUsername is the username that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEUsername string `mapstructure:"ice-username"`

	// ICEPassword is the password that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEPassword string `mapstructure:"ice-password"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values. All the default
// configuration values are set, even if they cancel eachother out. For example,
// when WebRTC = false, all the Signal options are ignored.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		ListenAddr:       DefaultListenAddr,
		WSListenAddr:     DefaultWSListenAddr,
		ServiceAddr:      DefaultServiceAddr,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		PingInterval:     DefaultPingInterval,
		ProbeInterval:    DefaultProbeInterval,
		ConnectTimeout:   DefaultConnectTimeout,
		MaxPool:          DefaultMaxPool,
		WebRTC:           DefaultWebRTC,
		SignalAddr:       DefaultSignalAddr,
		SignalRealm:      DefaultSignalRealm,
		SignalSkipVerify: DefaultSignalSkipVerify,
		ICEAddress:       DefaultICEAddress,
		ICEUsername:      DefaultICEUsername,
		ICEPassword:      DefaultICEPassword,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level plexus directory.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// BootstrapFile returns the full path of the file containing the bootstrap
// peers.
func (c *Config) BootstrapFile() string {
	return filepath.Join(c.DataDir, DefaultBootstrapFile)
}

// CertFile returns the full path of the file containing the signal-server TLS
// certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// ICEServers returns a list of ICE servers used by the WebRTCStreamLayer to
// connect to peers. The list contains a single item which is based on the
// configuration passed through the config object. This configuration is limited
// to a single server, with password-based authentication.
func (c *Config) ICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs:           []string{c.ICEAddress},
			Username:       c.ICEUsername,
			Credential:     c.ICEPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		},
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "plexus".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			if _, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666); err != nil {
				c.logger.WithError(err).Infof("Failed to open %s, using default stderr", c.LogFile)
			} else {
				c.logger.Hooks.Add(lfshook.NewHook(
					c.LogFile,
					&logrus.JSONFormatter{},
				))
			}
		}
	}
	return c.logger.WithField("prefix", "plexus")
}

// DefaultDataDir return the default directory name for top-level plexus config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Plexus")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Plexus")
		} else {
			return filepath.Join(home, ".plexus")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}

// DefaultICEServers returns the default ICE configuration with one URL pointing
// to a public Google STUN server.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{DefaultICEAddress},
		},
	}
}
