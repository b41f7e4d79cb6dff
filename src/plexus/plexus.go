package plexus

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/plexus/src/autonat"
	"github.com/mosaicnetworks/plexus/src/config"
	"github.com/mosaicnetworks/plexus/src/crypto/keys"
	"github.com/mosaicnetworks/plexus/src/identify"
	"github.com/mosaicnetworks/plexus/src/kad"
	"github.com/mosaicnetworks/plexus/src/net"
	"github.com/mosaicnetworks/plexus/src/net/signal/wamp"
	"github.com/mosaicnetworks/plexus/src/node"
	"github.com/mosaicnetworks/plexus/src/peers"
	"github.com/mosaicnetworks/plexus/src/ping"
	"github.com/mosaicnetworks/plexus/src/service"
	"github.com/mosaicnetworks/plexus/src/version"
	"github.com/sirupsen/logrus"
)

// Plexus is the top-level object assembling a complete node: transport,
// behaviors, event loop, and HTTP service.
type Plexus struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Bootstrap *peers.PeerSet
	Service   *service.Service

	identity *node.Identity
	logger   *logrus.Entry
}

// NewPlexus instantiates an engine from a config object. Call Init before
// Run.
func NewPlexus(conf *config.Config) *Plexus {
	engine := &Plexus{
		Config: conf,
		logger: conf.Logger(),
	}

	return engine
}

func (p *Plexus) initKey() error {
	if p.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(p.Config.Keyfile())

		privKey, err := keyfile.ReadKey()

		if err != nil {
			p.logger.WithError(err).Warning("Cannot read private key from file")

			privKey, err = Keygen(p.Config.DataDir)

			if err != nil {
				p.logger.WithError(err).Error("Cannot generate a new private key")

				return err
			}

			p.logger.WithField("pub", keys.PublicKeyHex(&privKey.PublicKey)).
				Info("Created a new key")
		}

		p.Config.Key = privKey
	}

	p.identity = node.NewIdentity(p.Config.Key, p.Config.Moniker)

	return nil
}

func (p *Plexus) initBootstrap() error {
	if p.Bootstrap != nil {
		return nil
	}

	peerStore := peers.NewJSONPeerSet(p.Config.DataDir)

	bootstrap, err := peerStore.PeerSet()

	if err != nil {
		if os.IsNotExist(err) {
			//Starting alone is legitimate; the node just waits for inbound
			//sessions.
			p.logger.Debug("No bootstrap file, starting with an empty set")

			p.Bootstrap = peers.NewPeerSet(nil)

			return nil
		}

		return err
	}

	p.Bootstrap = bootstrap

	return nil
}

func (p *Plexus) initTransport() error {
	layers := []net.StreamLayer{}

	advertise := map[string]string{}

	if p.Config.AdvertiseAddr != "" {
		m, err := peers.ParseMultiaddr(p.Config.AdvertiseAddr)

		if err != nil {
			return fmt.Errorf("parsing advertise address: %v", err)
		}

		advertise[m.Network()] = m.DialAddr()
	}

	if p.Config.ListenAddr != "" {
		m, err := peers.ParseMultiaddr(p.Config.ListenAddr)

		if err != nil {
			return fmt.Errorf("parsing listen address: %v", err)
		}

		if m.Network() != peers.NetworkTCP {
			return fmt.Errorf("listen address %s is not a TCP multiaddr", m)
		}

		layer, err := net.NewTCPStreamLayer(m.DialAddr(), advertise[peers.NetworkTCP])

		if err != nil {
			return err
		}

		layers = append(layers, layer)
	}

	if p.Config.WSListenAddr != "" {
		m, err := peers.ParseMultiaddr(p.Config.WSListenAddr)

		if err != nil {
			return fmt.Errorf("parsing ws listen address: %v", err)
		}

		if m.Network() != peers.NetworkWS {
			return fmt.Errorf("ws listen address %s is not a WebSocket multiaddr", m)
		}

		layer, err := net.NewWSStreamLayer(m.DialAddr(), advertise[peers.NetworkWS])

		if err != nil {
			return err
		}

		layers = append(layers, layer)
	}

	if p.Config.WebRTC {
		caFile := ""
		secure := false

		if _, err := os.Stat(p.Config.CertFile()); err == nil {
			caFile = p.Config.CertFile()
			secure = true
		}

		sig, err := wamp.NewClient(
			p.Config.SignalAddr,
			p.Config.SignalRealm,
			p.identity.ID().String(),
			secure,
			caFile,
			p.Config.SignalSkipVerify,
			p.Config.ConnectTimeout,
			p.logger,
		)

		if err != nil {
			return err
		}

		layers = append(layers, net.NewWebRTCStreamLayer(sig, p.Config.ICEServers(), p.logger))
	}

	if len(layers) == 0 {
		return fmt.Errorf("no stream layer configured")
	}

	noiseCfg, err := net.NewNoiseConfig(p.Config.Key)

	if err != nil {
		return err
	}

	trans := net.NewNetworkTransport(
		layers,
		noiseCfg,
		p.Config.MaxPool,
		p.Config.ConnectTimeout,
		p.logger,
	)

	p.Transport = trans

	go trans.Listen()

	return nil
}

func (p *Plexus) initNode() error {
	engine := kad.NewEngine(
		p.identity.ID(),
		p.Transport,
		kad.DefaultConfig(),
		nil,
		p.logger,
	)

	monitor := ping.NewMonitor(
		p.identity.ID(),
		p.Transport,
		p.Config.PingInterval,
		nil,
		p.logger,
	)

	exchanger := identify.NewExchanger(
		p.identity.ID(),
		p.identity.PublicKeyBytes(),
		fmt.Sprintf("plexus/%s", version.Version),
		[]string{
			ping.ProtocolID,
			identify.ProtocolVersion,
			kad.ProtocolID,
			autonat.ProtocolID,
		},
		p.Transport,
		p.logger,
	)

	prober := autonat.NewProber(
		p.identity.ID(),
		p.Transport,
		engine,
		p.Config.ProbeInterval,
		nil,
		p.logger,
	)

	p.logger.WithFields(logrus.Fields{
		"id":        p.identity.ID(),
		"bootstrap": p.Bootstrap.Len(),
	}).Debug("PEERS")

	p.Node = node.NewNode(
		node.NewConfig(
			p.Config.HeartbeatTimeout,
			p.Config.PingInterval,
			p.Config.ProbeInterval,
			p.logger.Logger,
		),
		p.identity,
		p.Bootstrap.Peers,
		p.Transport,
		engine,
		monitor,
		exchanger,
		prober,
	)

	if err := p.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	return nil
}

func (p *Plexus) initService() error {
	if !p.Config.NoService && p.Config.ServiceAddr != "" {
		p.Service = service.NewService(p.Config.ServiceAddr, p.Node, p.logger)
	}
	return nil
}

// Init builds the engine's components in dependency order. The transport is
// listening when Init returns.
func (p *Plexus) Init() error {
	if err := p.initKey(); err != nil {
		return err
	}

	if err := p.initBootstrap(); err != nil {
		return err
	}

	if err := p.initTransport(); err != nil {
		return err
	}

	if err := p.initNode(); err != nil {
		return err
	}

	if err := p.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the service and the node's main loop. It blocks until the node
// shuts down.
func (p *Plexus) Run() {
	if p.Service != nil {
		go p.Service.Serve()
	}

	p.Node.Run()
}

// Keygen generates a new key and writes it under datadir, refusing to touch
// an existing keyfile.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	keyPath := filepath.Join(datadir, config.DefaultKeyfile)

	if _, err := os.Stat(keyPath); err == nil {
		return nil, fmt.Errorf("another key already lives at %s", keyPath)
	}

	privKey, err := keys.GenerateECDSAKey()

	if err != nil {
		return nil, err
	}

	if err := keys.NewSimpleKeyfile(keyPath).WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
