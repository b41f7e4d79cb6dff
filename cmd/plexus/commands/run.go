package commands

import (
	"github.com/mosaicnetworks/plexus/src/plexus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runPlexus,
	}

	AddRunFlags(cmd)

	return cmd
}

func runPlexus(cmd *cobra.Command, args []string) error {
	engine := plexus.NewPlexus(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Duplicate log output to this file in JSON")
	cmd.Flags().String("moniker", _config.Moniker, "Optional friendly name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.ListenAddr, "TCP listen multiaddr")
	cmd.Flags().String("ws-listen", _config.WSListenAddr, "WebSocket listen multiaddr")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise multiaddr instead of the listen address")
	cmd.Flags().DurationP("timeout", "t", _config.ConnectTimeout, "Connection timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Timers
	cmd.Flags().Duration("heartbeat", _config.HeartbeatTimeout, "Time between upkeep rounds")
	cmd.Flags().Duration("ping-interval", _config.PingInterval, "Time between liveness probes")
	cmd.Flags().Duration("probe-interval", _config.ProbeInterval, "Time between reachability probes")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// WebRTC
	cmd.Flags().Bool("webrtc", _config.WebRTC, "Accept connections through WebRTC")
	cmd.Flags().String("signal-addr", _config.SignalAddr, "IP:Port of the WebRTC signaling server")
	cmd.Flags().String("signal-realm", _config.SignalRealm, "Administrative routing domain within the signaling server")
	cmd.Flags().Bool("signal-skip-verify", _config.SignalSkipVerify, "(unsafe) Verify neither the signal server's certificate chain, nor its host name")
	cmd.Flags().String("ice-addr", _config.ICEAddress, "URI of an ICE server (STUN or TURN)")
	cmd.Flags().String("ice-username", _config.ICEUsername, "Username to authenticate with the ICE server")
	cmd.Flags().String("ice-password", _config.ICEPassword, "Password to authenticate with the ICE server")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"plexus.DataDir":          _config.DataDir,
		"plexus.ListenAddr":       _config.ListenAddr,
		"plexus.WSListenAddr":     _config.WSListenAddr,
		"plexus.AdvertiseAddr":    _config.AdvertiseAddr,
		"plexus.ServiceAddr":      _config.ServiceAddr,
		"plexus.NoService":        _config.NoService,
		"plexus.MaxPool":          _config.MaxPool,
		"plexus.LogLevel":         _config.LogLevel,
		"plexus.Moniker":          _config.Moniker,
		"plexus.HeartbeatTimeout": _config.HeartbeatTimeout,
		"plexus.PingInterval":     _config.PingInterval,
		"plexus.ProbeInterval":    _config.ProbeInterval,
		"plexus.ConnectTimeout":   _config.ConnectTimeout,
		"plexus.WebRTC":           _config.WebRTC,
	}

	if _config.WebRTC {
		logFields["plexus.SignalAddr"] = _config.SignalAddr
		logFields["plexus.SignalRealm"] = _config.SignalRealm
		logFields["plexus.ICEAddress"] = _config.ICEAddress
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

//Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/plexus.toml (.json, .yaml also work)
	viper.SetConfigName("plexus")        // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
