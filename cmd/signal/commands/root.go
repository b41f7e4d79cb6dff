package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/plexus/src/config"
	"github.com/mosaicnetworks/plexus/src/net/signal/wamp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	listen   = config.DefaultSignalAddr
	realm    = config.DefaultSignalRealm
	certFile = ""
	keyFile  = ""
	logLevel = "debug"
)

//RootCmd is the root command for the signaling server
var RootCmd = &cobra.Command{
	Use:   "signal",
	Short: "WebRTC signaling server using WebSockets",
	RunE:  runServer,
}

func init() {
	RootCmd.Flags().StringVarP(&listen, "listen", "l", listen, "Listen IP:Port")
	RootCmd.Flags().StringVar(&realm, "realm", realm, "Administrative routing domain")
	RootCmd.Flags().StringVar(&certFile, "cert", certFile, "TLS certificate file; empty serves plain ws")
	RootCmd.Flags().StringVar(&keyFile, "key", keyFile, "TLS key file")
	RootCmd.Flags().StringVar(&logLevel, "log", logLevel, "debug, info, warn, error, fatal, panic")
}

// runServer starts the WAMP server and waits for a SIGINT or SIGTERM
func runServer(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.Level = config.LogLevel(logLevel)
	logger.Formatter = new(prefixed.TextFormatter)

	server, err := wamp.NewServer(
		listen,
		realm,
		certFile,
		keyFile,
		logger.WithField("prefix", "signal"))
	if err != nil {
		return err
	}

	go server.Run()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	server.Shutdown()

	return nil
}
