package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/plexus/src/common"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`
	PingInterval     time.Duration `mapstructure:"ping-interval"`
	ProbeInterval    time.Duration `mapstructure:"probe-interval"`
	Logger           *logrus.Logger
}

func NewConfig(heartbeat time.Duration,
	pingInterval time.Duration,
	probeInterval time.Duration,
	logger *logrus.Logger) *Config {

	return &Config{
		HeartbeatTimeout: heartbeat,
		PingInterval:     pingInterval,
		ProbeInterval:    probeInterval,
		Logger:           logger,
	}
}

func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout: 30 * time.Second,
		PingInterval:     15 * time.Second,
		ProbeInterval:    90 * time.Second,
		Logger:           logger,
	}
}

func TestConfig(t *testing.T) *Config {
	config := DefaultConfig()
	config.HeartbeatTimeout = 100 * time.Millisecond
	config.Logger = common.NewTestLogger(t, common.TestLogLevel)
	return config
}
