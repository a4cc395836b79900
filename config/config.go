package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the peripheral's tunables. CLI flags override these.
type Config struct {
	ServerHost      string `yaml:"serverHost"`      // central's hostname
	ServerPort      int    `yaml:"serverPort"`      // central's UDP port
	RtoMs           int    `yaml:"rtoMs"`           // retransmission timeout
	RecvTimeoutMs   int    `yaml:"recvTimeoutMs"`   // handshake receive timeout
	LocalWindow     int    `yaml:"localWindow"`     // advertised receive window in bytes
	PayloadPoolSize int    `yaml:"payloadPoolSize"` // ring pool element count
}

func DefaultConfig() *Config {
	return &Config{
		ServerHost:      "slow.gmelodie.com",
		ServerPort:      7033,
		RtoMs:           800,
		RecvTimeoutMs:   1500,
		LocalWindow:     65535,
		PayloadPoolSize: 100,
	}
}

// LoadConfig reads path and overlays it on the defaults. A missing file is
// not an error; the defaults apply unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return cfg, nil
}
