// Package config holds process-level configuration: node id, listen
// address, storage path, quorum size, auto-init, peer list (static or
// ZooKeeper) and logging; it has no timeout settings. Loading follows the teacher pack's
// cmd/init.go idiom (read a YAML file via github.com/goccy/go-yaml,
// fall back to Default() if it does not exist yet), then rejects a
// malformed config immediately via github.com/go-playground/validator
// rather than letting it silently reach the wiring in cmd/replogd.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/replogio/replog/network"
)

var validate = validator.New()

// PeerConfig names one cluster member reachable over HTTP.
type PeerConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Addr string `yaml:"addr" validate:"required"`
}

// ZooKeeperConfig configures the ZooKeeper-backed membership source, used
// instead of Peers when set.
type ZooKeeperConfig struct {
	Servers  []string `yaml:"servers" validate:"required,min=1"`
	RootPath string   `yaml:"root_path" validate:"required"`
}

// Config is the root configuration for a replog process.
type Config struct {
	NodeID     string           `yaml:"node_id" validate:"required"`
	ListenAddr string           `yaml:"listen_addr" validate:"required"`
	DataDir    string           `yaml:"data_dir" validate:"required"`
	Quorum     int              `yaml:"quorum" validate:"required,min=1"`
	AutoInit   bool             `yaml:"auto_init"`
	Peers      []PeerConfig     `yaml:"peers" validate:"dive"`
	ZooKeeper  *ZooKeeperConfig `yaml:"zookeeper"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls the zap logger every binary builds at startup.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a single-node development configuration.
func Default() Config {
	return Config{
		NodeID:     "a",
		ListenAddr: ":8080",
		DataDir:    "./data",
		Quorum:     1,
		AutoInit:   true,
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load reads path as YAML, or returns Default() if it does not exist.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// StaticPeers returns the configured peer set as network.PeerID keys,
// for building a Source without ZooKeeper.
func (c Config) StaticPeers() map[network.PeerID]string {
	out := make(map[network.PeerID]string, len(c.Peers))
	for _, p := range c.Peers {
		out[network.PeerID(p.ID)] = p.Addr
	}
	return out
}
