// Package config loads camlink's configuration for its three binaries
// (sender, receiver, standby) from YAML files and command-line flags,
// merging them with a defaults < YAML < flags precedence rule.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/framebridge/camlink/pkg/logger"
)

// ErrInvalidAddr indicates a required network address was left empty.
var ErrInvalidAddr = errors.New("invalid address")

// Config holds settings shared by every camlink binary plus the knobs
// specific to each profile. A given binary only reads the fields relevant
// to its profile, but all three share one loader so the YAML/flag merge
// logic is not triplicated.
type Config struct {
	LogLevel  string
	LogFormat string // "console" or "json"

	// Sender profile
	SenderListenAddr  string
	ReceiverAddr      string
	RetransmitTimeout time.Duration
	MaxRetries        int

	// Receiver profile
	ReceiverListenAddr    string
	FrameTimeout          time.Duration
	ParameterInjectBudget int

	// Standby profile
	HeartbeatFile    string
	StandbyFramePath string
	LoopbackAddr     string
	NetworkTimeout   time.Duration
	FeedInterval     time.Duration
}

// yamlConfig mirrors Config with yaml tags; duration fields are strings so
// they can be written as "500ms" rather than raw nanosecond counts.
type yamlConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	SenderListenAddr  string `yaml:"sender_listen_addr"`
	ReceiverAddr      string `yaml:"receiver_addr"`
	RetransmitTimeout string `yaml:"retransmit_timeout"`
	MaxRetries        int    `yaml:"max_retries"`

	ReceiverListenAddr    string `yaml:"receiver_listen_addr"`
	FrameTimeout          string `yaml:"frame_timeout"`
	ParameterInjectBudget int    `yaml:"parameter_inject_budget"`

	HeartbeatFile    string `yaml:"heartbeat_file"`
	StandbyFramePath string `yaml:"standby_frame_path"`
	LoopbackAddr     string `yaml:"loopback_addr"`
	NetworkTimeout   string `yaml:"network_timeout"`
	FeedInterval     string `yaml:"feed_interval"`
}

var yamlKeys = []string{
	"log_level", "log_format",
	"sender_listen_addr", "receiver_addr", "retransmit_timeout", "max_retries",
	"receiver_listen_addr", "frame_timeout", "parameter_inject_budget",
	"heartbeat_file", "standby_frame_path", "loopback_addr", "network_timeout", "feed_interval",
}

// LoadFromYAML loads configuration from a YAML file, returning both the
// parsed values and a presence map recording which keys actually appeared
// in the file (as opposed to being left at Go's zero value).
func LoadFromYAML(filePath string) (*Config, map[string]bool, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read YAML file: %w", err)
	}

	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}

	present := make(map[string]bool)
	for _, key := range yamlKeys {
		if _, ok := rawMap[key]; ok {
			present[key] = true
		}
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}

	cfg := &Config{
		LogLevel:              y.LogLevel,
		LogFormat:             y.LogFormat,
		SenderListenAddr:      y.SenderListenAddr,
		ReceiverAddr:          y.ReceiverAddr,
		MaxRetries:            y.MaxRetries,
		ReceiverListenAddr:    y.ReceiverListenAddr,
		ParameterInjectBudget: y.ParameterInjectBudget,
		HeartbeatFile:         y.HeartbeatFile,
		StandbyFramePath:      y.StandbyFramePath,
		LoopbackAddr:          y.LoopbackAddr,
	}

	for key, raw := range map[string]string{
		"retransmit_timeout": y.RetransmitTimeout,
		"frame_timeout":      y.FrameTimeout,
		"network_timeout":    y.NetworkTimeout,
		"feed_interval":      y.FeedInterval,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid duration for %s in YAML: %w", key, err)
		}
		switch key {
		case "retransmit_timeout":
			cfg.RetransmitTimeout = d
		case "frame_timeout":
			cfg.FrameTimeout = d
		case "network_timeout":
			cfg.NetworkTimeout = d
		case "feed_interval":
			cfg.FeedInterval = d
		}
	}

	return cfg, present, nil
}

// SetDefaults fills in the protocol's reference defaults for any field
// still at its zero value.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.SenderListenAddr == "" {
		c.SenderListenAddr = ":0"
	}
	if c.RetransmitTimeout == 0 {
		c.RetransmitTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.ReceiverListenAddr == "" {
		c.ReceiverListenAddr = "0.0.0.0:8080"
	}
	if c.FrameTimeout == 0 {
		c.FrameTimeout = 5 * time.Second
	}
	if c.ParameterInjectBudget == 0 {
		c.ParameterInjectBudget = 3
	}
	if c.HeartbeatFile == "" {
		c.HeartbeatFile = "/tmp/camlink.heartbeat"
	}
	if c.LoopbackAddr == "" {
		c.LoopbackAddr = "127.0.0.1:8080"
	}
	if c.NetworkTimeout == 0 {
		c.NetworkTimeout = 2 * time.Second
	}
	if c.FeedInterval == 0 {
		c.FeedInterval = 500 * time.Millisecond
	}
}

// Merge overlays other's fields onto c wherever present[key] is true,
// implementing the defaults < YAML < flags precedence: the caller applies
// Merge first with the YAML-derived config and its presence map, then again
// with a flags-derived config and its own presence map.
func (c *Config) Merge(other *Config, present map[string]bool) {
	if present["log_level"] && other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if present["log_format"] && other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if present["sender_listen_addr"] && other.SenderListenAddr != "" {
		c.SenderListenAddr = other.SenderListenAddr
	}
	if present["receiver_addr"] && other.ReceiverAddr != "" {
		c.ReceiverAddr = other.ReceiverAddr
	}
	if present["retransmit_timeout"] && other.RetransmitTimeout != 0 {
		c.RetransmitTimeout = other.RetransmitTimeout
	}
	if present["max_retries"] && other.MaxRetries != 0 {
		c.MaxRetries = other.MaxRetries
	}
	if present["receiver_listen_addr"] && other.ReceiverListenAddr != "" {
		c.ReceiverListenAddr = other.ReceiverListenAddr
	}
	if present["frame_timeout"] && other.FrameTimeout != 0 {
		c.FrameTimeout = other.FrameTimeout
	}
	if present["parameter_inject_budget"] && other.ParameterInjectBudget != 0 {
		c.ParameterInjectBudget = other.ParameterInjectBudget
	}
	if present["heartbeat_file"] && other.HeartbeatFile != "" {
		c.HeartbeatFile = other.HeartbeatFile
	}
	if present["standby_frame_path"] && other.StandbyFramePath != "" {
		c.StandbyFramePath = other.StandbyFramePath
	}
	if present["loopback_addr"] && other.LoopbackAddr != "" {
		c.LoopbackAddr = other.LoopbackAddr
	}
	if present["network_timeout"] && other.NetworkTimeout != 0 {
		c.NetworkTimeout = other.NetworkTimeout
	}
	if present["feed_interval"] && other.FeedInterval != 0 {
		c.FeedInterval = other.FeedInterval
	}
}

// LoadYAMLIfPresent loads path into cfg via Merge when path is non-empty,
// returning cfg unmodified (and no error) when path is empty. This is the
// shared "optional --config flag" step each cmd/ binary performs before
// binding its own pflag.FlagSet on top.
func LoadYAMLIfPresent(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	yamlCfg, present, err := LoadFromYAML(path)
	if err != nil {
		return err
	}
	cfg.Merge(yamlCfg, present)
	return nil
}

// GetLogLevel returns the logger.Level for the configured log level,
// defaulting to info if unset or unparseable.
func (c *Config) GetLogLevel() logger.Level {
	if c.LogLevel == "" {
		return logger.LevelInfo
	}
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.LevelInfo
	}
	return level
}

// GetLogFormat returns the logger.Format for the configured log format.
func (c *Config) GetLogFormat() logger.Format {
	if c.LogFormat == "json" {
		return logger.FormatJSON
	}
	return logger.FormatConsole
}

// ValidateSender checks the fields required to run the sender profile.
func (c *Config) ValidateSender() error {
	if c.ReceiverAddr == "" {
		return fmt.Errorf("%w: receiver address is required", ErrInvalidAddr)
	}
	return nil
}

// ValidateReceiver checks the fields required to run the receiver profile.
func (c *Config) ValidateReceiver() error {
	if c.ReceiverListenAddr == "" {
		return fmt.Errorf("%w: receiver listen address is required", ErrInvalidAddr)
	}
	return nil
}

// ValidateStandby checks the fields required to run the standby profile.
func (c *Config) ValidateStandby() error {
	if c.StandbyFramePath == "" {
		return errors.New("standby frame path is required")
	}
	return nil
}
