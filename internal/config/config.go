// Package config loads the bridge configuration: defaults, overridden by a
// YAML file, overridden by flags at the entrypoint.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Connector ConnectorConfig `yaml:"connector"`
	Stream    StreamConfig    `yaml:"stream"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

// ServerConfig holds HTTP server settings for the downstream side.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ConnectorConfig holds the blockchain connector endpoints and retry policy.
type ConnectorConfig struct {
	// URL is the HTTP submission endpoint.
	URL string `yaml:"url"`

	// WSURL is the websocket event stream endpoint.
	WSURL string `yaml:"ws_url"`

	Timeout time.Duration `yaml:"timeout"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors the connector's backoff settings. Condition is a
// regular expression matched against stringified errors; only matches are
// retried.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Factor       float64       `yaml:"factor"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Condition    string        `yaml:"condition"`
}

// CompileCondition validates and compiles the retry condition.
func (r RetryConfig) CompileCondition() (*regexp.Regexp, error) {
	if r.Condition == "" {
		return nil, nil
	}
	re, err := regexp.Compile(r.Condition)
	if err != nil {
		return nil, fmt.Errorf("compile retry condition: %w", err)
	}
	return re, nil
}

// StreamConfig holds upstream event stream keepalive settings.
type StreamConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
}

// GatewayConfig holds downstream gateway settings.
type GatewayConfig struct {
	// SubscriptionPrefix scopes the packed subscription names this bridge
	// recognizes.
	SubscriptionPrefix string `yaml:"subscription_prefix"`

	// ContractAddress is the default token contract instance.
	ContractAddress string `yaml:"contract_address"`

	// ContractInfoURL, when set, is probed for the contract's method set to
	// gate ABI method variants.
	ContractInfoURL string `yaml:"contract_info_url"`
}

// Load reads configuration from an optional file over built-in defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr:   ":3000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Connector: ConnectorConfig{
			Timeout: 30 * time.Second,
			Retry: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				Factor:       2,
				MaxDelay:     10 * time.Second,
				MaxAttempts:  5,
				Condition:    `(?i)(ECONNRESET|ECONNREFUSED|connection re(set|fused)|timeout|timed out)`,
			},
		},
		Stream: StreamConfig{
			ReconnectDelay: 5 * time.Second,
			PingInterval:   30 * time.Second,
			PingTimeout:    60 * time.Second,
		},
		Gateway: GatewayConfig{
			SubscriptionPrefix: "tb",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if _, err := cfg.Connector.Retry.CompileCondition(); err != nil {
		return nil, err
	}
	return cfg, nil
}
