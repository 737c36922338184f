// Package config loads daemon and client configuration via viper, in the
// style of host-agent/internal/config/config.go: a YAML file with
// environment-variable overrides and an env prefix.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig configures a peer-linker or channel-hub daemon.
type ServerConfig struct {
	// ListenAddr is the address the HTTP/WebSocket server binds to.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// Protocol is the WebSocket subprotocol this daemon requires on
	// upgrade, e.g. "peer-linker" or "channel-hub" (spec.md §6).
	Protocol string `mapstructure:"protocol" yaml:"protocol"`

	// LogLevel controls slog verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Verbose reproduces original_source's ServerArgs --verbose flag: when
	// set, link/auth/passthrough transitions are logged at debug level.
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`

	// RequestTimeoutSeconds is loaded (default 10) but neither server reads
	// it: pending authentications and pad requests have no server-side
	// expiry. A pending pad request is dropped only when its requester or
	// its channel owner disconnects.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// ClientConfig configures a PeerLinkerSession/IceSession-driving client such
// as cmd/padclient.
type ClientConfig struct {
	// PeerLinkerURL is the ws(s):// URL of the peer-linker server.
	PeerLinkerURL string `mapstructure:"peer_linker_url" yaml:"peer_linker_url"`

	// PadName is the name this client registers.
	PadName string `mapstructure:"pad_name" yaml:"pad_name"`

	// TargetPadName, if set, is linked to immediately after registering.
	TargetPadName string `mapstructure:"target_pad_name" yaml:"target_pad_name"`

	// Secret is the application-defined shared secret offered when
	// initiating a link and checked when authenticating an inbound one.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// StunServers lists STUN servers ("host:port") used for ICE candidate
	// gathering.
	StunServers []string `mapstructure:"stun_servers" yaml:"stun_servers"`

	// TurnServer/TurnUsername/TurnCredential are read from configuration
	// only. They are not passed to the ICE agent, which has no TURN input
	// and gathers host and STUN server-reflexive candidates only (see
	// SPEC_FULL.md §6.1).
	TurnServer     string `mapstructure:"turn_server" yaml:"turn_server"`
	TurnUsername   string `mapstructure:"turn_username" yaml:"turn_username"`
	TurnCredential string `mapstructure:"turn_credential" yaml:"turn_credential"`

	// LogLevel controls slog verbosity.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// RequestTimeoutSeconds sets cmd/padclient's deadline: three times this
	// value bounds its whole run, including every EventBus await in Start,
	// and an await cut off by it fails. There is no separate per-await
	// limit.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

const envPrefix = "PADFABRIC"

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadServerConfig reads a peer-linker/channel-hub daemon configuration from
// configPath (if non-empty) layered under defaultProtocol/defaultListenAddr,
// with PADFABRIC_* environment variables overriding file values.
func LoadServerConfig(configPath, defaultProtocol, defaultListenAddr string) (*ServerConfig, error) {
	v := newViper(configPath)
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("protocol", defaultProtocol)
	v.SetDefault("log_level", "info")
	v.SetDefault("request_timeout_seconds", 10)

	if err := readIfPresent(v, configPath); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling server config: %w", err)
	}
	if cfg.Protocol == "" {
		return nil, fmt.Errorf("protocol must not be empty")
	}
	return &cfg, nil
}

// LoadClientConfig reads a client configuration, applying the same
// file/env-override precedence as LoadServerConfig.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	v := newViper(configPath)
	v.SetDefault("log_level", "info")
	v.SetDefault("request_timeout_seconds", 10)
	v.SetDefault("stun_servers", []string{"stun.l.google.com:19302"})

	if err := readIfPresent(v, configPath); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling client config: %w", err)
	}
	if cfg.PadName == "" {
		return nil, fmt.Errorf("pad_name is required")
	}
	if cfg.PeerLinkerURL == "" {
		return nil, fmt.Errorf("peer_linker_url is required")
	}
	return &cfg, nil
}

func readIfPresent(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", configPath, err)
	}
	return nil
}
