package app

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"veilchat/internal/crypto"
	"veilchat/internal/protocol/wire"
	"veilchat/internal/relay"
	"veilchat/internal/services/lifecycle"
	"veilchat/internal/services/registry"
	"veilchat/internal/transport"
)

// minFrame leaves room for a handshake with a large RSA key.
const minFrame = 4096

// Duration is a time.Duration written as a string ("10s") in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config is the runtime configuration of both binaries.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig configures the relay.
type ServerConfig struct {
	Listen           string   `toml:"listen"`
	PrivateKey       string   `toml:"private_key"`
	PublicKey        string   `toml:"public_key"`
	MaxSessions      int      `toml:"max_sessions"`
	QueueDepth       int      `toml:"queue_depth"`
	MaxFrame         uint32   `toml:"max_frame"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	WriteTimeout     Duration `toml:"write_timeout"`
	// IdleTimeout of zero never disconnects quiet sessions.
	IdleTimeout      Duration `toml:"idle_timeout"`
	PresenceInterval Duration `toml:"presence_interval"`
	// MetricsAddr, when set, serves /metrics there.
	MetricsAddr string `toml:"metrics_addr"`
}

// ClientConfig configures the chat client.
type ClientConfig struct {
	Server    string `toml:"server"`
	ServerKey string `toml:"server_key"`
	// Tor routes through Proxy, or the local Tor daemon when Proxy is empty.
	Tor         bool         `toml:"tor"`
	Proxy       string       `toml:"proxy"`
	DialTimeout Duration     `toml:"dial_timeout"`
	Expiry      ExpiryConfig `toml:"expiry"`
	Log         LogConfig    `toml:"log"`
}

// ExpiryConfig selects the lifecycle policy for received messages.
type ExpiryConfig struct {
	Mode  string   `toml:"mode"`
	Delay Duration `toml:"delay"`
}

// LogConfig describes the encrypted message log. An empty Path disables it.
type LogConfig struct {
	Path    string `toml:"path"`
	Owner   string `toml:"owner"`
	KDF     string `toml:"kdf"`
	Enabled bool   `toml:"enabled"`
}

// LoggingConfig configures diagnostic logging.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:           "127.0.0.1:9999",
			PrivateKey:       "server_private.pem",
			PublicKey:        "server_public.pem",
			MaxSessions:      registry.DefaultMaxSessions,
			QueueDepth:       registry.DefaultQueueDepth,
			MaxFrame:         wire.DefaultMaxPayload,
			HandshakeTimeout: Duration(registry.DefaultHandshakeTimeout),
			WriteTimeout:     Duration(registry.DefaultWriteTimeout),
			PresenceInterval: Duration(relay.DefaultPresenceInterval),
		},
		Client: ClientConfig{
			Server:      "127.0.0.1:9999",
			ServerKey:   "server_public.pem",
			DialTimeout: Duration(transport.DefaultTimeout),
			Expiry:      ExpiryConfig{Mode: "fixed", Delay: Duration(lifecycle.DefaultFixedDelay)},
			Log:         LogConfig{Owner: "veilchat", KDF: "argon2id"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load parses b over the defaults and validates the result. Unknown keys
// are an error.
func Load(b []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys: %v", undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads path. An empty path, or a file that does not exist,
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Validate rejects values neither binary could run with.
func (c *Config) Validate() error {
	s := &c.Server
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("config: server.listen %q: %w", s.Listen, err)
	}
	if s.MaxSessions <= 0 {
		return fmt.Errorf("config: server.max_sessions must be positive")
	}
	if s.QueueDepth <= 0 {
		return fmt.Errorf("config: server.queue_depth must be positive")
	}
	if s.MaxFrame < minFrame {
		return fmt.Errorf("config: server.max_frame must be at least %d", minFrame)
	}
	if s.HandshakeTimeout <= 0 || s.WriteTimeout <= 0 {
		return fmt.Errorf("config: server timeouts must be positive")
	}
	if s.IdleTimeout < 0 {
		return fmt.Errorf("config: server.idle_timeout must not be negative")
	}
	if s.PresenceInterval <= 0 {
		return fmt.Errorf("config: server.presence_interval must be positive")
	}

	if _, err := c.Client.Policy(); err != nil {
		return fmt.Errorf("config: client.expiry: %w", err)
	}
	if _, err := crypto.ParseKDF(c.Client.Log.KDF); err != nil {
		return fmt.Errorf("config: client.log.kdf: %w", err)
	}
	if c.Client.DialTimeout <= 0 {
		return fmt.Errorf("config: client.dial_timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: logging.level %q unknown", c.Logging.Level)
	}
	return nil
}

// Policy builds the lifecycle policy. A zero delay takes the mode's default.
func (c ClientConfig) Policy() (lifecycle.Policy, error) {
	mode, err := lifecycle.ParseMode(c.Expiry.Mode)
	if err != nil {
		return lifecycle.Policy{}, err
	}
	delay := c.Expiry.Delay.D()
	if delay == 0 {
		delay = lifecycle.DefaultFixedDelay
		if mode == lifecycle.Inactivity {
			delay = lifecycle.DefaultInactivityDelay
		}
	}
	p := lifecycle.Policy{Mode: mode, Delay: delay}
	return p, p.Validate()
}

// Transport builds the dialer options.
func (c ClientConfig) Transport() transport.Options {
	opts := transport.Options{Proxy: c.Proxy, Timeout: c.DialTimeout.D()}
	if c.Tor && opts.Proxy == "" {
		opts.Proxy = transport.DefaultTorAddr
	}
	return opts
}

// RegistryOptions maps the server section onto the registry.
func (s ServerConfig) RegistryOptions() registry.Options {
	return registry.Options{
		MaxSessions:      s.MaxSessions,
		QueueDepth:       s.QueueDepth,
		HandshakeTimeout: s.HandshakeTimeout.D(),
		WriteTimeout:     s.WriteTimeout.D(),
		MaxFrame:         s.MaxFrame,
	}
}

// RelayOptions maps the server section onto the accept loop.
func (s ServerConfig) RelayOptions() relay.Options {
	return relay.Options{
		PresenceInterval: s.PresenceInterval.D(),
		IdleTimeout:      s.IdleTimeout.D(),
	}
}
