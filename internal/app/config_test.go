package app_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"veilchat/internal/app"
	"veilchat/internal/services/lifecycle"
	"veilchat/internal/transport"
)

func TestLoadConfig_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := app.LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
	p, err := cfg.Client.Policy()
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if p != lifecycle.DefaultPolicy() {
		t.Fatalf("policy = %+v", p)
	}
}

func TestLoad_Overrides(t *testing.T) {
	const doc = `
[server]
listen = "0.0.0.0:7000"
max_sessions = 10
idle_timeout = "5m"
presence_interval = "15s"
metrics_addr = "127.0.0.1:9100"

[client]
server = "chat.example:7000"
tor = true

[client.expiry]
mode = "inactivity"

[client.log]
path = "/tmp/chat.log"
kdf = "scrypt"
enabled = true

[logging]
level = "debug"
`
	path := filepath.Join(t.TempDir(), "veilchat.toml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := app.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Listen != "0.0.0.0:7000" || cfg.Server.MaxSessions != 10 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.IdleTimeout.D() != 5*time.Minute {
		t.Fatalf("idle_timeout = %v", cfg.Server.IdleTimeout.D())
	}
	if got := cfg.Server.RelayOptions().PresenceInterval; got != 15*time.Second {
		t.Fatalf("presence interval = %v", got)
	}
	if cfg.Server.QueueDepth == 0 {
		t.Fatal("unset keys should keep their defaults")
	}

	p, err := cfg.Client.Policy()
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if p.Mode != lifecycle.Inactivity || p.Delay != lifecycle.DefaultInactivityDelay {
		t.Fatalf("policy = %+v", p)
	}
	if got := cfg.Client.Transport().Proxy; got != transport.DefaultTorAddr {
		t.Fatalf("proxy = %q, want Tor default", got)
	}
	if !cfg.Client.Log.Enabled || cfg.Client.Log.KDF != "scrypt" {
		t.Fatalf("log = %+v", cfg.Client.Log)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "[server]\nlisten = \"127.0.0.1:1\"\nbogus = 1\n",
		"bad duration":   "[server]\nidle_timeout = \"soon\"\n",
		"negative idle":  "[server]\nidle_timeout = \"-1s\"\n",
		"zero sessions":  "[server]\nmax_sessions = 0\n",
		"tiny frame":     "[server]\nmax_frame = 16\n",
		"bad listen":     "[server]\nlisten = \"nowhere\"\n",
		"unknown mode":   "[client.expiry]\nmode = \"never\"\n",
		"negative delay": "[client.expiry]\ndelay = \"-10s\"\n",
		"unknown kdf":    "[client.log]\nkdf = \"md5\"\n",
		"unknown level":  "[logging]\nlevel = \"chatty\"\n",
		"not toml":       "this is not = = toml",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := app.Load([]byte(doc)); err == nil {
				t.Fatalf("expected error for %q", strings.TrimSpace(doc))
			}
		})
	}
}
