package app

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/logging"
	"veilchat/internal/metrics"
	"veilchat/internal/relay"
	"veilchat/internal/services/chat"
	"veilchat/internal/services/identity"
	"veilchat/internal/services/registry"
	"veilchat/internal/store"
	"veilchat/internal/transport"
)

// RelayWire is the relay's dependency graph.
type RelayWire struct {
	Config   *Config
	KeyPair  *crypto.KeyPair
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Registry *registry.Registry
	Server   *relay.Server
	Log      *logrus.Entry
}

// NewRelayWire loads the key pair and builds the server. A key that cannot
// be loaded is fatal and wraps domain.ErrKeyLoad.
func NewRelayWire(cfg *Config, logger *logrus.Logger) (*RelayWire, error) {
	kp, err := store.ReadKeyPair(cfg.Server.PrivateKey, cfg.Server.PublicKey)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	m, err := metrics.New(promReg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Deps{
		KeyPair:   kp,
		Allocator: identity.New(nil),
		Metrics:   m,
		Log:       logging.Component(logger, "registry"),
	}, cfg.Server.RegistryOptions())

	return &RelayWire{
		Config:   cfg,
		KeyPair:  kp,
		Metrics:  m,
		Gatherer: promReg,
		Registry: reg,
		Server:   relay.New(reg, nil, logging.Component(logger, "relay"), cfg.Server.RelayOptions()),
		Log:      logging.Component(logger, "app"),
	}, nil
}

// Run listens on the configured address, and on the metrics address when
// set, until ctx is cancelled.
func (w *RelayWire) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", w.Config.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.Config.Server.Listen, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var metricsErr error
	if addr := w.Config.Server.MetricsAddr; addr != "" {
		mln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen metrics %s: %w", addr, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			metricsErr = metrics.Serve(ctx, mln, w.Gatherer, w.Log.WithField("component", "metrics"))
		}()
	}

	fp, _ := crypto.PublicKeyFingerprint(w.KeyPair.Public)
	w.Log.WithField("fingerprint", fp).Info("server key loaded")

	err = w.Server.Serve(ctx, ln)
	cancel()
	wg.Wait()
	return errors.Join(err, metricsErr)
}

// ClientWire is what the chat client needs before it dials.
type ClientWire struct {
	Config    *Config
	Dialer    *transport.Dialer
	ServerKey *rsa.PublicKey
	Log       *logrus.Entry
	logger    *logrus.Logger
}

// NewClientWire loads the pinned server key and prepares the dialer. When
// Tor is configured the proxy must be reachable.
func NewClientWire(ctx context.Context, cfg *Config, logger *logrus.Logger) (*ClientWire, error) {
	pub, err := store.ReadPublicKey(cfg.Client.ServerKey)
	if err != nil {
		return nil, err
	}
	topts := cfg.Client.Transport()
	if topts.Proxy != "" {
		if err := transport.CheckProxy(ctx, topts.Proxy); err != nil {
			return nil, err
		}
	}
	d, err := transport.NewDialer(topts, logging.Component(logger, "transport"))
	if err != nil {
		return nil, err
	}
	return &ClientWire{
		Config:    cfg,
		Dialer:    d,
		ServerKey: pub,
		Log:       logging.Component(logger, "app"),
		logger:    logger,
	}, nil
}

// OpenLog opens the configured message log with passphrase. It returns nil
// when no log path is configured.
func (w *ClientWire) OpenLog(passphrase []byte) (*store.Log, error) {
	lc := w.Config.Client.Log
	if lc.Path == "" {
		return nil, nil
	}
	kdf, err := crypto.ParseKDF(lc.KDF)
	if err != nil {
		return nil, err
	}
	return store.OpenLog(lc.Path, lc.Owner, passphrase, store.LogOptions{KDF: kdf})
}

// Dial connects to the relay. msgLog may be nil.
func (w *ClientWire) Dial(ctx context.Context, msgLog domain.MessageLog) (*chat.Client, error) {
	policy, err := w.Config.Client.Policy()
	if err != nil {
		return nil, err
	}
	cfg := chat.Config{
		Addr:       w.Config.Client.Server,
		ServerKey:  w.ServerKey,
		Dialer:     w.Dialer,
		Policy:     policy,
		LogEnabled: w.Config.Client.Log.Enabled,
		Logger:     logging.Component(w.logger, "chat"),
	}
	if msgLog != nil {
		cfg.Log = msgLog
	}
	return chat.Dial(ctx, cfg)
}
