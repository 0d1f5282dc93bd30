package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"veilchat/internal/domain"
	"veilchat/internal/logging"
)

const (
	// DefaultTorAddr is where a local Tor daemon listens for SOCKS5.
	DefaultTorAddr = "127.0.0.1:9050"
	// DefaultTimeout bounds a dial when Options.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	maxAuthLen = 255
)

// Options selects how the client reaches the relay.
type Options struct {
	// Proxy is a SOCKS5 address. Empty dials directly.
	Proxy string
	// User and Password authenticate to the proxy. Both or neither.
	User     string
	Password string
	Timeout  time.Duration
}

func (o Options) validate() error {
	if o.Timeout < 0 {
		return fmt.Errorf("transport: negative timeout %v", o.Timeout)
	}
	if len(o.User) > maxAuthLen || len(o.Password) > maxAuthLen {
		return errors.New("transport: proxy credentials too long")
	}
	if (o.User == "") != (o.Password == "") {
		return errors.New("transport: proxy user and password must be set together")
	}
	if o.Proxy != "" {
		if _, _, err := net.SplitHostPort(o.Proxy); err != nil {
			return fmt.Errorf("transport: proxy address %q: %w", o.Proxy, err)
		}
	}
	return nil
}

// Dialer opens TCP connections to the relay, optionally through SOCKS5.
type Dialer struct {
	via     string
	timeout time.Duration
	dial    proxy.ContextDialer
	log     *logrus.Entry
}

// NewDialer builds a Dialer from opts. A nil log discards.
func NewDialer(opts Options, log *logrus.Entry) (*Dialer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Discard()
	}

	direct := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	d := &Dialer{via: "direct", timeout: opts.Timeout, dial: direct, log: log}
	if opts.Proxy == "" {
		return d, nil
	}

	var auth *proxy.Auth
	if opts.User != "" {
		auth = &proxy.Auth{User: opts.User, Password: opts.Password}
	}
	socks, err := proxy.SOCKS5("tcp", opts.Proxy, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("transport: socks5 dialer: %w", err)
	}
	cd, ok := socks.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("transport: socks5 dialer does not support contexts")
	}
	d.via = "socks5://" + opts.Proxy
	d.dial = cd
	return d, nil
}

// Via describes the route, for logs.
func (d *Dialer) Via() string { return d.via }

// DialContext connects to addr, giving up after the configured timeout.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log := d.log.WithFields(logrus.Fields{"addr": addr, "via": d.via})
	conn, err := d.dial.DialContext(ctx, network, addr)
	if err != nil {
		log.WithError(err).Warn("dial failed")
		return nil, fmt.Errorf("dial %s via %s: %w", addr, d.via, err)
	}
	log.Debug("connected")
	return conn, nil
}

// Compile-time assertion that Dialer implements domain.Dialer.
var _ domain.Dialer = (*Dialer)(nil)

// CheckProxy reports whether a SOCKS5 endpoint accepts TCP connections at
// addr. It does not speak SOCKS; it only rules out a daemon that is not
// running.
func CheckProxy(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy %s unreachable: %w", addr, err)
	}
	return conn.Close()
}
