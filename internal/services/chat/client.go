package chat

import (
	"context"
	"crypto/rsa"
	"errors"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/logging"
	"veilchat/internal/protocol/channel"
	"veilchat/internal/protocol/handshake"
	"veilchat/internal/protocol/wire"
	"veilchat/internal/services/lifecycle"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultEventBuffer      = 64
	DefaultTimelineSize     = 1000

	sweepInterval = time.Second
	quitWait      = 2 * time.Second
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("chat client closed")
	// ErrEmptyMessage rejects a send with no text.
	ErrEmptyMessage = errors.New("empty message")
	// ErrLogUnavailable is returned when logging is toggled without a log.
	ErrLogUnavailable = errors.New("no message log configured")
)

// Config describes one connection to a relay.
type Config struct {
	Addr string
	// ServerKey is the pinned relay public key. Required.
	ServerKey *rsa.PublicKey
	// Dialer defaults to a plain net.Dialer.
	Dialer domain.Dialer
	// Policy decides when received messages go stale.
	Policy lifecycle.Policy
	// Log, when set, receives sent and received messages while logging is
	// on. The client closes it.
	Log        domain.MessageLog
	LogEnabled bool

	Clock            domain.Clock
	Logger           *logrus.Entry
	MaxFrame         uint32
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	EventBuffer      int
	TimelineSize     int
}

func (c *Config) setDefaults() {
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.Policy == (lifecycle.Policy{}) {
		c.Policy = lifecycle.DefaultPolicy()
	}
	if c.Clock == nil {
		c.Clock = domain.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.TimelineSize <= 0 {
		c.TimelineSize = DefaultTimelineSize
	}
}

// Client is one admitted chat session seen from the user's side. Sends are
// serialised by a mutex; a single goroutine receives.
type Client struct {
	conn     net.Conn
	rw       *wire.ReadWriter
	cipher   *channel.Cipher
	key      *crypto.SessionKey
	id       domain.Identity
	timeline *lifecycle.Timeline
	clock    domain.Clock
	log      *logrus.Entry
	wt       time.Duration

	sendMu sync.Mutex

	mu       sync.Mutex
	online   []domain.Identity
	msgLog   domain.MessageLog
	logOn    bool
	quitting bool

	events    chan Event
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	cancelRun context.CancelFunc
}

// Dial connects to the relay, runs the handshake against the pinned key and
// waits for the welcome that names us. On failure nothing is left open
// except cfg.Log, which stays the caller's.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.setDefaults()
	if cfg.ServerKey == nil {
		return nil, domain.Handshakef("no pinned server key")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.WithField("addr", cfg.Addr)

	conn, err := cfg.Dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	rw := wire.NewReadWriter(conn, cfg.MaxFrame)
	res, err := handshake.Client(rw, cfg.ServerKey, nil)
	if err != nil {
		_ = conn.Close()
		log.WithError(err).Warn("handshake failed")
		return nil, err
	}
	ch, err := channel.New(res.Key, channel.RoleClient, res.Challenge[:])
	if err != nil {
		res.Key.Destroy()
		_ = conn.Close()
		return nil, err
	}

	welcome, err := awaitWelcome(rw, ch)
	if err != nil {
		ch.Destroy()
		res.Key.Destroy()
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	c := &Client{
		conn:     conn,
		rw:       rw,
		cipher:   ch,
		key:      res.Key,
		id:       welcome.Identity,
		timeline: lifecycle.NewTimeline(cfg.Policy, cfg.Clock, cfg.TimelineSize),
		clock:    cfg.Clock,
		log:      log.WithField("identity", welcome.Identity.String()),
		wt:       cfg.WriteTimeout,
		online:   welcome.Online,
		msgLog:   cfg.Log,
		logOn:    cfg.Log != nil && cfg.LogEnabled,
		events:   make(chan Event, cfg.EventBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	go c.timeline.Run(runCtx, sweepInterval, func(n int) {
		c.log.WithField("expired", n).Debug("messages expired")
	})
	go c.receive()

	c.log.WithField("online", len(welcome.Online)).Info("joined")
	return c, nil
}

// awaitWelcome reads the relay's first sealed frame. A disconnect notice
// there (server_full) is returned as a *DisconnectedError.
func awaitWelcome(rw *wire.ReadWriter, ch *channel.Cipher) (domain.Presence, error) {
	f, err := rw.ReadFrame()
	if err != nil {
		return domain.Presence{}, err
	}
	if f.Kind != wire.KindPresence {
		return domain.Presence{}, domain.Protocolf("expected welcome, got %s", f.Kind)
	}
	var body wire.PresenceBody
	if _, err := ch.OpenFrame(f, &body); err != nil {
		return domain.Presence{}, err
	}
	p, err := body.Presence()
	if err != nil {
		return domain.Presence{}, err
	}
	switch p.Event {
	case domain.PresenceWelcome:
		return p, nil
	case domain.PresenceDisconnect:
		return domain.Presence{}, &DisconnectedError{Reason: p.Reason}
	default:
		return domain.Presence{}, domain.Protocolf("expected welcome, got %s", p.Event)
	}
}

// Identity is the name the relay gave us.
func (c *Client) Identity() domain.Identity { return c.id }

// Events delivers received messages and presence, then one ClosedEvent,
// then closes.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send seals text as one chat message. The returned message is what was
// sent; the relay restamps its time and sequence for recipients.
func (c *Client) Send(text string) (domain.Message, error) {
	if text == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	m := domain.Message{
		ID:        uuid.NewString(),
		Sender:    c.id,
		Body:      text,
		CreatedAt: c.clock.Now(),
	}
	if err := c.write(wire.KindChatMessage, wire.ChatBodyFrom(m)); err != nil {
		return domain.Message{}, err
	}
	c.timeline.Add(m)
	c.record(m)
	return m, nil
}

func (c *Client) write(kind wire.Kind, body any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	f, err := c.cipher.SealFrame(kind, "", body)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.wt))
	return c.rw.WriteFrame(f)
}

func (c *Client) record(m domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.logOn {
		return
	}
	if err := c.msgLog.Append(m); err != nil {
		c.log.WithError(err).Warn("message not logged")
	}
}

func (c *Client) receive() {
	err := c.readLoop()

	c.mu.Lock()
	quitting := c.quitting
	c.mu.Unlock()
	var de *DisconnectedError
	switch {
	case errors.As(err, &de) && de.Reason == domain.ReasonQuit && quitting:
		err = nil
	case c.stopped():
		err = nil
	}

	c.cancelRun()
	_ = c.conn.Close()
	c.sendMu.Lock()
	c.cipher.Destroy()
	c.key.Destroy()
	close(c.done)
	c.sendMu.Unlock()

	if err != nil {
		c.log.WithError(err).Warn("connection closed")
	} else {
		c.log.Info("left")
	}
	ev := ClosedEvent{Err: err}
	select {
	case c.events <- ev:
	default:
		select {
		case c.events <- ev:
		case <-c.stop:
		}
	}
	close(c.events)
}

func (c *Client) readLoop() error {
	for {
		f, err := c.rw.ReadFrame()
		if err != nil {
			return err
		}
		switch f.Kind {
		case wire.KindChatMessage:
			var body wire.ChatBody
			id, err := c.cipher.OpenFrame(f, &body)
			if err != nil {
				return err
			}
			m := body.Message(id)
			c.timeline.Add(m)
			c.record(m)
			if !c.emit(MessageEvent{Message: m}) {
				return nil
			}

		case wire.KindPresence:
			var body wire.PresenceBody
			if _, err := c.cipher.OpenFrame(f, &body); err != nil {
				return err
			}
			p, err := body.Presence()
			if err != nil {
				return err
			}
			if p.Event == domain.PresenceDisconnect {
				return &DisconnectedError{Reason: p.Reason}
			}
			c.applyPresence(p)
			if !c.emit(PresenceEvent{Presence: p}) {
				return nil
			}

		default:
			return domain.Protocolf("unexpected %s from relay", f.Kind)
		}
	}
}

// emit hands e to the consumer. False means Close was called meanwhile.
func (c *Client) emit(e Event) bool {
	select {
	case c.events <- e:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Client) applyPresence(p domain.Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p.Event {
	case domain.PresenceWelcome, domain.PresenceList:
		c.online = p.Online
	case domain.PresenceJoin:
		if !slices.Contains(c.online, p.Identity) {
			c.online = append(c.online, p.Identity)
		}
	case domain.PresenceLeave:
		c.online = slices.DeleteFunc(c.online, func(id domain.Identity) bool { return id == p.Identity })
	}
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Close drops the connection without saying goodbye and closes the log.
// Events is closed afterwards; the ClosedEvent is dropped if nobody has
// room for it.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	_ = c.conn.Close()
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msgLog == nil {
		return nil
	}
	err := c.msgLog.Close()
	c.msgLog, c.logOn = nil, false
	return err
}
