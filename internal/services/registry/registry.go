package registry

import (
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/logging"
	"veilchat/internal/metrics"
	"veilchat/internal/protocol/channel"
	"veilchat/internal/protocol/handshake"
	"veilchat/internal/protocol/wire"
)

// ErrNotAdmitted is returned for operations on a session that has already
// been removed.
var ErrNotAdmitted = errors.New("session not admitted")

// Options tunes a Registry. Zero values take the defaults below.
type Options struct {
	MaxSessions      int
	QueueDepth       int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrame         uint32
}

const (
	DefaultMaxSessions      = 256
	DefaultQueueDepth       = 64
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

func (o *Options) setDefaults() {
	if o.MaxSessions <= 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.MaxFrame == 0 {
		o.MaxFrame = wire.DefaultMaxPayload
	}
}

// Deps are the collaborators a Registry needs.
type Deps struct {
	KeyPair   *crypto.KeyPair
	Allocator domain.IdentityAllocator
	Clock     domain.Clock
	Metrics   *metrics.Metrics
	Log       *logrus.Entry
	// Random feeds challenges; crypto/rand when nil.
	Random io.Reader
}

// Registry owns the set of live sessions. One mutex guards the set and every
// enqueue that fans out from it, so frames from one sender reach each
// recipient in the order the registry accepted them.
type Registry struct {
	kp      *crypto.KeyPair
	alloc   domain.IdentityAllocator
	clock   domain.Clock
	metrics *metrics.Metrics
	log     *logrus.Entry
	random  io.Reader
	opts    Options

	mu       sync.Mutex
	sessions []*Session // admission order
	byID     map[domain.Identity]*Session
	seq      uint64
	closed   bool
}

// New returns an empty registry.
func New(d Deps, opts Options) *Registry {
	opts.setDefaults()
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	return &Registry{
		kp:      d.KeyPair,
		alloc:   d.Allocator,
		clock:   d.Clock,
		metrics: d.Metrics,
		log:     d.Log,
		random:  d.Random,
		opts:    opts,
		byID:    make(map[domain.Identity]*Session),
	}
}

// Admit runs the handshake on conn and, if it succeeds and there is room,
// inserts a new session under a freshly allocated identity. The new session
// is greeted with PRESENCE(welcome); everyone else gets PRESENCE(join).
//
// Admit takes ownership of conn: on any failure it is closed. A connection
// turned away for capacity is told so (reason server_full) before closing.
func (r *Registry) Admit(ctx context.Context, conn net.Conn) (*Session, error) {
	log := r.log.WithField("remote", conn.RemoteAddr().String())

	_ = conn.SetDeadline(time.Now().Add(r.opts.HandshakeTimeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	rw := wire.NewReadWriter(conn, r.opts.MaxFrame)
	res, err := handshake.Server(rw, r.kp, r.random)
	stop()
	if err != nil {
		_ = conn.Close()
		r.metrics.HandshakeRejected(metrics.HandshakeFailed)
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	c, err := channel.New(res.Key, channel.RoleServer, res.Challenge[:])
	if err != nil {
		res.Key.Destroy()
		_ = conn.Close()
		r.metrics.HandshakeRejected(metrics.HandshakeFailed)
		return nil, err
	}

	now := r.clock.Now()
	s := &Session{
		conn:         conn,
		rw:           rw,
		key:          res.Key,
		cipher:       c,
		joined:       now,
		out:          make(chan outbound, r.opts.QueueDepth),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		writeTimeout: r.opts.WriteTimeout,
		metrics:      r.metrics,
		log:          log,
	}
	s.onWriteErr = func(s *Session, err error) {
		s.log.WithError(err).Debug("write failed")
		reason := domain.ReasonFor(err)
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			reason = domain.ReasonSlowConsumer
		}
		r.Remove(s, reason)
	}
	s.Touch(now)
	go s.writeLoop()

	var slow []*Session
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.close(domain.ReasonShutdown)
		r.metrics.HandshakeRejected(metrics.HandshakeFull)
		return nil, ErrNotAdmitted
	}
	if len(r.sessions) >= r.opts.MaxSessions {
		r.mu.Unlock()
		s.close(domain.ReasonServerFull)
		r.metrics.HandshakeRejected(metrics.HandshakeFull)
		log.Warn("turned away: registry full")
		return nil, domain.ErrRegistryFull
	}
	id, err := r.alloc.Allocate(func(id domain.Identity) bool {
		_, taken := r.byID[id]
		return taken
	})
	if err != nil {
		r.mu.Unlock()
		s.close(domain.ReasonServerFull)
		r.metrics.HandshakeRejected(metrics.HandshakeFull)
		log.WithError(err).Warn("turned away: no identity")
		return nil, err
	}
	s.id = id
	s.log = log.WithField("identity", string(id))
	r.sessions = append(r.sessions, s)
	r.byID[id] = s

	welcome, _ := wire.Marshal(wire.PresenceBodyFrom(domain.Presence{
		Event:    domain.PresenceWelcome,
		Identity: id,
		Online:   r.onlineLocked(),
	}))
	s.enqueue(outbound{kind: wire.KindPresence, plain: welcome})
	join, _ := wire.Marshal(wire.PresenceBodyFrom(domain.Presence{Event: domain.PresenceJoin, Identity: id}))
	slow = r.fanOutLocked(s, outbound{kind: wire.KindPresence, plain: join})
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SessionAdmitted()
	s.log.WithField("online", n).Info("session admitted")
	r.dropSlow(slow)
	return s, nil
}

// Remove drops s from the live set, tells the others it left and frees its
// identity. It reports whether this call did the removal; later calls for
// the same session are no-ops.
func (r *Registry) Remove(s *Session, reason domain.Reason) bool {
	r.mu.Lock()
	if cur, ok := r.byID[s.id]; !ok || cur != s {
		r.mu.Unlock()
		s.close(reason)
		return false
	}
	r.removeLocked(s)
	var slow []*Session
	if !r.closed {
		leave, _ := wire.Marshal(wire.PresenceBodyFrom(domain.Presence{Event: domain.PresenceLeave, Identity: s.id}))
		slow = r.fanOutLocked(s, outbound{kind: wire.KindPresence, plain: leave})
	}
	r.mu.Unlock()

	s.close(reason)
	r.metrics.SessionRemoved(reason)
	s.log.WithField("reason", string(reason)).Info("session removed")
	r.dropSlow(slow)
	return true
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.byID, s.id)
	if i := slices.Index(r.sessions, s); i >= 0 {
		r.sessions = slices.Delete(r.sessions, i, i+1)
	}
}

// Broadcast relays msg from sender to every other live session. The relay
// stamps the message with a fresh ID when it has none, the server's clock
// and the next relay sequence number; each recipient's writer seals it under
// that recipient's own key. It returns the stamped message and how many
// sessions it was queued for.
func (r *Registry) Broadcast(sender *Session, msg domain.Message) (domain.Message, int, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	if cur, ok := r.byID[sender.id]; !ok || cur != sender {
		r.mu.Unlock()
		return domain.Message{}, 0, ErrNotAdmitted
	}
	r.seq++
	msg.Seq = r.seq
	msg.Sender = sender.id
	msg.CreatedAt = r.clock.Now()
	plain, err := wire.Marshal(wire.ChatBodyFrom(msg))
	if err != nil {
		r.mu.Unlock()
		return domain.Message{}, 0, err
	}
	slow := r.fanOutLocked(sender, outbound{kind: wire.KindChatMessage, id: sender.id, plain: plain})
	n := len(r.sessions) - 1 - len(slow)
	r.mu.Unlock()

	r.metrics.MessageRelayed()
	r.dropSlow(slow)
	return msg, n, nil
}

// Reply queues a presence frame for s alone.
func (r *Registry) Reply(s *Session, p domain.Presence) error {
	plain, err := wire.Marshal(wire.PresenceBodyFrom(p))
	if err != nil {
		return err
	}
	r.mu.Lock()
	if cur, ok := r.byID[s.id]; !ok || cur != s {
		r.mu.Unlock()
		return ErrNotAdmitted
	}
	queued := s.enqueue(outbound{kind: wire.KindPresence, plain: plain})
	r.mu.Unlock()

	if !queued {
		r.metrics.FrameDropped()
		r.Remove(s, domain.ReasonSlowConsumer)
		return ErrNotAdmitted
	}
	return nil
}

// Welcome re-sends s its identity and the online list.
func (r *Registry) Welcome(s *Session) error {
	return r.Reply(s, domain.Presence{Event: domain.PresenceWelcome, Identity: s.id, Online: r.ListOnline()})
}

// BroadcastPresenceList sends every session the current online list.
func (r *Registry) BroadcastPresenceList() int {
	r.mu.Lock()
	plain, _ := wire.Marshal(wire.PresenceBodyFrom(domain.Presence{
		Event:  domain.PresenceList,
		Online: r.onlineLocked(),
	}))
	slow := r.fanOutLocked(nil, outbound{kind: wire.KindPresence, plain: plain})
	n := len(r.sessions) - len(slow)
	r.mu.Unlock()

	r.dropSlow(slow)
	return n
}

// fanOutLocked queues ob for every session except skip and returns the
// sessions whose queues were full.
func (r *Registry) fanOutLocked(skip *Session, ob outbound) []*Session {
	var slow []*Session
	for _, s := range r.sessions {
		if s == skip {
			continue
		}
		if !s.enqueue(ob) {
			slow = append(slow, s)
		}
	}
	return slow
}

func (r *Registry) dropSlow(slow []*Session) {
	for _, s := range slow {
		r.metrics.FrameDropped()
		s.log.Warn("outbound queue full")
		r.Remove(s, domain.ReasonSlowConsumer)
	}
}

// ListOnline returns the admitted identities in admission order.
func (r *Registry) ListOnline() []domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

func (r *Registry) onlineLocked() []domain.Identity {
	out := make([]domain.Identity, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = s.id
	}
	return out
}

// Lookup finds the live session holding id.
func (r *Registry) Lookup(id domain.Identity) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepIdle removes sessions that have sent nothing for timeout.
func (r *Registry) SweepIdle(now time.Time, timeout time.Duration) int {
	r.mu.Lock()
	var idle []*Session
	for _, s := range r.sessions {
		if now.Sub(s.LastActive()) >= timeout {
			idle = append(idle, s)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, s := range idle {
		if r.Remove(s, domain.ReasonIdle) {
			n++
		}
	}
	return n
}

// Close refuses further admissions and removes every session with reason.
func (r *Registry) Close(reason domain.Reason) {
	r.mu.Lock()
	r.closed = true
	all := slices.Clone(r.sessions)
	r.mu.Unlock()

	for _, s := range all {
		r.Remove(s, reason)
	}
}
