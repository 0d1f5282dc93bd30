package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"veilchat/internal/domain"
	"veilchat/internal/logging"
	"veilchat/internal/protocol/wire"
	"veilchat/internal/services/registry"
)

const (
	DefaultPresenceInterval = 30 * time.Second
	DefaultSweepInterval    = 5 * time.Second

	keepAlivePeriod = 30 * time.Second
	maxAcceptDelay  = time.Second
)

// Options tunes the server loops.
type Options struct {
	// PresenceInterval is how often every session is sent the online list.
	// Negative disables the broadcast.
	PresenceInterval time.Duration
	// IdleTimeout disconnects sessions that have sent nothing for this
	// long. Zero disables the check.
	IdleTimeout time.Duration
	// SweepInterval is how often idle sessions are looked for.
	SweepInterval time.Duration
}

// Server accepts chat connections and feeds them to a registry.
type Server struct {
	reg   *registry.Registry
	clock domain.Clock
	log   *logrus.Entry
	opts  Options

	wg sync.WaitGroup
}

// New returns a server over reg. A nil clock means wall time; a nil log
// discards.
func New(reg *registry.Registry, clock domain.Clock, log *logrus.Entry, opts Options) *Server {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = logging.Discard()
	}
	if opts.PresenceInterval == 0 {
		opts.PresenceInterval = DefaultPresenceInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Server{reg: reg, clock: clock, log: log, opts: opts}
}

// Serve accepts on ln until ctx is cancelled or the listener fails, then
// disconnects every session with reason shutdown and waits for the
// connection goroutines. Cancellation is a clean exit.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.maintain(ctx)
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("listening")
	err := s.acceptLoop(ctx, ln)

	cancel()
	s.reg.Close(domain.ReasonShutdown)
	s.wg.Wait()
	s.log.Info("stopped")

	if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return net.ErrClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = backoff(delay)
				s.log.WithError(err).Warnf("accept failed; retrying in %v", delay)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return net.ErrClosed
				}
			}
			s.log.WithError(err).Error("accept failed")
			return err
		}
		delay = 0

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(keepAlivePeriod)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(2*d, maxAcceptDelay)
}

// handle runs one connection from handshake to removal.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("accepted")

	sess, err := s.reg.Admit(ctx, conn)
	if err != nil {
		log.WithError(err).WithField("reason", string(domain.ReasonFor(err))).Info("not admitted")
		return
	}

	err = s.readLoop(sess, log.WithField("identity", sess.Identity().String()))
	s.reg.Remove(sess, domain.ReasonFor(err))
	<-sess.Done()
}

// readLoop dispatches frames from one admitted session. It returns nil when
// the peer asks to quit.
func (s *Server) readLoop(sess *registry.Session, log *logrus.Entry) error {
	for {
		f, err := sess.ReadFrame()
		if err != nil {
			return err
		}

		switch f.Kind {
		case wire.KindChatMessage:
			var body wire.ChatBody
			if err := sess.Open(f, &body); err != nil {
				return err
			}
			sess.Touch(s.clock.Now())
			if body.Body == "" {
				continue
			}
			msg, n, err := s.reg.Broadcast(sess, body.Message(sess.Identity()))
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"seq":        msg.Seq,
				"recipients": n,
				"bytes":      len(msg.Body),
			}).Debug("relayed")

		case wire.KindCommand:
			var body wire.CommandBody
			if err := sess.Open(f, &body); err != nil {
				return err
			}
			sess.Touch(s.clock.Now())
			switch body.Op {
			case wire.OpUsers:
				err = s.reg.Reply(sess, domain.Presence{Event: domain.PresenceList, Online: s.reg.ListOnline()})
			case wire.OpWhoAmI:
				err = s.reg.Welcome(sess)
			case wire.OpQuit:
				log.Debug("quit requested")
				return nil
			default:
				return domain.Protocolf("unknown command %d", body.Op)
			}
			if err != nil {
				return err
			}

		case wire.KindHandshakePubKey, wire.KindHandshakeKey:
			return domain.ErrAlreadyAdmitted

		default:
			return domain.Protocolf("unexpected %s from client", f.Kind)
		}
	}
}

// maintain runs the periodic presence broadcast and idle sweep.
func (s *Server) maintain(ctx context.Context) {
	var presence, sweep <-chan time.Time
	if s.opts.PresenceInterval > 0 {
		t := time.NewTicker(s.opts.PresenceInterval)
		defer t.Stop()
		presence = t.C
	}
	if s.opts.IdleTimeout > 0 {
		t := time.NewTicker(s.opts.SweepInterval)
		defer t.Stop()
		sweep = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-presence:
			n := s.reg.BroadcastPresenceList()
			s.log.WithField("sessions", n).Debug("presence list sent")
		case <-sweep:
			if n := s.reg.SweepIdle(s.clock.Now(), s.opts.IdleTimeout); n > 0 {
				s.log.WithField("removed", n).Info("idle sessions disconnected")
			}
		}
	}
}
