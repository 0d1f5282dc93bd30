package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/metrics"
	"veilchat/internal/protocol/channel"
	"veilchat/internal/protocol/wire"
)

// outbound is one body waiting to be sealed for a session.
type outbound struct {
	kind  wire.Kind
	id    domain.Identity
	plain []byte
}

// Session is the relay's record of one admitted connection.
//
// The connection's reader goroutine calls ReadFrame and Open; the writer
// goroutine started by the registry owns every write and the send half of
// the cipher. Nothing else touches the key.
type Session struct {
	id     domain.Identity
	conn   net.Conn
	rw     *wire.ReadWriter
	key    *crypto.SessionKey
	cipher *channel.Cipher
	joined time.Time
	active atomic.Int64

	out  chan outbound
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
	reason    domain.Reason

	writeTimeout time.Duration
	onWriteErr   func(*Session, error)
	metrics      *metrics.Metrics
	log          *logrus.Entry
}

const finalWriteTimeout = 2 * time.Second

func (s *Session) Identity() domain.Identity { return s.id }
func (s *Session) JoinedAt() time.Time       { return s.joined }
func (s *Session) RemoteAddr() net.Addr      { return s.conn.RemoteAddr() }

// LastActive is when the session last sent a frame.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.active.Load()) }

// Touch records activity at t.
func (s *Session) Touch(t time.Time) { s.active.Store(t.UnixNano()) }

// Done is closed once the writer has exited and the key is wiped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason is why the session was closed; empty while it is live.
func (s *Session) Reason() domain.Reason {
	select {
	case <-s.quit:
		return s.reason
	default:
		return ""
	}
}

// ReadFrame reads the next frame from the peer.
func (s *Session) ReadFrame() (wire.Frame, error) { return s.rw.ReadFrame() }

// Open authenticates f and decodes its body.
func (s *Session) Open(f wire.Frame, body any) error {
	_, err := s.cipher.OpenFrame(f, body)
	return err
}

// SetReadDeadline bounds the next ReadFrame.
func (s *Session) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

// enqueue hands ob to the writer without blocking. False means the queue is full.
func (s *Session) enqueue(ob outbound) bool {
	select {
	case s.out <- ob:
		return true
	default:
		return false
	}
}

// close tells the writer to finish. Only the first reason sticks.
func (s *Session) close(reason domain.Reason) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.quit)
	})
}

func (s *Session) writeLoop() {
	defer close(s.done)
	for {
		select {
		case ob := <-s.out:
			if err := s.deliver(ob, s.writeTimeout); err != nil {
				s.onWriteErr(s, err)
			}
		case <-s.quit:
			s.finish()
			return
		}
	}
}

func (s *Session) deliver(ob outbound, timeout time.Duration) error {
	f, err := s.cipher.SealBytes(ob.kind, ob.id, ob.plain)
	if err != nil {
		return err
	}
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := s.rw.WriteFrame(f); err != nil {
		return err
	}
	s.metrics.FrameDelivered()
	return nil
}

// finish flushes what is queued, tells the peer why it is being dropped,
// then closes the transport and wipes the key.
func (s *Session) finish() {
	defer func() {
		_ = s.conn.Close()
		s.cipher.Destroy()
		s.key.Destroy()
	}()

	if !s.reason.Notify() {
		return
	}
	if s.reason != domain.ReasonSlowConsumer {
	drain:
		for {
			select {
			case ob := <-s.out:
				if s.deliver(ob, finalWriteTimeout) != nil {
					return
				}
			default:
				break drain
			}
		}
	}
	plain, err := wire.Marshal(wire.PresenceBodyFrom(domain.Presence{
		Event:  domain.PresenceDisconnect,
		Reason: s.reason,
	}))
	if err != nil {
		return
	}
	if err := s.deliver(outbound{kind: wire.KindPresence, plain: plain}, finalWriteTimeout); err != nil {
		s.log.WithError(err).Debug("disconnect notice not delivered")
	}
}
