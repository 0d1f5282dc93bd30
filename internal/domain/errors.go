package domain

import (
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	// ErrProtocol covers malformed, oversized, unknown or out-of-sequence frames.
	ErrProtocol = errors.New("protocol error")
	// ErrHandshake covers key-exchange failures (unpadding, key mismatch).
	ErrHandshake = errors.New("handshake failed")
	// ErrAuthentication is returned when a sealed frame fails to open.
	// It never says which check failed.
	ErrAuthentication = errors.New("message authentication failed")
	// ErrKeyLoad is fatal at startup: keys absent, malformed or mismatched.
	ErrKeyLoad = errors.New("key load failed")
	// ErrLogCorruption marks a single unreadable log entry.
	ErrLogCorruption = errors.New("log entry corrupt")
	// ErrNonceExhausted is returned once a session key has sealed its last nonce.
	ErrNonceExhausted = errors.New("nonce space exhausted")

	// ErrRegistryFull is reported to a connection that arrives at capacity.
	ErrRegistryFull = errors.New("registry full")
	// ErrIdentityExhausted means no free identity was found within the retry bound.
	ErrIdentityExhausted = errors.New("no free identity")
	// ErrAlreadyAdmitted rejects a second handshake on an admitted connection.
	ErrAlreadyAdmitted = errors.New("connection already admitted")
)

// Protocolf wraps ErrProtocol with detail.
func Protocolf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// Handshakef wraps ErrHandshake with detail.
func Handshakef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrHandshake, fmt.Sprintf(format, args...))
}

// LogCorruptionError reports one unreadable region of an encrypted log.
type LogCorruptionError struct {
	Index  int   // ordinal of the entry among entries read so far
	Offset int64 // byte offset where the corrupt region starts
	Err    error
}

func (e *LogCorruptionError) Error() string {
	return fmt.Sprintf("log entry %d at offset %d corrupt: %v", e.Index, e.Offset, e.Err)
}

func (e *LogCorruptionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrLogCorruption) match.
func (e *LogCorruptionError) Is(target error) bool { return target == ErrLogCorruption }

// ReasonFor maps a connection-ending error to the reason code surfaced to peers.
func ReasonFor(err error) Reason {
	var ne net.Error
	switch {
	case err == nil:
		return ReasonQuit
	case errors.Is(err, ErrRegistryFull), errors.Is(err, ErrIdentityExhausted):
		return ReasonServerFull
	case errors.Is(err, ErrHandshake):
		return ReasonHandshake
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrNonceExhausted):
		return ReasonAuthentication
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrAlreadyAdmitted):
		return ReasonProtocol
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return ReasonEOF
	case errors.As(err, &ne) && ne.Timeout():
		return ReasonIdle
	default:
		return ReasonIO
	}
}
