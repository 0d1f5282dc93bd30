package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"

	"veilchat/internal/util/memzero"
)

// SessionKeySize is the length of a per-connection symmetric key.
const SessionKeySize = 32

var errSecretMarshal = errors.New("session key cannot be serialised")

// SessionKey is the symmetric secret established by one handshake.
// It belongs to exactly one connection; Destroy wipes it.
// Formatting verbs print a redacted placeholder, never the bytes.
type SessionKey struct {
	mu        sync.Mutex
	b         [SessionKeySize]byte
	destroyed bool
}

// NewSessionKey draws a fresh key from random (crypto/rand when nil).
func NewSessionKey(random io.Reader) (*SessionKey, error) {
	if random == nil {
		random = rand.Reader
	}
	k := &SessionKey{}
	if _, err := io.ReadFull(random, k.b[:]); err != nil {
		return nil, err
	}
	return k, nil
}

// SessionKeyFromBytes copies b into a new key and wipes b.
func SessionKeyFromBytes(b []byte) (*SessionKey, error) {
	if len(b) != SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", SessionKeySize, len(b))
	}
	k := &SessionKey{}
	copy(k.b[:], b)
	memzero.Zero(b)
	return k, nil
}

// Use calls fn with the raw key bytes. fn must not retain the slice.
func (k *SessionKey) Use(fn func(raw []byte) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return errors.New("session key destroyed")
	}
	return fn(k.b[:])
}

// Equal compares two keys in constant time.
func (k *SessionKey) Equal(o *SessionKey) bool {
	if k == nil || o == nil {
		return false
	}
	if k == o {
		return !k.Destroyed()
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if k.destroyed || o.destroyed {
		return false
	}
	return subtle.ConstantTimeCompare(k.b[:], o.b[:]) == 1
}

// Destroy zeroes the key. Safe to call more than once.
func (k *SessionKey) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	memzero.Zero(k.b[:])
	k.destroyed = true
}

// Destroyed reports whether Destroy has run.
func (k *SessionKey) Destroyed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.destroyed
}

func (k *SessionKey) String() string   { return "SessionKey(redacted)" }
func (k *SessionKey) GoString() string { return k.String() }

// Format keeps %x, %v and friends from leaking the key.
func (k *SessionKey) Format(f fmt.State, _ rune) { _, _ = io.WriteString(f, k.String()) }

func (k *SessionKey) MarshalText() ([]byte, error)   { return nil, errSecretMarshal }
func (k *SessionKey) MarshalBinary() ([]byte, error) { return nil, errSecretMarshal }
