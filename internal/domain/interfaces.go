package domain

import (
	"context"
	"iter"
	"net"
	"time"
)

// IdentityAllocator hands out display names that are free right now.
type IdentityAllocator interface {
	Allocate(inUse func(Identity) bool) (Identity, error)
}

// Dialer opens the byte stream a client talks over (direct TCP or SOCKS).
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// MessageLog is a client's local, encrypted message history.
type MessageLog interface {
	Append(m Message) error
	ReadAll() iter.Seq2[Message, error]
	Close() error
}

// Clock supplies the current time; swapped out in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
