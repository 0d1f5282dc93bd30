package lifecycle

import (
	"fmt"
	"time"
)

// Mode selects how messages go stale.
type Mode uint8

const (
	// FixedDelay: a message is stale once Delay has passed since it was created.
	FixedDelay Mode = iota + 1
	// Inactivity: every fresh message goes stale once Delay passes with no
	// new arrival.
	Inactivity
)

const (
	DefaultFixedDelay      = 10 * time.Second
	DefaultInactivityDelay = 5 * time.Minute
)

func (m Mode) String() string {
	switch m {
	case FixedDelay:
		return "fixed"
	case Inactivity:
		return "inactivity"
	default:
		return "unknown"
	}
}

// ParseMode accepts "fixed" or "inactivity"; empty means fixed.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "fixed":
		return FixedDelay, nil
	case "inactivity":
		return Inactivity, nil
	default:
		return 0, fmt.Errorf("unknown expiry mode %q", s)
	}
}

// Policy is a lifecycle configuration.
type Policy struct {
	Mode  Mode
	Delay time.Duration
}

// DefaultPolicy expires each message ten seconds after it was sent.
func DefaultPolicy() Policy { return Policy{Mode: FixedDelay, Delay: DefaultFixedDelay} }

// Validate rejects unknown modes and non-positive delays.
func (p Policy) Validate() error {
	if p.Mode != FixedDelay && p.Mode != Inactivity {
		return fmt.Errorf("unknown expiry mode %d", p.Mode)
	}
	if p.Delay <= 0 {
		return fmt.Errorf("expiry delay must be positive, got %s", p.Delay)
	}
	return nil
}
