package chat

import (
	"errors"
	"fmt"

	"veilchat/internal/domain"
)

// ErrDisconnected matches every *DisconnectedError.
var ErrDisconnected = errors.New("disconnected by relay")

// DisconnectedError carries the reason code the relay gave when it dropped
// us.
type DisconnectedError struct {
	Reason domain.Reason
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("disconnected by relay: %s", e.Reason)
}

// Is lets errors.Is(err, ErrDisconnected) match.
func (e *DisconnectedError) Is(target error) bool { return target == ErrDisconnected }

// Event is something the receive path surfaces to the presentation layer.
type Event interface{ event() }

// MessageEvent is a chat message from another participant.
type MessageEvent struct{ Message domain.Message }

// PresenceEvent is a join, leave, list or welcome notification.
type PresenceEvent struct{ Presence domain.Presence }

// ClosedEvent is always the last event. Err is nil after a requested quit
// or Close.
type ClosedEvent struct{ Err error }

func (MessageEvent) event()  {}
func (PresenceEvent) event() {}
func (ClosedEvent) event()   {}
