package domain

import "time"

// Identity is an anonymous display name, unique among live sessions only.
type Identity string

// String returns the string form of the identity.
func (i Identity) String() string { return string(i) }

// Message is one chat message as seen by a recipient.
type Message struct {
	ID        string
	Sender    Identity
	Body      string
	CreatedAt time.Time
	// Seq is the relay order assigned by the server; zero for messages
	// that never passed through the relay (our own sends).
	Seq uint64
}

// PresenceEvent enumerates presence notifications.
type PresenceEvent uint8

const (
	// PresenceWelcome tells a freshly admitted client its identity and who is online.
	PresenceWelcome PresenceEvent = iota + 1
	// PresenceJoin announces a newly admitted session.
	PresenceJoin
	// PresenceLeave announces a removed session.
	PresenceLeave
	// PresenceList carries a snapshot of online identities.
	PresenceList
	// PresenceDisconnect is the last frame a session receives, with a reason.
	PresenceDisconnect
)

func (e PresenceEvent) String() string {
	switch e {
	case PresenceWelcome:
		return "welcome"
	case PresenceJoin:
		return "join"
	case PresenceLeave:
		return "leave"
	case PresenceList:
		return "list"
	case PresenceDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Presence is a join/leave/user-list notification.
type Presence struct {
	Event    PresenceEvent
	Identity Identity   // subject of join/leave, or self for welcome
	Online   []Identity // welcome and list only
	Reason   Reason     // disconnect only
}

// Reason is a short code explaining why a connection ended.
type Reason string

const (
	ReasonQuit           Reason = "quit"
	ReasonEOF            Reason = "eof"
	ReasonProtocol       Reason = "protocol"
	ReasonHandshake      Reason = "handshake"
	ReasonAuthentication Reason = "authentication"
	ReasonServerFull     Reason = "server_full"
	ReasonIdle           Reason = "idle"
	ReasonSlowConsumer   Reason = "slow_consumer"
	ReasonShutdown       Reason = "shutdown"
	ReasonIO             Reason = "io"
)

// Notify reports whether a sealed disconnect notice is worth sending for r.
// Peers that hung up or broke the stream will not read it.
func (r Reason) Notify() bool {
	switch r {
	case ReasonEOF, ReasonIO, ReasonAuthentication, ReasonProtocol:
		return false
	default:
		return true
	}
}
