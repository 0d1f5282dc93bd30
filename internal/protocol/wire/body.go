package wire

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"veilchat/internal/domain"
)

// CommandOp enumerates requests a client may make of the relay.
type CommandOp uint8

const (
	OpUsers  CommandOp = 1
	OpWhoAmI CommandOp = 2
	OpQuit   CommandOp = 3
)

func (o CommandOp) Valid() bool { return o >= OpUsers && o <= OpQuit }

// ChatBody is the plaintext of a CHAT_MESSAGE.
type ChatBody struct {
	ID        string `cbor:"1,keyasint"`
	Body      string `cbor:"2,keyasint"`
	CreatedAt int64  `cbor:"3,keyasint"` // unix nanoseconds
	Seq       uint64 `cbor:"4,keyasint,omitempty"`
}

// CommandBody is the plaintext of a COMMAND.
type CommandBody struct {
	Op CommandOp `cbor:"1,keyasint"`
}

// PresenceBody is the plaintext of a PRESENCE.
type PresenceBody struct {
	Event    uint8    `cbor:"1,keyasint"`
	Identity string   `cbor:"2,keyasint,omitempty"`
	Online   []string `cbor:"3,keyasint,omitempty"`
	Reason   string   `cbor:"4,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{
		MaxArrayElements: 4096,
		MaxMapPairs:      64,
		MaxNestedLevels:  4,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes a body deterministically.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes a body; malformed input wraps domain.ErrProtocol.
func Unmarshal(b []byte, v any) error {
	if err := decMode.Unmarshal(b, v); err != nil {
		return domain.Protocolf("decode body: %v", err)
	}
	return nil
}

// ChatBodyFrom converts a message for the wire.
func ChatBodyFrom(m domain.Message) ChatBody {
	return ChatBody{ID: m.ID, Body: m.Body, CreatedAt: m.CreatedAt.UnixNano(), Seq: m.Seq}
}

// Message rebuilds the domain message for sender.
func (b ChatBody) Message(sender domain.Identity) domain.Message {
	return domain.Message{
		ID:        b.ID,
		Sender:    sender,
		Body:      b.Body,
		CreatedAt: time.Unix(0, b.CreatedAt),
		Seq:       b.Seq,
	}
}

// PresenceBodyFrom converts a presence notification for the wire.
func PresenceBodyFrom(p domain.Presence) PresenceBody {
	out := PresenceBody{Event: uint8(p.Event), Identity: string(p.Identity), Reason: string(p.Reason)}
	for _, id := range p.Online {
		out.Online = append(out.Online, string(id))
	}
	return out
}

// Presence rebuilds the domain notification.
func (b PresenceBody) Presence() (domain.Presence, error) {
	ev := domain.PresenceEvent(b.Event)
	if ev < domain.PresenceWelcome || ev > domain.PresenceDisconnect {
		return domain.Presence{}, domain.Protocolf("unknown presence event %d", b.Event)
	}
	p := domain.Presence{Event: ev, Identity: domain.Identity(b.Identity), Reason: domain.Reason(b.Reason)}
	for _, id := range b.Online {
		p.Online = append(p.Online, domain.Identity(id))
	}
	return p, nil
}
