package wire

import (
	"encoding/binary"

	"veilchat/internal/domain"
)

const (
	// NonceSize is the session cipher nonce width.
	NonceSize = 12
	// TagSize is the session cipher tag width.
	TagSize = 16
	// ChallengeSize is the handshake challenge width.
	ChallengeSize = 32
	// MaxIdentityLen bounds the identity carried in a chat frame.
	MaxIdentityLen = 64
)

// PubKeyHello is the HANDSHAKE_PUBKEY payload:
// [u16 len][PKIX DER public key][32-byte challenge].
type PubKeyHello struct {
	PublicKeyDER []byte
	Challenge    [ChallengeSize]byte
}

// Encode serialises h.
func (h PubKeyHello) Encode() []byte {
	out := make([]byte, 2+len(h.PublicKeyDER)+ChallengeSize)
	binary.BigEndian.PutUint16(out[:2], uint16(len(h.PublicKeyDER)))
	copy(out[2:], h.PublicKeyDER)
	copy(out[2+len(h.PublicKeyDER):], h.Challenge[:])
	return out
}

// DecodePubKeyHello parses a HANDSHAKE_PUBKEY payload.
func DecodePubKeyHello(b []byte) (PubKeyHello, error) {
	var h PubKeyHello
	if len(b) < 2 {
		return h, domain.Protocolf("short HANDSHAKE_PUBKEY payload")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	if n == 0 || len(b) != 2+n+ChallengeSize {
		return h, domain.Protocolf("HANDSHAKE_PUBKEY length mismatch")
	}
	h.PublicKeyDER = append([]byte(nil), b[2:2+n]...)
	copy(h.Challenge[:], b[2+n:])
	return h, nil
}

// Sealed is an encrypted body as carried on the wire.
type Sealed struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
	Tag        [TagSize]byte
}

// SealedPayload is the payload of CHAT_MESSAGE, COMMAND and PRESENCE frames.
// Identity is only present on CHAT_MESSAGE frames: empty client to server,
// the sender's name server to client.
type SealedPayload struct {
	Identity domain.Identity
	Sealed
}

// EncodeSealed serialises p for the given kind.
func EncodeSealed(kind Kind, p SealedPayload) ([]byte, error) {
	size := NonceSize + len(p.Ciphertext) + TagSize
	var out []byte
	switch kind {
	case KindChatMessage:
		if len(p.Identity) > MaxIdentityLen {
			return nil, domain.Protocolf("identity too long")
		}
		out = make([]byte, 0, 1+len(p.Identity)+size)
		out = append(out, byte(len(p.Identity)))
		out = append(out, p.Identity...)
	case KindCommand, KindPresence:
		if p.Identity != "" {
			return nil, domain.Protocolf("%s frames carry no identity", kind)
		}
		out = make([]byte, 0, size)
	default:
		return nil, domain.Protocolf("%s is not a sealed kind", kind)
	}
	out = append(out, p.Nonce[:]...)
	out = append(out, p.Ciphertext...)
	out = append(out, p.Tag[:]...)
	return out, nil
}

// DecodeSealed parses a sealed payload of the given kind.
func DecodeSealed(kind Kind, b []byte) (SealedPayload, error) {
	var p SealedPayload
	switch kind {
	case KindChatMessage:
		if len(b) < 1 {
			return p, domain.Protocolf("empty CHAT_MESSAGE payload")
		}
		n := int(b[0])
		if n > MaxIdentityLen || len(b) < 1+n {
			return p, domain.Protocolf("CHAT_MESSAGE identity overruns payload")
		}
		p.Identity = domain.Identity(b[1 : 1+n])
		b = b[1+n:]
	case KindCommand, KindPresence:
	default:
		return p, domain.Protocolf("%s is not a sealed kind", kind)
	}
	if len(b) < NonceSize+TagSize {
		return p, domain.Protocolf("sealed %s payload too short", kind)
	}
	copy(p.Nonce[:], b[:NonceSize])
	p.Ciphertext = append([]byte(nil), b[NonceSize:len(b)-TagSize]...)
	copy(p.Tag[:], b[len(b)-TagSize:])
	return p, nil
}

// AssociatedData binds a sealed body to its frame kind and, for chat
// frames, to the identity carried in clear.
func AssociatedData(kind Kind, id domain.Identity) []byte {
	ad := make([]byte, 0, 1+len(id))
	ad = append(ad, byte(kind))
	ad = append(ad, id...)
	return ad
}
