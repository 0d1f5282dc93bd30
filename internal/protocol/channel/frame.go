package channel

import (
	"veilchat/internal/domain"
	"veilchat/internal/protocol/wire"
)

// SealFrame marshals body and seals it into a frame of kind. id is carried
// in clear on chat frames and must be empty for the others.
func (c *Cipher) SealFrame(kind wire.Kind, id domain.Identity, body any) (wire.Frame, error) {
	plain, err := wire.Marshal(body)
	if err != nil {
		return wire.Frame{}, err
	}
	return c.SealBytes(kind, id, plain)
}

// SealBytes seals an already marshalled body into a frame of kind.
func (c *Cipher) SealBytes(kind wire.Kind, id domain.Identity, plain []byte) (wire.Frame, error) {
	s, err := c.Seal(wire.AssociatedData(kind, id), plain)
	if err != nil {
		return wire.Frame{}, err
	}
	payload, err := wire.EncodeSealed(kind, wire.SealedPayload{Identity: id, Sealed: s})
	if err != nil {
		return wire.Frame{}, err
	}
	return wire.Frame{Kind: kind, Payload: payload}, nil
}

// OpenFrame opens f and unmarshals its plaintext into body, returning the
// identity carried in clear. Handshake kinds are refused with ErrProtocol.
func (c *Cipher) OpenFrame(f wire.Frame, body any) (domain.Identity, error) {
	if f.Kind.Handshake() {
		return "", domain.Protocolf("unexpected %s after handshake", f.Kind)
	}
	p, err := wire.DecodeSealed(f.Kind, f.Payload)
	if err != nil {
		return "", err
	}
	plain, err := c.Open(wire.AssociatedData(f.Kind, p.Identity), p.Sealed)
	if err != nil {
		return "", err
	}
	if err := wire.Unmarshal(plain, body); err != nil {
		return "", err
	}
	return p.Identity, nil
}
