package channel

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/protocol/wire"
	"veilchat/internal/util/memzero"
)

// Role selects which direction's key is used for sealing.
type Role uint8

const (
	RoleClient Role = iota + 1
	RoleServer
)

var (
	infoClientToServer = []byte("veilchat|c2s")
	infoServerToClient = []byte("veilchat|s2c")

	errDestroyed = errors.New("session cipher destroyed")
)

// direction is one half of the channel: a key and the counter that
// produces its nonces.
type direction struct {
	mu      sync.Mutex
	key     []byte
	aead    cipher.AEAD
	counter uint64
	spent   bool // counter reached math.MaxUint64 and was used
}

func newDirection(key []byte) (*direction, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &direction{key: key, aead: aead}, nil
}

func (d *direction) nonce() [wire.NonceSize]byte {
	var n [wire.NonceSize]byte
	binary.BigEndian.PutUint64(n[wire.NonceSize-8:], d.counter)
	return n
}

// advance moves to the next counter value, latching when the space is spent.
func (d *direction) advance() {
	if d.counter == math.MaxUint64 {
		d.spent = true
		return
	}
	d.counter++
}

func (d *direction) destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	memzero.Zero(d.key)
	d.aead = nil
}

// Cipher is the authenticated encryption for one connection.
//
// Each direction derives its own key from the session key, so client and
// server can both count nonces from zero without colliding. Seal and Open
// may run concurrently with each other, but each is serialised on its own.
type Cipher struct {
	send *direction
	recv *direction
}

// New derives the directional keys from key and the handshake challenge.
func New(key *crypto.SessionKey, role Role, challenge []byte) (*Cipher, error) {
	var c2s, s2c []byte
	err := key.Use(func(raw []byte) error {
		c2s = derive(raw, challenge, infoClientToServer)
		s2c = derive(raw, challenge, infoServerToClient)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sendKey, recvKey := c2s, s2c
	switch role {
	case RoleClient:
	case RoleServer:
		sendKey, recvKey = s2c, c2s
	default:
		memzero.ZeroAll(c2s, s2c)
		return nil, errors.New("unknown channel role")
	}

	send, err := newDirection(sendKey)
	if err != nil {
		memzero.ZeroAll(c2s, s2c)
		return nil, err
	}
	recv, err := newDirection(recvKey)
	if err != nil {
		memzero.ZeroAll(c2s, s2c)
		return nil, err
	}
	return &Cipher{send: send, recv: recv}, nil
}

func derive(secret, salt, info []byte) []byte {
	out := make([]byte, chacha20poly1305.KeySize)
	_, _ = io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out)
	return out
}

// Seal encrypts plaintext with the next nonce. ad is bound into the tag.
// Once every nonce has been used Seal returns domain.ErrNonceExhausted.
func (c *Cipher) Seal(ad, plaintext []byte) (wire.Sealed, error) {
	d := c.send
	d.mu.Lock()
	defer d.mu.Unlock()

	var out wire.Sealed
	if d.aead == nil {
		return out, errDestroyed
	}
	if d.spent {
		return out, domain.ErrNonceExhausted
	}
	out.Nonce = d.nonce()
	ct := d.aead.Seal(nil, out.Nonce[:], plaintext, ad)
	out.Ciphertext = ct[:len(ct)-wire.TagSize]
	copy(out.Tag[:], ct[len(ct)-wire.TagSize:])
	d.advance()
	return out, nil
}

// Open verifies and decrypts s. The nonce must be exactly the next one
// expected, so replays, reordering and drops all fail. Every failure is
// reported as domain.ErrAuthentication and leaves the counter untouched.
func (c *Cipher) Open(ad []byte, s wire.Sealed) ([]byte, error) {
	d := c.recv
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.aead == nil || d.spent {
		return nil, domain.ErrAuthentication
	}
	want := d.nonce()
	if s.Nonce != want {
		return nil, domain.ErrAuthentication
	}
	buf := make([]byte, 0, len(s.Ciphertext)+wire.TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag[:]...)
	pt, err := d.aead.Open(buf[:0], s.Nonce[:], buf, ad)
	if err != nil {
		return nil, domain.ErrAuthentication
	}
	d.advance()
	return pt, nil
}

// Destroy wipes both directional keys. Later Seal and Open calls fail.
func (c *Cipher) Destroy() {
	if c == nil {
		return
	}
	c.send.destroy()
	c.recv.destroy()
}
