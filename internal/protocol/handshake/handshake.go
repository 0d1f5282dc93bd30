package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"io"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/protocol/wire"
	"veilchat/internal/util/memzero"
)

// FrameConn is the framed stream a handshake runs over.
type FrameConn interface {
	ReadFrame() (wire.Frame, error)
	WriteFrame(wire.Frame) error
}

// Result is what both sides hold once the key has been transported.
type Result struct {
	Key       *crypto.SessionKey
	Challenge [wire.ChallengeSize]byte
	// ServerKey is the key the server presented; set on the client side.
	ServerKey *rsa.PublicKey
}

// Server runs the relay half: present the public key with a fresh
// challenge, then unwrap the client's session key.
//
// A frame of the wrong kind, or a malformed one, is domain.ErrProtocol.
// A key that fails to unwrap is domain.ErrHandshake. Deadlines are the
// caller's business.
func Server(conn FrameConn, kp *crypto.KeyPair, random io.Reader) (Result, error) {
	if random == nil {
		random = rand.Reader
	}
	var res Result
	if _, err := io.ReadFull(random, res.Challenge[:]); err != nil {
		return Result{}, err
	}
	der, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return Result{}, err
	}
	hello := wire.PubKeyHello{PublicKeyDER: der, Challenge: res.Challenge}
	if err := conn.WriteFrame(wire.Frame{Kind: wire.KindHandshakePubKey, Payload: hello.Encode()}); err != nil {
		return Result{}, err
	}

	f, err := conn.ReadFrame()
	if err != nil {
		return Result{}, err
	}
	if f.Kind != wire.KindHandshakeKey {
		return Result{}, domain.Protocolf("expected %s, got %s", wire.KindHandshakeKey, f.Kind)
	}
	if len(f.Payload) != kp.Private.Size() {
		return Result{}, domain.Protocolf("HANDSHAKE_KEY of %d bytes, want %d", len(f.Payload), kp.Private.Size())
	}

	raw, err := rsa.DecryptOAEP(sha256.New(), random, kp.Private, f.Payload, res.Challenge[:])
	if err != nil {
		return Result{}, domain.Handshakef("unwrap session key")
	}
	if len(raw) != crypto.SessionKeySize {
		memzero.Zero(raw)
		return Result{}, domain.Handshakef("session key is %d bytes", len(raw))
	}
	if res.Key, err = crypto.SessionKeyFromBytes(raw); err != nil {
		return Result{}, domain.Handshakef("%v", err)
	}
	return res, nil
}

// Client runs the connecting half. When pinned is non-nil the presented
// key must equal it. The fresh session key is wrapped with RSA-OAEP
// (SHA-256) using the challenge as label, so a captured HANDSHAKE_KEY does
// not unwrap on any other connection.
func Client(conn FrameConn, pinned *rsa.PublicKey, random io.Reader) (Result, error) {
	if random == nil {
		random = rand.Reader
	}
	f, err := conn.ReadFrame()
	if err != nil {
		return Result{}, err
	}
	if f.Kind != wire.KindHandshakePubKey {
		return Result{}, domain.Protocolf("expected %s, got %s", wire.KindHandshakePubKey, f.Kind)
	}
	hello, err := wire.DecodePubKeyHello(f.Payload)
	if err != nil {
		return Result{}, err
	}
	pub, err := crypto.ParsePublicKeyDER(hello.PublicKeyDER)
	if err != nil {
		return Result{}, domain.Handshakef("server key: %v", err)
	}
	if pub.N.BitLen() < crypto.MinRSABits {
		return Result{}, domain.Handshakef("server key is %d bits", pub.N.BitLen())
	}
	if pinned != nil && !pinned.Equal(pub) {
		return Result{}, domain.Handshakef("server key does not match pinned key")
	}

	key, err := crypto.NewSessionKey(random)
	if err != nil {
		return Result{}, err
	}
	var wrapped []byte
	err = key.Use(func(raw []byte) error {
		var err error
		wrapped, err = rsa.EncryptOAEP(sha256.New(), random, pub, raw, hello.Challenge[:])
		return err
	})
	if err != nil {
		key.Destroy()
		return Result{}, domain.Handshakef("wrap session key: %v", err)
	}
	if err := conn.WriteFrame(wire.Frame{Kind: wire.KindHandshakeKey, Payload: wrapped}); err != nil {
		key.Destroy()
		return Result{}, err
	}
	return Result{Key: key, Challenge: hello.Challenge, ServerKey: pub}, nil
}
