package handshake_test

import (
	"crypto/rand"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/protocol/handshake"
	"veilchat/internal/protocol/wire"
)

var (
	keysOnce sync.Once
	serverKP *crypto.KeyPair
	otherKP  *crypto.KeyPair
)

func keys(t *testing.T) (*crypto.KeyPair, *crypto.KeyPair) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		if serverKP, err = crypto.GenerateKeyPair(rand.Reader, crypto.DefaultRSABits); err != nil {
			panic(err)
		}
		if otherKP, err = crypto.GenerateKeyPair(rand.Reader, crypto.DefaultRSABits); err != nil {
			panic(err)
		}
	})
	return serverKP, otherKP
}

type outcome struct {
	res handshake.Result
	err error
}

// pipe returns framed ends of an in-memory connection.
func pipe(t *testing.T) (client, server *wire.ReadWriter) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() { _ = c.Close(); _ = s.Close() })
	return wire.NewReadWriter(c, 0), wire.NewReadWriter(s, 0)
}

func runServer(conn *wire.ReadWriter, kp *crypto.KeyPair) <-chan outcome {
	out := make(chan outcome, 1)
	go func() {
		res, err := handshake.Server(conn, kp, nil)
		out <- outcome{res, err}
	}()
	return out
}

func TestHandshake_AgreesOnKey(t *testing.T) {
	kp, _ := keys(t)
	cc, sc := pipe(t)

	srv := runServer(sc, kp)
	cres, err := handshake.Client(cc, kp.Public, nil)
	require.NoError(t, err)
	s := <-srv
	require.NoError(t, s.err)

	assert.True(t, cres.Key.Equal(s.res.Key))
	assert.Equal(t, cres.Challenge, s.res.Challenge)
	assert.True(t, cres.ServerKey.Equal(kp.Public))
}

func TestHandshake_UnpinnedClientAcceptsAnyLargeKey(t *testing.T) {
	kp, _ := keys(t)
	cc, sc := pipe(t)

	srv := runServer(sc, kp)
	_, err := handshake.Client(cc, nil, nil)
	require.NoError(t, err)
	require.NoError(t, (<-srv).err)
}

func TestHandshake_FreshKeysPerConnection(t *testing.T) {
	kp, _ := keys(t)

	var got []*crypto.SessionKey
	var challenges [][wire.ChallengeSize]byte
	for i := 0; i < 2; i++ {
		cc, sc := pipe(t)
		srv := runServer(sc, kp)
		res, err := handshake.Client(cc, kp.Public, nil)
		require.NoError(t, err)
		require.NoError(t, (<-srv).err)
		got = append(got, res.Key)
		challenges = append(challenges, res.Challenge)
	}
	assert.False(t, got[0].Equal(got[1]))
	assert.NotEqual(t, challenges[0], challenges[1])
}

func TestHandshake_PinnedMismatchFailsClosed(t *testing.T) {
	kp, other := keys(t)
	c, s := net.Pipe()
	defer s.Close()

	srv := runServer(wire.NewReadWriter(s, 0), kp)
	_, err := handshake.Client(wire.NewReadWriter(c, 0), other.Public, nil)
	assert.ErrorIs(t, err, domain.ErrHandshake)

	// The client never sent a key; the server sees the stream end.
	require.NoError(t, c.Close())
	out := <-srv
	assert.Error(t, out.err)
	assert.Nil(t, out.res.Key)
}

func TestServer_RejectsWrongKind(t *testing.T) {
	kp, _ := keys(t)
	cc, sc := pipe(t)

	srv := runServer(sc, kp)
	_, err := cc.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, cc.WriteFrame(wire.Frame{Kind: wire.KindChatMessage, Payload: []byte{0}}))

	s := <-srv
	assert.ErrorIs(t, s.err, domain.ErrProtocol)
}

func TestServer_RejectsGarbageKey(t *testing.T) {
	kp, _ := keys(t)

	t.Run("wrong length", func(t *testing.T) {
		cc, sc := pipe(t)
		srv := runServer(sc, kp)
		_, err := cc.ReadFrame()
		require.NoError(t, err)
		require.NoError(t, cc.WriteFrame(wire.Frame{Kind: wire.KindHandshakeKey, Payload: []byte("short")}))
		assert.ErrorIs(t, (<-srv).err, domain.ErrProtocol)
	})
	t.Run("does not unpad", func(t *testing.T) {
		cc, sc := pipe(t)
		srv := runServer(sc, kp)
		_, err := cc.ReadFrame()
		require.NoError(t, err)
		junk := make([]byte, kp.Private.Size())
		junk[5] = 1
		require.NoError(t, cc.WriteFrame(wire.Frame{Kind: wire.KindHandshakeKey, Payload: junk}))
		assert.ErrorIs(t, (<-srv).err, domain.ErrHandshake)
	})
}

func TestServer_RejectsReplayedKey(t *testing.T) {
	kp, _ := keys(t)

	// Capture a genuine HANDSHAKE_KEY from one connection.
	var captured []byte
	{
		cc, sc := pipe(t)
		srv := runServer(sc, kp)
		res, err := handshake.Client(recorder{cc, &captured}, kp.Public, nil)
		require.NoError(t, err)
		require.NoError(t, (<-srv).err)
		res.Key.Destroy()
	}
	require.NotEmpty(t, captured)

	// Replay it on a new connection with a new challenge.
	cc, sc := pipe(t)
	srv := runServer(sc, kp)
	_, err := cc.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, cc.WriteFrame(wire.Frame{Kind: wire.KindHandshakeKey, Payload: captured}))
	assert.ErrorIs(t, (<-srv).err, domain.ErrHandshake)
}

func TestClient_RejectsWrongKindAndMalformedHello(t *testing.T) {
	t.Run("wrong kind", func(t *testing.T) {
		cc, sc := pipe(t)
		go func() { _ = sc.WriteFrame(wire.Frame{Kind: wire.KindPresence, Payload: []byte{1}}) }()
		_, err := handshake.Client(cc, nil, nil)
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
	t.Run("malformed", func(t *testing.T) {
		cc, sc := pipe(t)
		go func() { _ = sc.WriteFrame(wire.Frame{Kind: wire.KindHandshakePubKey, Payload: []byte{0, 9, 1}}) }()
		_, err := handshake.Client(cc, nil, nil)
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
	t.Run("not a key", func(t *testing.T) {
		cc, sc := pipe(t)
		hello := wire.PubKeyHello{PublicKeyDER: []byte("nope")}
		go func() { _ = sc.WriteFrame(wire.Frame{Kind: wire.KindHandshakePubKey, Payload: hello.Encode()}) }()
		_, err := handshake.Client(cc, nil, nil)
		assert.ErrorIs(t, err, domain.ErrHandshake)
	})
}

// recorder copies the payload of every HANDSHAKE_KEY it writes.
type recorder struct {
	*wire.ReadWriter
	out *[]byte
}

func (r recorder) WriteFrame(f wire.Frame) error {
	if f.Kind == wire.KindHandshakeKey {
		*r.out = append([]byte(nil), f.Payload...)
	}
	return r.ReadWriter.WriteFrame(f)
}
