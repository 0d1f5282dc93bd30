package channel_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/protocol/channel"
	"veilchat/internal/protocol/wire"
)

var challenge = bytes.Repeat([]byte{0x5a}, wire.ChallengeSize)

func pair(t *testing.T) (client, server *channel.Cipher) {
	t.Helper()
	key, err := crypto.NewSessionKey(nil)
	require.NoError(t, err)
	client, err = channel.New(key, channel.RoleClient, challenge)
	require.NoError(t, err)
	server, err = channel.New(key, channel.RoleServer, challenge)
	require.NoError(t, err)
	key.Destroy()
	return client, server
}

func TestCipher_BothDirections(t *testing.T) {
	client, server := pair(t)
	ad := []byte("ad")

	for i := 0; i < 3; i++ {
		s, err := client.Seal(ad, []byte("up"))
		require.NoError(t, err)
		pt, err := server.Open(ad, s)
		require.NoError(t, err)
		assert.Equal(t, "up", string(pt))

		s, err = server.Seal(ad, []byte("down"))
		require.NoError(t, err)
		pt, err = client.Open(ad, s)
		require.NoError(t, err)
		assert.Equal(t, "down", string(pt))
	}
}

func TestCipher_DirectionalKeysDiffer(t *testing.T) {
	client, server := pair(t)
	a, err := client.Seal(nil, []byte("same"))
	require.NoError(t, err)
	b, err := server.Seal(nil, []byte("same"))
	require.NoError(t, err)

	assert.Equal(t, a.Nonce, b.Nonce, "both start at counter zero")
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)

	// A frame sealed for the server cannot be reflected back to the client.
	_, err = client.Open(nil, a)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestCipher_NoncesNeverRepeat(t *testing.T) {
	client, _ := pair(t)
	seen := map[[wire.NonceSize]byte]bool{}
	for i := 0; i < 1000; i++ {
		s, err := client.Seal(nil, []byte{byte(i)})
		require.NoError(t, err)
		require.False(t, seen[s.Nonce])
		seen[s.Nonce] = true
	}
}

func TestCipher_Rejects(t *testing.T) {
	ad := []byte("kind")

	t.Run("every single bit flip", func(t *testing.T) {
		client, server := pair(t)
		s, err := client.Seal(ad, []byte("hello"))
		require.NoError(t, err)

		for bit := 0; bit < 8*len(s.Ciphertext); bit++ {
			bad := s
			bad.Ciphertext = append([]byte(nil), s.Ciphertext...)
			bad.Ciphertext[bit/8] ^= 1 << (bit % 8)
			_, err := server.Open(ad, bad)
			require.ErrorIs(t, err, domain.ErrAuthentication, "ciphertext bit %d", bit)
		}
		for bit := 0; bit < 8*len(s.Tag); bit++ {
			bad := s
			bad.Tag[bit/8] ^= 1 << (bit % 8)
			_, err := server.Open(ad, bad)
			require.ErrorIs(t, err, domain.ErrAuthentication, "tag bit %d", bit)
		}

		// Failed opens leave the counter alone, so the genuine frame still opens.
		pt, err := server.Open(ad, s)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), pt)
	})
	t.Run("wrong associated data", func(t *testing.T) {
		client, server := pair(t)
		s, err := client.Seal(ad, []byte("hello"))
		require.NoError(t, err)
		_, err = server.Open([]byte("other"), s)
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})
	t.Run("replay", func(t *testing.T) {
		client, server := pair(t)
		s, err := client.Seal(ad, []byte("hello"))
		require.NoError(t, err)
		_, err = server.Open(ad, s)
		require.NoError(t, err)
		_, err = server.Open(ad, s)
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})
	t.Run("reordered", func(t *testing.T) {
		client, server := pair(t)
		first, err := client.Seal(ad, []byte("1"))
		require.NoError(t, err)
		second, err := client.Seal(ad, []byte("2"))
		require.NoError(t, err)
		_, err = server.Open(ad, second)
		assert.ErrorIs(t, err, domain.ErrAuthentication)
		// A failed open does not advance the counter.
		pt, err := server.Open(ad, first)
		require.NoError(t, err)
		assert.Equal(t, "1", string(pt))
	})
	t.Run("different session key", func(t *testing.T) {
		client, _ := pair(t)
		_, otherServer := pair(t)
		s, err := client.Seal(ad, []byte("hello"))
		require.NoError(t, err)
		_, err = otherServer.Open(ad, s)
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})
}

func TestCipher_Destroy(t *testing.T) {
	client, server := pair(t)
	s, err := client.Seal(nil, []byte("x"))
	require.NoError(t, err)

	server.Destroy()
	_, err = server.Open(nil, s)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
	_, err = server.Seal(nil, []byte("x"))
	assert.Error(t, err)

	server.Destroy()
}

func TestCipher_NewRequiresLiveKey(t *testing.T) {
	key, err := crypto.NewSessionKey(nil)
	require.NoError(t, err)
	key.Destroy()
	_, err = channel.New(key, channel.RoleClient, challenge)
	assert.Error(t, err)
}

func TestFrame_RoundTrip(t *testing.T) {
	client, server := pair(t)

	f, err := client.SealFrame(wire.KindChatMessage, "", wire.ChatBody{ID: "1", Body: "hi"})
	require.NoError(t, err)
	var body wire.ChatBody
	id, err := server.OpenFrame(f, &body)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity(""), id)
	assert.Equal(t, "hi", body.Body)

	f, err = server.SealFrame(wire.KindChatMessage, "QuietFalcon07", wire.ChatBody{ID: "1", Body: "hi"})
	require.NoError(t, err)
	id, err = client.OpenFrame(f, &body)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("QuietFalcon07"), id)
}

func TestFrame_IdentityIsAuthenticated(t *testing.T) {
	client, server := pair(t)
	f, err := server.SealFrame(wire.KindChatMessage, "Alice00", wire.ChatBody{Body: "hi"})
	require.NoError(t, err)

	p, err := wire.DecodeSealed(f.Kind, f.Payload)
	require.NoError(t, err)
	p.Identity = "Mallory0"
	f.Payload, err = wire.EncodeSealed(f.Kind, p)
	require.NoError(t, err)

	var body wire.ChatBody
	_, err = client.OpenFrame(f, &body)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestFrame_KindIsAuthenticated(t *testing.T) {
	client, server := pair(t)
	f, err := client.SealFrame(wire.KindCommand, "", wire.CommandBody{Op: wire.OpUsers})
	require.NoError(t, err)
	f.Kind = wire.KindPresence

	var body wire.PresenceBody
	_, err = server.OpenFrame(f, &body)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestFrame_HandshakeKindRefused(t *testing.T) {
	_, server := pair(t)
	var body wire.ChatBody
	_, err := server.OpenFrame(wire.Frame{Kind: wire.KindHandshakeKey, Payload: []byte{1}}, &body)
	assert.ErrorIs(t, err, domain.ErrProtocol)
}
