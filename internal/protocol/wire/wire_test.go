package wire_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/domain"
	"veilchat/internal/protocol/wire"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf, 0)
	frames := []wire.Frame{
		{Kind: wire.KindHandshakePubKey, Payload: []byte("pub")},
		{Kind: wire.KindChatMessage, Payload: nil},
		{Kind: wire.KindPresence, Payload: bytes.Repeat([]byte{9}, 1000)},
	}
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f))
	}

	r := wire.NewReader(&buf, 0)
	for _, want := range frames {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, len(want.Payload), len(got.Payload))
		assert.True(t, bytes.Equal(want.Payload, got.Payload))
	}
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

// oneByteReader forces frames to arrive split across many reads.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestFrame_SplitDelivery(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf, 0)
	require.NoError(t, w.WriteFrame(wire.Frame{Kind: wire.KindCommand, Payload: []byte("abcdef")}))
	require.NoError(t, w.WriteFrame(wire.Frame{Kind: wire.KindCommand, Payload: []byte("gh")}))

	r := wire.NewReader(oneByteReader{&buf}, 0)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(f.Payload))
	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "gh", string(f.Payload))
}

func header(n uint32, kind byte) []byte {
	h := make([]byte, wire.HeaderSize)
	binary.BigEndian.PutUint32(h, n)
	h[4] = kind
	return h
}

// countingReader records how many bytes were consumed.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestFrame_Errors(t *testing.T) {
	t.Run("truncated header", func(t *testing.T) {
		_, err := wire.NewReader(bytes.NewReader([]byte{0, 0, 1}), 0).ReadFrame()
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
	t.Run("truncated payload", func(t *testing.T) {
		in := append(header(10, byte(wire.KindChatMessage)), 1, 2, 3)
		_, err := wire.NewReader(bytes.NewReader(in), 0).ReadFrame()
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
	t.Run("unknown kind", func(t *testing.T) {
		in := append(header(1, 0x7f), 0)
		_, err := wire.NewReader(bytes.NewReader(in), 0).ReadFrame()
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
	t.Run("oversize not read", func(t *testing.T) {
		in := append(header(1<<20, byte(wire.KindChatMessage)), make([]byte, 4096)...)
		cr := &countingReader{r: bytes.NewReader(in)}
		_, err := wire.NewReader(cr, 1024).ReadFrame()
		assert.ErrorIs(t, err, domain.ErrProtocol)
		assert.Equal(t, wire.HeaderSize, cr.n)
	})
	t.Run("writer refuses oversize", func(t *testing.T) {
		err := wire.NewWriter(io.Discard, 4).WriteFrame(wire.Frame{Kind: wire.KindCommand, Payload: make([]byte, 5)})
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
	t.Run("writer refuses unknown kind", func(t *testing.T) {
		err := wire.NewWriter(io.Discard, 0).WriteFrame(wire.Frame{Kind: 42})
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
}

func TestPubKeyHello(t *testing.T) {
	h := wire.PubKeyHello{PublicKeyDER: []byte("der-bytes")}
	h.Challenge[0], h.Challenge[31] = 1, 2

	got, err := wire.DecodePubKeyHello(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	enc := h.Encode()
	_, err = wire.DecodePubKeyHello(enc[:len(enc)-1])
	assert.ErrorIs(t, err, domain.ErrProtocol)
	_, err = wire.DecodePubKeyHello([]byte{0})
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestSealedPayload(t *testing.T) {
	p := wire.SealedPayload{Identity: "QuietFalcon07"}
	p.Nonce[11] = 1
	p.Ciphertext = []byte("ciphertext")
	p.Tag[0] = 0xff

	enc, err := wire.EncodeSealed(wire.KindChatMessage, p)
	require.NoError(t, err)
	got, err := wire.DecodeSealed(wire.KindChatMessage, enc)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	p.Identity = ""
	enc, err = wire.EncodeSealed(wire.KindPresence, p)
	require.NoError(t, err)
	got, err = wire.DecodeSealed(wire.KindPresence, enc)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = wire.DecodeSealed(wire.KindCommand, make([]byte, wire.NonceSize+wire.TagSize-1))
	assert.ErrorIs(t, err, domain.ErrProtocol)
	_, err = wire.DecodeSealed(wire.KindChatMessage, []byte{40, 'a'})
	assert.ErrorIs(t, err, domain.ErrProtocol)
	_, err = wire.DecodeSealed(wire.KindHandshakeKey, enc)
	assert.ErrorIs(t, err, domain.ErrProtocol)
	_, err = wire.EncodeSealed(wire.KindCommand, wire.SealedPayload{Identity: "x"})
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestAssociatedData_BindsKindAndIdentity(t *testing.T) {
	a := wire.AssociatedData(wire.KindChatMessage, "A")
	b := wire.AssociatedData(wire.KindChatMessage, "B")
	c := wire.AssociatedData(wire.KindPresence, "")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBodies(t *testing.T) {
	m := domain.Message{ID: "id-1", Sender: "X", Body: "hello", CreatedAt: time.Unix(100, 5), Seq: 3}
	raw, err := wire.Marshal(wire.ChatBodyFrom(m))
	require.NoError(t, err)
	var cb wire.ChatBody
	require.NoError(t, wire.Unmarshal(raw, &cb))
	got := cb.Message("X")
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Body, got.Body)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, m.Seq, got.Seq)

	p := domain.Presence{Event: domain.PresenceWelcome, Identity: "A", Online: []domain.Identity{"A", "B"}}
	raw, err = wire.Marshal(wire.PresenceBodyFrom(p))
	require.NoError(t, err)
	var pb wire.PresenceBody
	require.NoError(t, wire.Unmarshal(raw, &pb))
	gp, err := pb.Presence()
	require.NoError(t, err)
	assert.Equal(t, p, gp)

	_, err = wire.PresenceBody{Event: 99}.Presence()
	assert.ErrorIs(t, err, domain.ErrProtocol)

	assert.ErrorIs(t, wire.Unmarshal([]byte{0xff, 0x00}, &cb), domain.ErrProtocol)
}
