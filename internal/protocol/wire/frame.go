package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"veilchat/internal/domain"
)

// Kind identifies what a frame carries.
type Kind uint8

const (
	KindHandshakePubKey Kind = 1
	KindHandshakeKey    Kind = 2
	KindChatMessage     Kind = 3
	KindCommand         Kind = 4
	KindPresence        Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindHandshakePubKey:
		return "HANDSHAKE_PUBKEY"
	case KindHandshakeKey:
		return "HANDSHAKE_KEY"
	case KindChatMessage:
		return "CHAT_MESSAGE"
	case KindCommand:
		return "COMMAND"
	case KindPresence:
		return "PRESENCE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool { return k >= KindHandshakePubKey && k <= KindPresence }

// Handshake reports whether k belongs to the key exchange.
func (k Kind) Handshake() bool { return k == KindHandshakePubKey || k == KindHandshakeKey }

const (
	// HeaderSize is the fixed-width prefix: u32 length then u8 kind.
	HeaderSize = 5
	// DefaultMaxPayload bounds a single frame's payload.
	DefaultMaxPayload = 64 << 10
)

// Frame is one length-prefixed unit of the protocol.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Reader decodes frames from a byte stream.
type Reader struct {
	r   io.Reader
	max uint32
	hdr [HeaderSize]byte
}

// NewReader returns a Reader refusing payloads over max bytes (DefaultMaxPayload when 0).
func NewReader(r io.Reader, max uint32) *Reader {
	if max == 0 {
		max = DefaultMaxPayload
	}
	return &Reader{r: r, max: max}
}

// ReadFrame reads the next frame.
//
// A stream that ends cleanly between frames returns io.EOF. Truncation,
// over-length and unknown kinds wrap domain.ErrProtocol; the payload of an
// over-length frame is never read.
func (r *Reader) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, domain.Protocolf("truncated frame header")
		}
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(r.hdr[:4])
	kind := Kind(r.hdr[4])
	if n > r.max {
		return Frame{}, domain.Protocolf("frame of %d bytes exceeds limit %d", n, r.max)
	}
	if !kind.Valid() {
		return Frame{}, domain.Protocolf("unknown frame kind %d", r.hdr[4])
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, domain.Protocolf("truncated %s frame", kind)
		}
		return Frame{}, err
	}
	return Frame{Kind: kind, Payload: payload}, nil
}

// Writer encodes frames onto a byte stream. It is not safe for concurrent use.
type Writer struct {
	w   io.Writer
	max uint32
	buf []byte
}

// NewWriter returns a Writer refusing payloads over max bytes (DefaultMaxPayload when 0).
func NewWriter(w io.Writer, max uint32) *Writer {
	if max == 0 {
		max = DefaultMaxPayload
	}
	return &Writer{w: w, max: max}
}

// WriteFrame writes header and payload with a single Write call.
func (w *Writer) WriteFrame(f Frame) error {
	if !f.Kind.Valid() {
		return domain.Protocolf("refusing to write frame kind %d", uint8(f.Kind))
	}
	if uint64(len(f.Payload)) > uint64(w.max) {
		return domain.Protocolf("frame of %d bytes exceeds limit %d", len(f.Payload), w.max)
	}
	need := HeaderSize + len(f.Payload)
	if cap(w.buf) < need {
		w.buf = make([]byte, need)
	}
	buf := w.buf[:need]
	binary.BigEndian.PutUint32(buf[:4], uint32(len(f.Payload)))
	buf[4] = byte(f.Kind)
	copy(buf[HeaderSize:], f.Payload)
	_, err := w.w.Write(buf)
	return err
}

// ReadWriter pairs a Reader and a Writer over one connection.
type ReadWriter struct {
	*Reader
	*Writer
}

// NewReadWriter frames rw in both directions.
func NewReadWriter(rw io.ReadWriter, max uint32) *ReadWriter {
	return &ReadWriter{Reader: NewReader(rw, max), Writer: NewWriter(rw, max)}
}
