package store

import (
	"bytes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/protocol/wire"
	"veilchat/internal/util/memzero"
)

// Log file layout:
//
//	header  magic "VCLG" | version u8 | kdf u8 | salt [16] | key check [16]
//	record  marker [4] | length u32 | nonce [24] | ciphertext+tag | crc32c u32
//
// length counts nonce and ciphertext+tag. The CRC covers length through tag.
const (
	logVersion    = 1
	checkSize     = 16
	headerSize    = 4 + 1 + 1 + crypto.SaltBytes + checkSize
	maxRecordBody = 1 << 20
)

var (
	logMagic     = [4]byte{'V', 'C', 'L', 'G'}
	recordMarker = [4]byte{0xC7, 0x1E, 0x5A, 0x93}
	castagnoli   = crc32.MakeTable(crc32.Castagnoli)
	checkLabel   = []byte("veilchat|log-key-check")
)

var (
	// ErrWrongPassphrase means the passphrase and owner do not derive the
	// key this log was created with.
	ErrWrongPassphrase = errors.New("wrong passphrase for message log")
	// ErrNotALog is returned for files without a valid log header.
	ErrNotALog = errors.New("not a message log")
	// ErrLogClosed is returned after Close.
	ErrLogClosed = errors.New("message log closed")
)

// LogOptions configures OpenLog.
type LogOptions struct {
	// KDF is used when creating a new log. Existing logs record their own.
	KDF crypto.KDF
	// Random feeds salts and nonces; crypto/rand when nil.
	Random io.Reader
}

// Log is an append-only file of individually sealed messages.
type Log struct {
	path   string
	random io.Reader

	mu   sync.Mutex
	f    *os.File
	key  []byte
	aead cipher.AEAD
	salt []byte
}

// logBody is the sealed plaintext of one record.
type logBody struct {
	ID        string `cbor:"1,keyasint"`
	Sender    string `cbor:"2,keyasint"`
	Body      string `cbor:"3,keyasint"`
	CreatedAt int64  `cbor:"4,keyasint"`
	Seq       uint64 `cbor:"5,keyasint,omitempty"`
}

// OpenLog opens or creates the log at path. The key is derived from
// passphrase and owner with the log's salt; a mismatch against the key check
// stored in the header is ErrWrongPassphrase.
func OpenLog(path, owner string, passphrase []byte, opts LogOptions) (*Log, error) {
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.KDF == 0 {
		opts.KDF = crypto.KDFArgon2id
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	var (
		kdf  crypto.KDF
		salt = make([]byte, crypto.SaltBytes)
		hdr  [headerSize]byte
		key  []byte
	)
	if fi.Size() == 0 {
		kdf = opts.KDF
		if _, err := io.ReadFull(opts.Random, salt); err != nil {
			_ = f.Close()
			return nil, err
		}
		if key, err = crypto.DeriveLogKey(kdf, passphrase, salt, owner); err != nil {
			_ = f.Close()
			return nil, err
		}
		copy(hdr[:4], logMagic[:])
		hdr[4] = logVersion
		hdr[5] = byte(kdf)
		copy(hdr[6:], salt)
		copy(hdr[6+crypto.SaltBytes:], keyCheck(key))
		if _, err := f.Write(hdr[:]); err != nil {
			memzero.Zero(key)
			_ = f.Close()
			return nil, err
		}
	} else {
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, headerSize), hdr[:]); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %v", ErrNotALog, err)
		}
		if !bytes.Equal(hdr[:4], logMagic[:]) {
			_ = f.Close()
			return nil, ErrNotALog
		}
		if hdr[4] != logVersion {
			_ = f.Close()
			return nil, fmt.Errorf("unsupported log version %d", hdr[4])
		}
		kdf = crypto.KDF(hdr[5])
		copy(salt, hdr[6:6+crypto.SaltBytes])
		if key, err = crypto.DeriveLogKey(kdf, passphrase, salt, owner); err != nil {
			_ = f.Close()
			return nil, err
		}
		if subtle.ConstantTimeCompare(keyCheck(key), hdr[6+crypto.SaltBytes:]) != 1 {
			memzero.Zero(key)
			_ = f.Close()
			return nil, ErrWrongPassphrase
		}
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		memzero.Zero(key)
		_ = f.Close()
		return nil, err
	}
	return &Log{path: path, random: opts.Random, f: f, key: key, aead: aead, salt: salt}, nil
}

func keyCheck(key []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(checkLabel)
	return m.Sum(nil)[:checkSize]
}

// Append seals m and writes it as one record.
func (l *Log) Append(m domain.Message) error {
	plain, err := wire.Marshal(logBody{
		ID:        m.ID,
		Sender:    string(m.Sender),
		Body:      m.Body,
		CreatedAt: m.CreatedAt.UnixNano(),
		Seq:       m.Seq,
	})
	if err != nil {
		return err
	}
	defer memzero.Zero(plain)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrLogClosed
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(l.random, nonce); err != nil {
		return err
	}
	bodyLen := len(nonce) + len(plain) + l.aead.Overhead()
	rec := make([]byte, 0, 8+bodyLen+4)
	rec = append(rec, recordMarker[:]...)
	rec = binary.BigEndian.AppendUint32(rec, uint32(bodyLen))
	rec = append(rec, nonce...)
	rec = l.aead.Seal(rec, nonce, plain, l.salt)
	rec = binary.BigEndian.AppendUint32(rec, crc32.Checksum(rec[4:], castagnoli))

	_, err = l.f.Write(rec)
	return err
}

// ReadAll iterates the log from the start. Each range re-reads the file, so
// the sequence can be consumed more than once. An unreadable region yields
// exactly one *domain.LogCorruptionError; reading resumes at the next
// record marker.
func (l *Log) ReadAll() iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		l.mu.Lock()
		closed := l.f == nil
		l.mu.Unlock()
		if closed {
			yield(domain.Message{}, ErrLogClosed)
			return
		}

		b, err := os.ReadFile(l.path)
		if err != nil {
			yield(domain.Message{}, err)
			return
		}
		if len(b) < headerSize {
			yield(domain.Message{}, ErrNotALog)
			return
		}

		index := 0
		inCorrupt := false
		for pos := headerSize; pos < len(b); {
			m, n, err := l.decodeRecord(b[pos:])
			if err == nil {
				inCorrupt = false
				if !yield(m, nil) {
					return
				}
				index++
				pos += n
				continue
			}

			start := pos
			next := bytes.Index(b[pos+1:], recordMarker[:])
			if next < 0 {
				pos = len(b)
			} else {
				pos += 1 + next
			}
			if inCorrupt {
				continue
			}
			inCorrupt = true
			cerr := &domain.LogCorruptionError{Index: index, Offset: int64(start), Err: err}
			index++
			if !yield(domain.Message{}, cerr) {
				return
			}
		}
	}
}

var (
	errBadMarker = errors.New("missing record marker")
	errTruncated = errors.New("truncated record")
	errBadLength = errors.New("implausible record length")
	errChecksum  = errors.New("checksum mismatch")
	errSeal      = errors.New("record does not authenticate")
)

// decodeRecord parses the record at the start of b, returning its size.
func (l *Log) decodeRecord(b []byte) (domain.Message, int, error) {
	if len(b) < 8 {
		return domain.Message{}, 0, errTruncated
	}
	if !bytes.Equal(b[:4], recordMarker[:]) {
		return domain.Message{}, 0, errBadMarker
	}
	n := int(binary.BigEndian.Uint32(b[4:8]))
	if n < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead || n > maxRecordBody {
		return domain.Message{}, 0, errBadLength
	}
	total := 8 + n + 4
	if len(b) < total {
		return domain.Message{}, 0, errTruncated
	}
	if crc32.Checksum(b[4:8+n], castagnoli) != binary.BigEndian.Uint32(b[8+n:total]) {
		return domain.Message{}, 0, errChecksum
	}

	body := b[8 : 8+n]
	nonce, ct := body[:chacha20poly1305.NonceSizeX], body[chacha20poly1305.NonceSizeX:]
	l.mu.Lock()
	if l.aead == nil {
		l.mu.Unlock()
		return domain.Message{}, 0, ErrLogClosed
	}
	plain, err := l.aead.Open(nil, nonce, ct, l.salt)
	l.mu.Unlock()
	if err != nil {
		return domain.Message{}, 0, errSeal
	}
	defer memzero.Zero(plain)

	var lb logBody
	if err := wire.Unmarshal(plain, &lb); err != nil {
		return domain.Message{}, 0, err
	}
	return domain.Message{
		ID:        lb.ID,
		Sender:    domain.Identity(lb.Sender),
		Body:      lb.Body,
		CreatedAt: time.Unix(0, lb.CreatedAt),
		Seq:       lb.Seq,
	}, total, nil
}

// Path is where the log lives.
func (l *Log) Path() string { return l.path }

// Close releases the file and wipes the derived key.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	memzero.Zero(l.key)
	l.aead = nil
	return err
}

// Compile-time assertion that Log implements domain.MessageLog.
var _ domain.MessageLog = (*Log)(nil)
