package crypto

import (
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"
)

const (
	// KeyBytes is the size of every derived symmetric key.
	KeyBytes = 32
	// SaltBytes is the size of a KDF salt.
	SaltBytes = 16
)

// KDF names a password-based key derivation function.
type KDF uint8

const (
	KDFArgon2id KDF = 1
	KDFScrypt   KDF = 2
)

func (k KDF) String() string {
	switch k {
	case KDFArgon2id:
		return "argon2id"
	case KDFScrypt:
		return "scrypt"
	default:
		return fmt.Sprintf("kdf(%d)", uint8(k))
	}
}

// ParseKDF maps a config name to a KDF.
func ParseKDF(s string) (KDF, error) {
	switch s {
	case "", "argon2id":
		return KDFArgon2id, nil
	case "scrypt":
		return KDFScrypt, nil
	default:
		return 0, fmt.Errorf("unknown kdf %q", s)
	}
}

// DeriveLogKey derives the storage key for an encrypted log. The owner label
// is bound into the salt so one passphrase yields distinct keys per owner.
func DeriveLogKey(kdf KDF, passphrase []byte, salt []byte, owner string) ([]byte, error) {
	if len(salt) != SaltBytes {
		return nil, fmt.Errorf("invalid salt size %d", len(salt))
	}
	bound := make([]byte, 0, len(salt)+len(owner))
	bound = append(bound, salt...)
	bound = append(bound, owner...)

	switch kdf {
	case KDFArgon2id:
		return argon2.IDKey(passphrase, bound, 1, 64*1024, 4, KeyBytes), nil
	case KDFScrypt:
		N, r, p := scryptParamsDefault()
		return scrypt.Key(passphrase, bound, N, r, p, KeyBytes)
	default:
		return nil, fmt.Errorf("unknown kdf %d", kdf)
	}
}

// Tunables for scrypt key derivation.
func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }
