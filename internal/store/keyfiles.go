package store

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"veilchat/internal/crypto"
	"veilchat/internal/domain"
)

// ErrKeyFileExists is returned by WriteKeyPair when it would overwrite.
var ErrKeyFileExists = errors.New("key file already exists")

// WriteKeyPair stores kp as two PEM files: the private key mode 0600, the
// public key 0644. Existing files are replaced only when force is set.
func WriteKeyPair(privPath, pubPath string, kp *crypto.KeyPair, force bool) error {
	if !force {
		for _, p := range []string{privPath, pubPath} {
			ok, err := exists(p)
			if err != nil {
				return err
			}
			if ok {
				return fmt.Errorf("%w: %s", ErrKeyFileExists, p)
			}
		}
	}
	priv, err := kp.MarshalPrivatePEM()
	if err != nil {
		return err
	}
	pub, err := kp.MarshalPublicPEM()
	if err != nil {
		return err
	}
	if err := writeFile(privPath, priv, 0o600); err != nil {
		return err
	}
	return writeFile(pubPath, pub, 0o644)
}

// ReadKeyPair loads the relay's key pair. Every failure, a missing file
// included, wraps domain.ErrKeyLoad.
func ReadKeyPair(privPath, pubPath string) (*crypto.KeyPair, error) {
	priv, err := readKeyFile(privPath)
	if err != nil {
		return nil, err
	}
	pub, err := readKeyFile(pubPath)
	if err != nil {
		return nil, err
	}
	return crypto.LoadKeyPair(priv, pub)
}

// ReadPublicKey loads a pinned server public key.
func ReadPublicKey(path string) (*rsa.PublicKey, error) {
	b, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	return crypto.ParsePublicKeyPEM(b)
}

func readKeyFile(path string) ([]byte, error) {
	b, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyLoad, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s does not exist", domain.ErrKeyLoad, path)
	}
	return b, nil
}
