package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	"veilchat/internal/domain"
)

const (
	// MinRSABits is the smallest modulus accepted for the server key.
	MinRSABits = 2048
	// DefaultRSABits is the size generated by keygen.
	DefaultRSABits = 2048

	pemPrivatePKCS8 = "PRIVATE KEY"
	pemPrivatePKCS1 = "RSA PRIVATE KEY"
	pemPublicPKIX   = "PUBLIC KEY"
	pemPublicPKCS1  = "RSA PUBLIC KEY"
)

// KeyPair is the relay's long-lived RSA key pair.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA key pair of the given size.
func GenerateKeyPair(random io.Reader, bits int) (*KeyPair, error) {
	if bits < MinRSABits {
		return nil, fmt.Errorf("rsa key size %d below minimum %d", bits, MinRSABits)
	}
	if random == nil {
		random = rand.Reader
	}
	priv, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// MarshalPrivatePEM encodes the private half as PKCS#8 PEM.
func (kp *KeyPair) MarshalPrivatePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPrivatePKCS8, Bytes: der}), nil
}

// MarshalPublicPEM encodes the public half as PKIX PEM.
func (kp *KeyPair) MarshalPublicPEM() ([]byte, error) {
	return MarshalPublicKeyPEM(kp.Public)
}

// MarshalPublicKeyPEM encodes pub as PKIX PEM.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicPKIX, Bytes: der}), nil
}

// LoadKeyPair parses the two key artifacts and checks they belong together.
// Every failure wraps domain.ErrKeyLoad.
func LoadKeyPair(privPEM, pubPEM []byte) (*KeyPair, error) {
	priv, err := ParsePrivateKeyPEM(privPEM)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return nil, err
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, fmt.Errorf("%w: public key does not match private key", domain.ErrKeyLoad)
	}
	return &KeyPair{Private: priv, Public: pub}, nil
}

// ParsePrivateKeyPEM accepts PKCS#8 or PKCS#1 RSA private keys.
func ParsePrivateKeyPEM(b []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("%w: private key is not PEM", domain.ErrKeyLoad)
	}
	var priv *rsa.PrivateKey
	switch block.Type {
	case pemPrivatePKCS8:
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrKeyLoad, err)
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private key is %T, want RSA", domain.ErrKeyLoad, k)
		}
		priv = rk
	case pemPrivatePKCS1:
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrKeyLoad, err)
		}
		priv = k
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", domain.ErrKeyLoad, block.Type)
	}
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyLoad, err)
	}
	if priv.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("%w: rsa key is %d bits", domain.ErrKeyLoad, priv.N.BitLen())
	}
	return priv, nil
}

// ParsePublicKeyPEM accepts PKIX or PKCS#1 RSA public keys.
func ParsePublicKeyPEM(b []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("%w: public key is not PEM", domain.ErrKeyLoad)
	}
	var (
		pub *rsa.PublicKey
		err error
	)
	switch block.Type {
	case pemPublicPKIX:
		pub, err = ParsePublicKeyDER(block.Bytes)
	case pemPublicPKCS1:
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", domain.ErrKeyLoad, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyLoad, err)
	}
	if pub.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("%w: rsa key is %d bits", domain.ErrKeyLoad, pub.N.BitLen())
	}
	return pub, nil
}

// ParsePublicKeyDER parses a PKIX-encoded RSA public key.
func ParsePublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", k)
	}
	return pub, nil
}

// PublicKeyFingerprint is the short fingerprint of a PKIX-encoded key.
func PublicKeyFingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return Fingerprint(der), nil
}
