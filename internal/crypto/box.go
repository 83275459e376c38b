// Package crypto wraps NaCl box as the presence encryption primitive:
// encrypt(plaintext, myPrivateKey, peerPublicKey) -> ciphertext.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	"github.com/jengzang/dining-presence-go/internal/models"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrBadKey is returned for keys that do not decode to 32 bytes
	ErrBadKey = errors.New("invalid key")
	// ErrDecrypt is returned when a ciphertext fails authentication
	ErrDecrypt = errors.New("decryption failed")
)

// GenerateKey creates a new base64 encoded key pair
func GenerateKey() (models.Key, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return models.Key{}, fmt.Errorf("generate key: %w", err)
	}
	return models.Key{
		Private64: base64.StdEncoding.EncodeToString(priv[:]),
		Public64:  base64.StdEncoding.EncodeToString(pub[:]),
	}, nil
}

// Box implements the fan-out cipher over NaCl box
type Box struct{}

// Encrypt seals plaintext for the peer and returns base64(nonce || sealed)
func (Box) Encrypt(plaintext []byte, privateKey64, peerPublicKey64 string) (string, error) {
	return Encrypt(plaintext, privateKey64, peerPublicKey64)
}

// Decrypt opens a ciphertext produced by Encrypt
func (Box) Decrypt(ciphertext64, privateKey64, peerPublicKey64 string) ([]byte, error) {
	return Decrypt(ciphertext64, privateKey64, peerPublicKey64)
}

// Encrypt seals plaintext with our private key for the peer's public key
func Encrypt(plaintext []byte, privateKey64, peerPublicKey64 string) (string, error) {
	priv, err := decodeKey(privateKey64)
	if err != nil {
		return "", fmt.Errorf("private key: %w", err)
	}
	peer, err := decodeKey(peerPublicKey64)
	if err != nil {
		return "", fmt.Errorf("peer key: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := box.Seal(nonce[:], plaintext, &nonce, peer, priv)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext sealed by the peer for our key
func Decrypt(ciphertext64, privateKey64, peerPublicKey64 string) ([]byte, error) {
	priv, err := decodeKey(privateKey64)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	peer, err := decodeKey(peerPublicKey64)
	if err != nil {
		return nil, fmt.Errorf("peer key: %w", err)
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertext64)
	if err != nil {
		return nil, fmt.Errorf("ciphertext: %w", err)
	}
	if len(blob) < nonceSize+box.Overhead {
		return nil, ErrDecrypt
	}

	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	plain, ok := box.Open(nil, blob[nonceSize:], &nonce, peer, priv)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func decodeKey(key64 string) (*[keySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(key64)
	if err != nil || len(raw) != keySize {
		return nil, ErrBadKey
	}
	var k [keySize]byte
	copy(k[:], raw)
	return &k, nil
}
