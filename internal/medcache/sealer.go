package medcache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Sealer turns an encoded payload into its stored form and back.
// Entries marked Encrypted pass through it on Set and Get.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// KeySize is the AES-256 key length expected by NewAESGCMSealer.
const KeySize = 32

type aesGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer returns an AES-256-GCM sealer. The nonce is random per
// Seal and prefixed to the ciphertext.
func NewAESGCMSealer(key []byte) (Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("medcache: encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("medcache: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("medcache: create GCM: %w", err)
	}

	return &aesGCMSealer{aead: gcm}, nil
}

// NewAESGCMSealerFromBase64 decodes a standard base64 key and builds an
// AES-256-GCM sealer from it.
func NewAESGCMSealerFromBase64(key string) (Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("medcache: invalid encryption key format: %w", err)
	}
	return NewAESGCMSealer(raw)
}

// NewEphemeralSealer generates a random key that lives only as long as the
// process. Cached entries never leave the process, so nothing needs the key
// afterwards.
func NewEphemeralSealer() (Sealer, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("medcache: generate key: %w", err)
	}
	return NewAESGCMSealer(key)
}

func (s *aesGCMSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *aesGCMSealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}

// Base64Sealer is a reversible encoding with no confidentiality. It exists
// for callers that need the stored form to be readable; do not use it for
// patient data.
type Base64Sealer struct{}

func (Base64Sealer) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(plaintext)))
	base64.StdEncoding.Encode(out, plaintext)
	return out, nil
}

func (Base64Sealer) Open(sealed []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(sealed)))
	n, err := base64.StdEncoding.Decode(out, sealed)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
