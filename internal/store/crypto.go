// ABOUTME: At-rest encryption for the credentials payload using nacl/secretbox.
// ABOUTME: Key is derived deterministically from a configured secret; empty secret disables sealing.

package store

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// sealer encrypts and decrypts the credentials payload. With a nil key it
// passes data through unchanged, so deployments without a configured secret
// keep working (with a plaintext payload on disk).
type sealer struct {
	key *[32]byte
}

// newSealer derives a 32-byte secretbox key from the configured secret.
func newSealer(secret string) *sealer {
	if secret == "" {
		return &sealer{}
	}
	key := sha256.Sum256([]byte("coven-relay-credentials:" + secret))
	return &sealer{key: &key}
}

// seal encrypts data with a random nonce prepended to the ciphertext.
func (s *sealer) seal(data []byte) ([]byte, error) {
	if s.key == nil {
		return data, nil
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], data, &nonce, s.key), nil
}

// open decrypts data produced by seal.
func (s *sealer) open(data []byte) ([]byte, error) {
	if s.key == nil {
		return data, nil
	}

	if len(data) < 24 {
		return nil, fmt.Errorf("sealed payload too short: %d bytes", len(data))
	}

	var nonce [24]byte
	copy(nonce[:], data[:24])

	plain, ok := secretbox.Open(nil, data[24:], &nonce, s.key)
	if !ok {
		return nil, fmt.Errorf("payload decryption failed (wrong secret?)")
	}
	return plain, nil
}
