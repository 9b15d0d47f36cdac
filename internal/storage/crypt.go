package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealMagic  = "GCM3NCR0"
	saltSize   = 16
	nonceSize  = 12
	tagSize    = 16
	iterations = 100000
)

// ErrNotSealed is returned by Open for data without the sealed-format header.
var ErrNotSealed = errors.New("data is not sealed")

// Sealer encrypts stored objects with AES-256-GCM under a passphrase-derived key.
// Format: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
type Sealer struct {
	passphrase []byte
}

func NewSealer(passphrase string) *Sealer {
	return &Sealer{passphrase: []byte(passphrase)}
}

func (s *Sealer) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts data.
func (s *Sealer) Seal(data []byte) ([]byte, error) {
	head := make([]byte, len(sealMagic)+saltSize+nonceSize)
	copy(head, sealMagic)
	salt := head[len(sealMagic) : len(sealMagic)+saltSize]
	nonce := head[len(sealMagic)+saltSize:]
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	aead, err := s.gcm(salt)
	if err != nil {
		return nil, err
	}
	return aead.Seal(head, nonce, data, nil), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if len(data) < len(sealMagic)+saltSize+nonceSize+tagSize || string(data[:len(sealMagic)]) != sealMagic {
		return nil, ErrNotSealed
	}
	salt := data[len(sealMagic) : len(sealMagic)+saltSize]
	nonce := data[len(sealMagic)+saltSize : len(sealMagic)+saltSize+nonceSize]
	aead, err := s.gcm(salt)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, data[len(sealMagic)+saltSize+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}

func (s *Sealer) seal(data []byte) ([]byte, error) {
	if s == nil {
		return data, nil
	}
	return s.Seal(data)
}

func (s *Sealer) open(data []byte) ([]byte, error) {
	if s == nil {
		return data, nil
	}
	return s.Open(data)
}
