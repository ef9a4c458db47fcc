// Package sealbox seals small records with NaCl secretbox under a 32 byte key.
package sealbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jrsteele09/go-account-manager/internal/atomicwrite"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Key is a secretbox key.
type Key [keySize]byte

// ParseKey decodes a base64 encoded 32 byte key.
func ParseKey(encoded string) (*Key, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("key must decode to %d bytes, got %d", keySize, len(raw))
	}
	var k Key
	copy(k[:], raw)
	return &k, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() (*Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &k, nil
}

// String returns the base64 form accepted by ParseKey.
func (k *Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// LoadOrCreateKey reads a key file, creating it with a random key when it does not exist.
func LoadOrCreateKey(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseKey(string(data))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	k, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := atomicwrite.WriteFile(path, []byte(k.String()), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return k, nil
}

// Seal encrypts plaintext and returns base64(nonce || box).
func Seal(key *Key, plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, (*[keySize]byte)(key))
	return base64.StdEncoding.EncodeToString(box), nil
}

// Open reverses Seal.
func Open(key *Key, sealed string) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, errors.New("record too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plaintext, ok := secretbox.Open(nil, box[nonceSize:], &nonce, (*[keySize]byte)(key))
	if !ok {
		return nil, errors.New("record authentication failed")
	}
	return plaintext, nil
}
