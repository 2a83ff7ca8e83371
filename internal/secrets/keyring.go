// Package secrets seals personal provider credentials at rest with
// versioned AES-256-GCM keys, so keys can be rotated without losing access
// to credentials sealed under older versions.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Keyring holds one sealing key per version. The highest version is the
// current one; retired versions remain readable for re-sealing.
type Keyring struct {
	current int
	keys    map[int][]byte
}

// ParseKeyring parses a "version:base64key" comma list, e.g.
// "2:newkey,1:oldkey". Keys must decode to 32 bytes.
func ParseKeyring(spec string) (*Keyring, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New("empty keyring spec")
	}

	kr := &Keyring{keys: make(map[int][]byte)}
	for _, part := range strings.Split(spec, ",") {
		version, b64, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found {
			return nil, fmt.Errorf("malformed keyring part %q", part)
		}
		v, err := strconv.Atoi(version)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid key version %q", version)
		}
		key, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode key version %d: %w", v, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key version %d must be 32 bytes, got %d", v, len(key))
		}
		if _, dup := kr.keys[v]; dup {
			return nil, fmt.Errorf("duplicate key version %d", v)
		}
		kr.keys[v] = key
		if v > kr.current {
			kr.current = v
		}
	}
	return kr, nil
}

// CurrentVersion returns the version new seals are written under.
func (kr *Keyring) CurrentVersion() int { return kr.current }

// IsRetired reports whether version is older than the current key.
func (kr *Keyring) IsRetired(version int) bool { return version != kr.current }

func (kr *Keyring) aead(version int) (cipher.AEAD, error) {
	key, ok := kr.keys[version]
	if !ok {
		return nil, fmt.Errorf("unknown key version %d", version)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under the current key. The nonce is prepended to
// the returned ciphertext.
func (kr *Keyring) Seal(plaintext string) ([]byte, int, error) {
	aead, err := kr.aead(kr.current)
	if err != nil {
		return nil, 0, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, 0, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), kr.current, nil
}

// Open decrypts a ciphertext sealed under the given key version.
func (kr *Keyring) Open(ciphertext []byte, version int) (string, error) {
	aead, err := kr.aead(version)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < aead.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed credential: %w", err)
	}
	return string(plaintext), nil
}
