package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required master key length in bytes.
const KeySize = chacha20poly1305.KeySize

// ErrDecrypt is returned when a ciphertext cannot be decrypted: unknown key
// id, malformed blob, or authentication failure. Decryption fails closed and
// never returns partial plaintext.
var ErrDecrypt = errors.New("crypto: decryption failed")

// Engine encrypts and decrypts token material with XChaCha20-Poly1305.
// Ciphertext is stored as "keyID:base64url(nonce||ciphertext||tag)" so that
// retired keys stay decryptable after rotation; every encryption uses the
// active key, migrating records lazily on their next write.
type Engine struct {
	activeID string
	aeads    map[string]cipher.AEAD
}

// NewEngine builds an engine from the active key and any retired keys.
// All keys must be exactly 32 bytes.
func NewEngine(activeID string, activeKey []byte, retired map[string][]byte) (*Engine, error) {
	if activeID == "" {
		return nil, fmt.Errorf("crypto: active key id must not be empty")
	}
	if strings.Contains(activeID, ":") {
		return nil, fmt.Errorf("crypto: key id %q must not contain ':'", activeID)
	}

	aeads := make(map[string]cipher.AEAD, len(retired)+1)

	aead, err := newAEAD(activeKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: active key %q: %w", activeID, err)
	}
	aeads[activeID] = aead

	for id, key := range retired {
		if id == activeID {
			return nil, fmt.Errorf("crypto: retired key id %q collides with active key", id)
		}
		if strings.Contains(id, ":") {
			return nil, fmt.Errorf("crypto: key id %q must not contain ':'", id)
		}
		aead, err := newAEAD(key)
		if err != nil {
			return nil, fmt.Errorf("crypto: retired key %q: %w", id, err)
		}
		aeads[id] = aead
	}

	return &Engine{activeID: activeID, aeads: aeads}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return chacha20poly1305.NewX(key)
}

// ActiveKeyID returns the id the next Encrypt call will use.
func (e *Engine) ActiveKeyID() string {
	return e.activeID
}

// Encrypt seals plaintext under the active key with a fresh random nonce.
func (e *Engine) Encrypt(plaintext string) (string, error) {
	aead := e.aeads[e.activeID]

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return e.activeID + ":" + base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt, dispatching on its key id.
func (e *Engine) Decrypt(blob string) (string, error) {
	keyID, encoded, ok := strings.Cut(blob, ":")
	if !ok {
		return "", fmt.Errorf("%w: missing key id", ErrDecrypt)
	}

	aead, ok := e.aeads[keyID]
	if !ok {
		return "", fmt.Errorf("%w: unknown key id %q", ErrDecrypt, keyID)
	}

	sealed, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecrypt)
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}

	return string(plaintext), nil
}
