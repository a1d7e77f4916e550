package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"creator-dm-backend/internal/apperrors"
)

// Unreadable is returned by Open when a stored body cannot be decrypted.
// The read path degrades to this sentinel instead of failing the request.
const Unreadable = "[unreadable]"

// Envelope encrypts message bodies at rest with a process-wide AEAD key.
// The nonce travels inside the encoded blob; the key itself is never
// persisted next to the ciphertext.
type Envelope struct {
	key []byte
}

// NewEnvelope builds an envelope from a hex-encoded 32-byte key.
func NewEnvelope(hexKey string) (*Envelope, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCrypto, "envelope key is not valid hex", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, apperrors.New(apperrors.CodeCrypto,
			fmt.Sprintf("envelope key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key)))
	}
	return &Envelope{key: key}, nil
}

// Seal encrypts plaintext and returns a base64 blob of nonce||ciphertext.
func (e *Envelope) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(e.key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCrypto, "failed to build cipher", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", apperrors.Wrap(apperrors.CodeCrypto, "failed to generate nonce", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal. It fails closed: any decode or
// integrity failure yields the Unreadable sentinel, never an error, so a
// corrupted row cannot take down the read path.
func (e *Envelope) Open(encoded string) string {
	aead, err := chacha20poly1305.New(e.key)
	if err != nil {
		return Unreadable
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(sealed) < aead.NonceSize() {
		return Unreadable
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Unreadable
	}
	return string(plaintext)
}

// HashContent returns a hex sha256 fingerprint of uploaded bytes, used for
// dedup and audit of blobs. Not security critical.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
