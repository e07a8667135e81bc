// Package secrets encrypts the user profile at rest. The profile holds
// personal identity data (name, email, phone) that should not sit in
// plaintext next to the database.
//
// Keys are derived from a passphrase with Argon2id; sealing uses
// ChaCha20-Poly1305. The sealed blob is self-contained:
// salt || nonce || ciphertext.
package secrets

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sweepd/sweepd/internal/opportunity"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	keyLen       = chacha20poly1305.KeySize
	saltLen      = 32
)

// DeriveKey stretches a passphrase into a sealing key with Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
}

// Seal encrypts plaintext under the passphrase. The returned blob
// embeds the salt and nonce needed to open it.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secrets: salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: nonce: %w", err)
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. A wrong passphrase or a
// tampered blob fails authentication.
func Open(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("secrets: blob too short")
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	ciphertext := blob[saltLen+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: open: %w", err)
	}
	return plaintext, nil
}

// SaveProfile seals the profile to path with owner-only permissions.
func SaveProfile(path string, profile opportunity.Profile, passphrase string) error {
	plain, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("secrets: marshal profile: %w", err)
	}
	blob, err := Seal(plain, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("secrets: write profile: %w", err)
	}
	return nil
}

// LoadProfile opens a sealed profile file.
func LoadProfile(path, passphrase string) (opportunity.Profile, error) {
	var profile opportunity.Profile
	blob, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("secrets: read profile: %w", err)
	}
	plain, err := Open(blob, passphrase)
	if err != nil {
		return profile, err
	}
	if err := json.Unmarshal(plain, &profile); err != nil {
		return profile, fmt.Errorf("secrets: unmarshal profile: %w", err)
	}
	return profile, nil
}
