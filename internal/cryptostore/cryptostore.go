// Package cryptostore implements encryption at rest for the security layer.
// Payloads are encrypted with AES-256-GCM under a master key derived from
// the device passphrase via Argon2id; one-way secrets are hashed with
// salted PBKDF2 and verified in constant time.
package cryptostore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/aegis-security/aegis/internal/kvstore"
)

const (
	keyLen   = 32
	nonceLen = 12 // AES-256-GCM standard nonce size
	saltLen  = 32

	// Argon2id parameters: m=64MB, t=3, p=4
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4

	// PBKDF2 parameters for one-way secret hashing
	hashIterations = 10000
	hashSaltLen    = 16
	hashKeyLen     = 32
)

// ErrDecryption marks a blob that is corrupt or was produced under a
// different key. Callers treat it as "data unavailable", never fatal.
var ErrDecryption = errors.New("decryption failed")

// Store encrypts payloads and persists ciphertext through a key-value store.
type Store struct {
	key []byte // 256-bit master key, held in memory only
	kv  kvstore.Store
	log zerolog.Logger
}

// New creates a Store with the given 256-bit key. A missing or wrong-size
// key is a hard error: the subsystem must not initialize without one.
func New(key []byte, kv kvstore.Store, log zerolog.Logger) (*Store, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keyLen, len(key))
	}
	k := make([]byte, keyLen)
	copy(k, key)
	return &Store{key: k, kv: kv, log: log}, nil
}

// DeriveKey derives a 256-bit master key from a passphrase and salt using
// Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey(
		[]byte(passphrase),
		salt,
		argonTime,
		argonMemory,
		argonThreads,
		keyLen,
	)
}

// GenerateSalt returns a fresh random salt for key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext under the master key. Output is
// base64(nonce || ciphertext+tag). Never fails for valid UTF-8 input short
// of an exhausted entropy source.
func (s *Store) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Returns ErrDecryption when the
// blob is corrupt or was sealed under a different key.
func (s *Store) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding blob: %w", ErrDecryption)
	}
	if len(raw) < nonceLen {
		return "", fmt.Errorf("blob too short: %w", ErrDecryption)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, raw[:nonceLen], raw[nonceLen:], nil)
	if err != nil {
		return "", fmt.Errorf("opening blob: %w", ErrDecryption)
	}
	return string(plaintext), nil
}

// HashSecret hashes a one-way secret with a fresh salt. Stored form is
// hex(salt):hex(hash).
func HashSecret(secret string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating hash salt: %w", err)
	}
	return HashSecretWithSalt(secret, salt), nil
}

// HashSecretWithSalt hashes a secret under a caller-provided salt.
func HashSecretWithSalt(secret string, salt []byte) string {
	sum := pbkdf2.Key([]byte(secret), salt, hashIterations, hashKeyLen, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sum)
}

// VerifyHash recomputes the hash with the embedded salt and compares in
// constant time.
func VerifyHash(secret, stored string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(secret), salt, hashIterations, hashKeyLen, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Persist JSON-serializes v, encrypts it, and writes it under key.
func (s *Store) Persist(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %q: %w", key, err)
	}
	blob, err := s.Encrypt(string(data))
	if err != nil {
		return fmt.Errorf("encrypting %q: %w", key, err)
	}
	if err := s.kv.Set(key, blob); err != nil {
		return fmt.Errorf("storing %q: %w", key, err)
	}
	return nil
}

// Load reads, decrypts, and unmarshals the value under key into out.
// Missing keys, decryption failures, and storage errors all report false
// (no data) and are logged; they never surface to the caller.
func (s *Store) Load(key string, out any) bool {
	blob, found, err := s.kv.Get(key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("storage read failed")
		return false
	}
	if !found {
		return false
	}
	plain, err := s.Decrypt(blob)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("stored blob unreadable, treating as absent")
		return false
	}
	if err := json.Unmarshal([]byte(plain), out); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("stored payload malformed, treating as absent")
		return false
	}
	return true
}

// Remove deletes the value under key.
func (s *Store) Remove(key string) error {
	return s.kv.Remove(key)
}

// Close zeroes the master key.
func (s *Store) Close() {
	for i := range s.key {
		s.key[i] = 0
	}
}
