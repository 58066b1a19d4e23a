// Package privacy hashes identifying values before collectors store them.
// Hashes are BLAKE3 keyed over a per-installation secret, so equal inputs
// stay comparable inside one installation without being reversible.
package privacy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/ziadkadry99/flowtrace/internal/event"
)

// KeySize is the length of the installation secret in bytes.
const KeySize = 32

// Prefix marks a hashed value.
const Prefix = "h:"

// Hasher applies a keyed one-way hash to sensitive payload fields.
type Hasher struct {
	key [KeySize]byte
}

// NewHasher creates a Hasher from a 32-byte secret.
func NewHasher(secret []byte) (*Hasher, error) {
	if len(secret) != KeySize {
		return nil, fmt.Errorf("installation secret must be %d bytes, got %d", KeySize, len(secret))
	}
	h := &Hasher{}
	copy(h.key[:], secret)
	return h, nil
}

// LoadOrCreateSecret reads the installation secret at path, generating and
// persisting a new one (mode 0600) when the file does not exist.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decoding installation secret %s: %w", path, err)
		}
		if len(secret) != KeySize {
			return nil, fmt.Errorf("installation secret %s has %d bytes, want %d", path, len(secret), KeySize)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading installation secret: %w", err)
	}

	secret := make([]byte, KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating installation secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating secret directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return nil, fmt.Errorf("writing installation secret: %w", err)
	}
	return secret, nil
}

// Hash returns the keyed hash of s. Empty and already-hashed values are
// returned unchanged.
func (h *Hasher) Hash(s string) string {
	if s == "" || strings.HasPrefix(s, Prefix) {
		return s
	}
	hasher, err := blake3.NewKeyed(h.key[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length, which NewHasher rules out.
		panic("privacy: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(s))
	sum := hasher.Sum(nil)
	return Prefix + hex.EncodeToString(sum[:16])
}

// Redact returns a copy of p with identifying values hashed. Structural
// fields (element tag, action, event type, named keys) are left in clear
// text so pattern matching keeps working.
func (h *Hasher) Redact(p event.Payload) event.Payload {
	switch v := p.(type) {
	case event.Interaction:
		v.ElementValue = h.Hash(v.ElementValue)
		return v
	case event.Spreadsheet:
		v.Value = h.Hash(v.Value)
		return v
	case event.Keystroke:
		if isTypedCharacter(v.Key) {
			v.Key = h.Hash(v.Key)
		}
		return v
	default:
		return p
	}
}

// isTypedCharacter reports whether key is a single printable character as
// opposed to a named key such as "Enter" or "Tab".
func isTypedCharacter(key string) bool {
	return utf8.RuneCountInString(key) == 1 && strings.TrimSpace(key) != ""
}
