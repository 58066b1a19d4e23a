package retention

import (
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// Sealer wraps an export stream so that only its intended readers can
// open it. The manager treats it as opaque.
type Sealer interface {
	// Seal returns a writer whose output goes to w. Closing it flushes
	// the sealed stream but does not close w.
	Seal(w io.Writer) (io.WriteCloser, error)
	// Suffix is appended to the sealed file's name.
	Suffix() string
}

// AgeSealer encrypts export streams to age X25519 recipients.
type AgeSealer struct {
	recipients []age.Recipient
}

// NewAgeSealer parses recipient public keys in age1... form. At least one
// recipient is required.
func NewAgeSealer(keys []string) (*AgeSealer, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}
	return &AgeSealer{recipients: recipients}, nil
}

// Seal implements Sealer.
func (s *AgeSealer) Seal(w io.Writer) (io.WriteCloser, error) {
	wc, err := age.Encrypt(w, s.recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	return wc, nil
}

// Suffix implements Sealer.
func (s *AgeSealer) Suffix() string { return ".age" }
