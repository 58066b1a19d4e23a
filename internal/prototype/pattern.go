// Package prototype turns a correlated session, or a recurring pattern of
// actions, into an automation bundle: a script skeleton, a JSON summary, an
// optional build prompt and an optional analysis report.
package prototype

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"github.com/ziadkadry99/flowtrace/internal/event"
)

// Mode selects which optional artifacts a generation run produces.
type Mode string

const (
	ModeCursor Mode = "cursor"
	ModeGPT    Mode = "gpt"
	ModeBoth   Mode = "both"
)

// ParseMode maps a user-supplied mode name to a Mode. Unknown or empty
// values select ModeBoth.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeCursor:
		return ModeCursor
	case ModeGPT:
		return ModeGPT
	default:
		return ModeBoth
	}
}

// WantsPrompt reports whether m produces the build prompt.
func (m Mode) WantsPrompt() bool { return m == ModeCursor || m == ModeBoth }

// WantsReport reports whether m asks the summarizer for a report.
func (m Mode) WantsReport() bool { return m == ModeGPT || m == ModeBoth }

// Pattern is a sequence of actions to turn into a bundle. A pattern
// extracted from many sessions carries its recurrence stats; a single
// session yields a pattern with Frequency 1 keyed by the session id.
type Pattern struct {
	Key         string        `json:"key"`
	ActionType  string        `json:"action_type,omitempty"`
	Frequency   int           `json:"frequency"`
	FirstSeen   time.Time     `json:"first_seen"`
	LastSeen    time.Time     `json:"last_seen"`
	DisplayName string        `json:"display_name,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
	Events      []event.Event `json:"events"`
}

// ActionSignature lists the "<kind>:<action>" steps of events in order.
func ActionSignature(events []event.Event) []string {
	sig := make([]string, 0, len(events))
	for _, e := range events {
		action := ""
		if e.Payload != nil {
			action = strings.ToLower(e.Payload.Fields().Action)
		}
		sig = append(sig, string(e.Kind)+":"+action)
	}
	return sig
}

// PatternKey is the BLAKE3-256 hex digest of the action signature. Two
// runs of the same sequence of actions share a key regardless of the
// values typed or the pages visited.
func PatternKey(events []event.Event) string {
	sum := blake3.Sum256([]byte(strings.Join(ActionSignature(events), "\n")))
	return hex.EncodeToString(sum[:])
}

// normalize fills the derived fields of p.
func (p Pattern) normalize() Pattern {
	if p.Key == "" {
		p.Key = PatternKey(p.Events)
	}
	if p.Frequency <= 0 {
		p.Frequency = 1
	}
	if p.FirstSeen.IsZero() || p.LastSeen.IsZero() {
		for _, e := range p.Events {
			if e.Malformed() {
				continue
			}
			if p.FirstSeen.IsZero() || e.Timestamp.Before(p.FirstSeen) {
				p.FirstSeen = e.Timestamp
			}
			if p.LastSeen.IsZero() || e.Timestamp.After(p.LastSeen) {
				p.LastSeen = e.Timestamp
			}
		}
	}
	if p.ActionType == "" {
		for _, e := range p.Events {
			if e.Payload == nil {
				continue
			}
			if a := strings.TrimSpace(e.Payload.Fields().Action); a != "" {
				p.ActionType = a
			}
			break
		}
	}
	return p
}

// dirName maps a key to a safe single path element.
func dirName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return "_"
	}
	return name
}
