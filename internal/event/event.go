package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SourceKind identifies the collector family an event came from.
type SourceKind string

const (
	KindNavigation         SourceKind = "navigation"
	KindElementInteraction SourceKind = "element_interaction"
	KindKeystroke          SourceKind = "keystroke"
	KindMouse              SourceKind = "mouse"
	KindSpreadsheet        SourceKind = "spreadsheet"
	KindDocument           SourceKind = "document"
	KindApplicationLog     SourceKind = "application_log"
	KindScreenFrame        SourceKind = "screen_frame"
)

// Kinds lists every known source kind in a stable order.
var Kinds = []SourceKind{
	KindNavigation,
	KindElementInteraction,
	KindKeystroke,
	KindMouse,
	KindSpreadsheet,
	KindDocument,
	KindApplicationLog,
	KindScreenFrame,
}

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is a single immutable timestamped observation from one collector.
type Event struct {
	// Ref is the natural key of the event inside its store, e.g.
	// "browser/navigation/42" or "logfile:/var/log/bot.log:17".
	Ref string
	// Seq is the insertion order within the originating table.
	Seq int64
	// Timestamp is zero when RawTimestamp could not be parsed.
	Timestamp    time.Time
	RawTimestamp string
	Kind         SourceKind
	SessionID    string
	Payload      Payload
}

// Malformed reports whether the event has no usable timestamp.
func (e Event) Malformed() bool {
	return e.Timestamp.IsZero()
}

// SortByTime orders events by timestamp, keeping the existing order on
// ties. Events without a usable timestamp go last.
func SortByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Malformed() || b.Malformed() {
			return !a.Malformed() && b.Malformed()
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}

// Session is one bounded episode of activity. It has no authoritative
// record; its bounds are derived from the events that carry its ID.
type Session struct {
	ID            string    `json:"session_id"`
	InferredStart time.Time `json:"inferred_start"`
	InferredEnd   time.Time `json:"inferred_end"`
}

type wireEvent struct {
	Ref       string          `json:"ref,omitempty"`
	Timestamp string          `json:"timestamp"`
	Kind      SourceKind      `json:"source_kind"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event with its payload inlined under "payload".
func (e Event) MarshalJSON() ([]byte, error) {
	payload := []byte("{}")
	if e.Payload != nil {
		var err error
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshalling %s payload: %w", e.Kind, err)
		}
	}
	ts := e.RawTimestamp
	if !e.Timestamp.IsZero() {
		ts = FormatTimestamp(e.Timestamp)
	}
	return json.Marshal(wireEvent{
		Ref:       e.Ref,
		Timestamp: ts,
		Kind:      e.Kind,
		SessionID: e.SessionID,
		Payload:   payload,
	})
}

// UnmarshalJSON decodes an event written by MarshalJSON or posted by an
// external collector. An unparsable timestamp is kept raw, not rejected.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Kind, w.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		Ref:          w.Ref,
		RawTimestamp: w.Timestamp,
		Kind:         w.Kind,
		SessionID:    w.SessionID,
		Payload:      payload,
	}
	if w.Timestamp != "" {
		if ts, err := ParseTimestamp(w.Timestamp); err == nil {
			e.Timestamp = ts
		}
	}
	return nil
}
