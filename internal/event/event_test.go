package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 10, 15, 30, 123000000, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-05T10:15:30.123Z", want},
		{"2024-03-05T10:15:30.123000Z", want},
		{"2024-03-05 10:15:30.123", want},
		{"2024-03-05 10:15:30,123", want},
		{"2024-03-05T10:15:30", want.Truncate(time.Second)},
		{"2024-03-05T12:15:30.123+02:00", want},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2024-13-45"} {
		if _, err := ParseTimestamp(in); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("ParseTimestamp(%q) error = %v, want ErrMalformedEvent", in, err)
		}
	}
}

func TestFormatTimestampIsLexicallyOrdered(t *testing.T) {
	a := time.Date(2024, 1, 1, 9, 59, 59, 999999000, time.UTC)
	b := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !(FormatTimestamp(a) < FormatTimestamp(b)) {
		t.Errorf("%s should sort before %s", FormatTimestamp(a), FormatTimestamp(b))
	}
	if got := len(FormatTimestamp(a)); got != len(FormatTimestamp(b)) {
		t.Errorf("formatted widths differ: %d vs %d", got, len(FormatTimestamp(b)))
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	in := Event{
		Ref:       "browser/interaction/7",
		Timestamp: ts,
		Kind:      KindElementInteraction,
		SessionID: "s-1",
		Payload:   Interaction{Action: "click", ElementTag: "button", ElementID: "loginBtn"},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, ts)
	}
	p, ok := out.Payload.(Interaction)
	if !ok {
		t.Fatalf("payload type = %T, want Interaction", out.Payload)
	}
	if p.ElementID != "loginBtn" {
		t.Errorf("element_id = %q, want loginBtn", p.ElementID)
	}
}

func TestUnmarshalKeepsMalformedTimestamp(t *testing.T) {
	var e Event
	err := json.Unmarshal([]byte(`{"timestamp":"not-a-time","source_kind":"keystroke","payload":{"key":"a"}}`), &e)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !e.Malformed() {
		t.Error("expected event to be malformed")
	}
	if e.RawTimestamp != "not-a-time" {
		t.Errorf("raw timestamp = %q", e.RawTimestamp)
	}
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	_, err := DecodePayload("telepathy", json.RawMessage(`{}`))
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("error = %v, want ErrMalformedEvent", err)
	}
}

func TestPayloadKinds(t *testing.T) {
	payloads := []Payload{
		Navigation{}, Interaction{}, Keystroke{}, Mouse{},
		Spreadsheet{}, Document{}, AppLog{}, ScreenFrame{},
	}
	if len(payloads) != len(Kinds) {
		t.Fatalf("got %d payload variants for %d kinds", len(payloads), len(Kinds))
	}
	for i, p := range payloads {
		if p.Kind() != Kinds[i] {
			t.Errorf("payload %T kind = %q, want %q", p, p.Kind(), Kinds[i])
		}
	}
}

func TestPersistenceErrorUnwrap(t *testing.T) {
	base := errors.New("disk full")
	err := error(&PersistenceError{Store: "browser", Op: "insert", Err: base})
	if !errors.Is(err, base) {
		t.Error("PersistenceError should unwrap to its cause")
	}
}
