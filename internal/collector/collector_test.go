package collector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/privacy"
	"github.com/ziadkadry99/flowtrace/internal/scheduler"
	"github.com/ziadkadry99/flowtrace/internal/store"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]event.Event
	err     error
	panics  bool
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Insert(_ context.Context, events []event.Event) error {
	if f.panics {
		panic("disk on fire")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nav(url string) event.Event {
	return event.Event{Kind: event.KindNavigation, Payload: event.Navigation{URL: url}}
}

func TestRecordStartsSessionLazily(t *testing.T) {
	sink := &fakeSink{}
	clock := scheduler.NewFakeClock(t0)
	c := New(sink, WithClock(clock), WithLogger(quietLogger()))

	if c.SessionID() != "" {
		t.Fatal("session should not exist before the first record")
	}
	c.Record(nav("https://portal"))
	id := c.SessionID()
	if id == "" {
		t.Fatal("Record did not start a session")
	}
	c.Flush()

	if sink.count() != 1 {
		t.Fatalf("flushed %d events, want 1", sink.count())
	}
	got := sink.batches[0][0]
	if got.SessionID != id {
		t.Errorf("session id = %q, want %q", got.SessionID, id)
	}
	if !got.Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v, want clock time %v", got.Timestamp, t0)
	}
}

func TestConcurrentFirstRecordsShareOneSession(t *testing.T) {
	sink := &fakeSink{}
	c := New(sink, WithClock(scheduler.NewFakeClock(t0)), WithLogger(quietLogger()), WithBatchSize(1000))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Record(nav("https://portal"))
		}()
	}
	wg.Wait()
	c.Flush()

	if sink.count() != 64 {
		t.Fatalf("flushed %d events, want 64", sink.count())
	}
	ids := map[string]bool{}
	for _, b := range sink.batches {
		for _, e := range b {
			ids[e.SessionID] = true
		}
	}
	if len(ids) != 1 || !ids[c.SessionID()] {
		t.Errorf("session ids = %v, want only %q", ids, c.SessionID())
	}
}

func TestRecordKeepsOwnSessionAndTimestamp(t *testing.T) {
	sink := &fakeSink{}
	c := New(sink, WithLogger(quietLogger()))
	c.StartSession("primary")

	e := nav("x")
	e.SessionID = "minted-elsewhere"
	e.Timestamp = t0
	c.Record(e)
	c.StopSession()

	got := sink.batches[0][0]
	if got.SessionID != "minted-elsewhere" || !got.Timestamp.Equal(t0) {
		t.Errorf("event = %+v", got)
	}
	if c.SessionID() != "" {
		t.Error("StopSession should clear the session")
	}
}

func TestRecordIsNoOpWhilePaused(t *testing.T) {
	sink := &fakeSink{}
	c := New(sink, WithLogger(quietLogger()))
	c.Pause()
	c.Record(nav("x"))
	if c.Pending() != 0 || c.SessionID() != "" {
		t.Error("paused collector recorded an event")
	}
	c.Resume()
	c.Record(nav("y"))
	if c.Pending() != 1 {
		t.Errorf("pending = %d after resume", c.Pending())
	}
}

func TestBatchFlushesAtSize(t *testing.T) {
	sink := &fakeSink{}
	c := New(sink, WithBatchSize(3), WithLogger(quietLogger()))
	c.StartSession("s")
	for i := 0; i < 7; i++ {
		c.Record(nav("x"))
	}
	if len(sink.batches) != 2 {
		t.Errorf("wrote %d batches, want 2", len(sink.batches))
	}
	if c.Pending() != 1 {
		t.Errorf("pending = %d, want 1", c.Pending())
	}
}

func TestFailuresAreSwallowed(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	failing := &fakeSink{err: errors.New("database is locked")}
	c := New(failing, WithBatchSize(1), WithLogger(logger))
	c.Record(nav("x"))
	if c.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", c.Dropped())
	}
	if !strings.Contains(logs.String(), "database is locked") {
		t.Errorf("failure not logged: %s", logs.String())
	}

	panicking := &fakeSink{panics: true}
	c = New(panicking, WithBatchSize(1), WithLogger(logger))
	c.Record(nav("x")) // must not panic
	if !strings.Contains(logs.String(), "panic recovered") {
		t.Error("panic not logged")
	}

	c.Record(event.Event{Kind: event.KindNavigation})
}

func TestRecordHashesSensitiveValues(t *testing.T) {
	h, err := privacy.NewHasher(bytes.Repeat([]byte{7}, privacy.KeySize))
	if err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	c := New(sink, WithHasher(h), WithLogger(quietLogger()))
	c.Record(event.Event{Kind: event.KindElementInteraction, Payload: event.Interaction{
		Action: "input", ElementTag: "input", ElementValue: "jane.doe",
	}})
	c.Flush()

	p := sink.batches[0][0].Payload.(event.Interaction)
	if p.ElementValue == "jane.doe" || !strings.HasPrefix(p.ElementValue, privacy.Prefix) {
		t.Errorf("value not hashed: %q", p.ElementValue)
	}
	if p.ElementTag != "input" {
		t.Errorf("tag changed: %q", p.ElementTag)
	}
}

func TestCollectorWritesToStore(t *testing.T) {
	st, err := store.OpenMemory(store.Browser)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	c := New(st, WithClock(scheduler.NewFakeClock(t0)), WithLogger(quietLogger()))
	id := c.StartSession("")
	c.Record(nav("https://portal/login"))
	c.Record(event.Event{Kind: event.KindElementInteraction, Payload: event.Interaction{Action: "click"}})
	c.StopSession()

	got, err := st.BySession(context.Background(), id)
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("stored %d events, want 2", len(got))
	}
}

func TestSet(t *testing.T) {
	b, _ := store.OpenMemory(store.Browser)
	d, _ := store.OpenMemory(store.Desktop)
	defer b.Close()
	defer d.Close()

	set := NewSet([]*store.Store{b, d}, WithLogger(quietLogger()))
	if names := set.Names(); len(names) != 2 || names[0] != "browser" || names[1] != "desktop" {
		t.Errorf("names = %v", names)
	}
	if err := set.Accepts("browser", event.KindNavigation); err != nil {
		t.Errorf("browser should accept navigation: %v", err)
	}
	if err := set.Accepts("browser", event.KindKeystroke); err == nil {
		t.Error("browser should reject keystrokes")
	}
	if err := set.Accepts("nope", event.KindKeystroke); err == nil {
		t.Error("unknown collector accepted")
	}
}

func TestLogTailer(t *testing.T) {
	st, err := store.OpenMemory(store.AppLog)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")
	if err := os.WriteFile(path, []byte("2024-03-04 08:00:00 - INFO - history\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(st, WithLogger(quietLogger()))
	tailer := NewLogTailer([]string{filepath.Join(dir, "*.log")}, c, quietLogger())
	ctx := context.Background()

	if err := tailer.Poll(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("2024-03-04 09:00:01 - INFO - queue opened\n")
	f.Close()
	if err := os.WriteFile(filepath.Join(dir, "new.log"), []byte("2024-03-04 09:00:02 - ERROR - new bot\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tailer.Poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	got, err := st.InWindow(ctx, t0.Add(-2*time.Hour), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("InWindow: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("stored %d lines, want 2 (history skipped)", len(got))
	}
	if msg := got[0].Payload.(event.AppLog).Message; msg != "queue opened" {
		t.Errorf("first line = %q", msg)
	}
	if src := got[1].Payload.(event.AppLog).SourceName; src != "new.log" {
		t.Errorf("source = %q", src)
	}
}
