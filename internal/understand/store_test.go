package understand

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/db"
	"github.com/ziadkadry99/flowtrace/internal/event"
)

func setupTestStore(t *testing.T) (*Store, *db.DB) {
	t.Helper()
	d, err := db.OpenMemory(db.AnalysisSchema)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d), d
}

// dumpRows renders every analysis row of a session in a stable form.
func dumpRows(t *testing.T, d *db.DB, sessionID string) []string {
	t.Helper()
	queries := []string{
		`SELECT event_ref, category, description, confidence FROM intent_classifications WHERE session_id = ?`,
		`SELECT event_ref, tag_type, value, confidence FROM context_tags WHERE session_id = ?`,
		`SELECT source_ref, target_ref, kind, strength FROM dependency_edges WHERE session_id = ?`,
		`SELECT segment_index, start_index, end_index, signature FROM workflow_segments WHERE session_id = ?`,
		`SELECT segment_index, category, description, confidence FROM goals WHERE session_id = ?`,
	}
	var out []string
	for qi, q := range queries {
		rows, err := d.Query(q, sessionID)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for rows.Next() {
			var a, b, c, e any
			if err := rows.Scan(&a, &b, &c, &e); err != nil {
				t.Fatalf("scan: %v", err)
			}
			out = append(out, fmt.Sprintf("%d|%v|%v|%v|%v", qi, a, b, c, e))
		}
		rows.Close()
	}
	sort.Strings(out)
	return out
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	res := New(DefaultRules()).Analyze("s1", loginScenario(time.Second))

	if err := s.Save(ctx, res); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, res) {
		t.Errorf("loaded result differs:\n got %+v\nwant %+v", got, res)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s, d := setupTestStore(t)
	ctx := context.Background()
	en := New(DefaultRules())
	events := loginScenario(time.Second)

	if err := s.Save(ctx, en.Analyze("s1", events)); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	first := dumpRows(t, d, "s1")
	if err := s.Save(ctx, en.Analyze("s1", events)); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	second := dumpRows(t, d, "s1")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("rows changed on re-store:\n%v\n%v", first, second)
	}
	if len(first) == 0 {
		t.Error("nothing stored")
	}
}

func TestSaveRemovesStaleRows(t *testing.T) {
	s, d := setupTestStore(t)
	ctx := context.Background()
	en := New(DefaultRules())

	wide := []event.Event{
		mk("a", 0, event.Navigation{URL: "https://one"}),
		mk("b", time.Second, event.Navigation{URL: "https://two"}),
		mk("c", 2*time.Second, event.Navigation{URL: "https://three"}),
	}
	if err := s.Save(ctx, en.Analyze("s1", wide)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	narrow := wide[:1]
	if err := s.Save(ctx, en.Analyze("s1", narrow)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh, freshDB := setupTestStore(t)
	if err := fresh.Save(ctx, en.Analyze("s1", narrow)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, want := dumpRows(t, d, "s1"), dumpRows(t, freshDB, "s1"); !reflect.DeepEqual(got, want) {
		t.Errorf("stale rows left behind:\n got %v\nwant %v", got, want)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	en := New(DefaultRules())
	shared := loginScenario(time.Second)

	if err := s.Save(ctx, en.Analyze("s1", shared)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, en.Analyze("s2", shared[:1])); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Intents) != 3 {
		t.Errorf("s1 lost rows after s2 was stored: %d intents", len(got.Intents))
	}
}

func TestLoadMissing(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.Load(context.Background(), "nope")
	if !errors.Is(err, event.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, New(DefaultRules()).Analyze("s1", loginScenario(time.Second))); err != nil {
		t.Fatal(err)
	}
	n, err := s.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if n == 0 {
		t.Error("nothing deleted")
	}
	if _, err := s.Load(ctx, "s1"); !errors.Is(err, event.ErrNotFound) {
		t.Errorf("rows remain after delete: %v", err)
	}
}
