package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/audit"
	"github.com/ziadkadry99/flowtrace/internal/correlate"
	"github.com/ziadkadry99/flowtrace/internal/db"
	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
	"github.com/ziadkadry99/flowtrace/internal/retention"
	"github.com/ziadkadry99/flowtrace/internal/scheduler"
	"github.com/ziadkadry99/flowtrace/internal/store"
	"github.com/ziadkadry99/flowtrace/internal/understand"
)

var now = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	pipeline *Pipeline
	browser  *store.Store
	analysis *understand.Store
	trail    *audit.Store
	dir      string
}

func setup(t *testing.T, mutate func(*retention.Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	browser, err := store.OpenMemory(store.Browser)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { browser.Close() })
	base := now.Add(-10 * time.Minute)
	err = browser.Insert(ctx, []event.Event{
		{Kind: event.KindNavigation, Timestamp: base, SessionID: "s1", Payload: event.Navigation{URL: "https://portal.example.com/queue"}},
		{Kind: event.KindElementInteraction, Timestamp: base.Add(time.Second), SessionID: "s1", Payload: event.Interaction{Action: "click", ElementID: "claimBtn"}},
		{Kind: event.KindElementInteraction, Timestamp: base.Add(2 * time.Second), SessionID: "s1", Payload: event.Interaction{Action: "submit", ElementTag: "form"}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	analysisDB, err := db.OpenMemory(db.AnalysisSchema)
	if err != nil {
		t.Fatalf("OpenMemory analysis: %v", err)
	}
	t.Cleanup(func() { analysisDB.Close() })
	analysis := understand.NewStore(analysisDB)
	trail := audit.NewStore(analysisDB)

	dir := t.TempDir()
	corr := correlate.New([]correlate.Source{browser}, correlate.WithLogger(logger))

	cfg := retention.DefaultConfig()
	cfg.ExportDir = filepath.Join(dir, "exports")
	cfg.MediaDir = filepath.Join(dir, "media")
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := retention.New(cfg, []retention.Store{browser},
		retention.WithCorrelator(corr),
		retention.WithAnalysis(analysis),
		retention.WithAudit(trail),
		retention.WithClock(scheduler.NewFakeClock(now)),
		retention.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("retention.New: %v", err)
	}

	gen := prototype.NewGenerator(filepath.Join(dir, "prototypes"),
		prototype.WithCorrelator(corr),
		prototype.WithRegistry(prototype.NewRegistry(analysisDB)),
		prototype.WithAudit(trail),
		prototype.WithLogger(logger),
	)

	return &fixture{
		pipeline: &Pipeline{
			Correlator: corr,
			Engine:     understand.New(understand.DefaultRules()),
			Analysis:   analysis,
			Generator:  gen,
			Retention:  mgr,
			Audit:      trail,
			Logger:     logger,
		},
		browser:  browser,
		analysis: analysis,
		trail:    trail,
		dir:      dir,
	}
}

func (f *fixture) audited(t *testing.T, action audit.Action) int {
	t.Helper()
	entries, err := f.trail.Query(context.Background(), audit.QueryFilter{Action: action})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return len(entries)
}

func TestProcessAllStages(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	out, err := f.pipeline.Process(ctx, "s1", Options{
		Understand: true,
		Prototype:  true,
		Mode:       prototype.ModeCursor,
		Title:      "Claim work item",
		Export:     true,
		Retain:     true,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Errors) != 0 {
		t.Fatalf("Errors = %+v", out.Errors)
	}
	if out.Events != 3 {
		t.Errorf("Events = %d, want 3", out.Events)
	}
	if out.Understanding == nil || len(out.Understanding.Intents) != 3 {
		t.Errorf("Understanding = %+v", out.Understanding)
	}
	stored, err := f.analysis.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stored.Intents) != 3 {
		t.Errorf("stored intents = %d, want 3", len(stored.Intents))
	}
	if out.Bundle == nil {
		t.Fatal("no bundle")
	}
	if _, err := os.Stat(filepath.Join(out.Bundle.Dir, prototype.ScriptFile)); err != nil {
		t.Errorf("script missing: %v", err)
	}
	if out.Export == nil || out.Retention == nil {
		t.Fatalf("export = %v, retention = %v", out.Export, out.Retention)
	}
	if len(out.Retention.SessionsPurged) != 0 {
		t.Errorf("recent session purged: %v", out.Retention.SessionsPurged)
	}

	for _, action := range []audit.Action{audit.ActionAnalysisStored, audit.ActionPrototypeGenerated, audit.ActionSessionExported} {
		if n := f.audited(t, action); n != 1 {
			t.Errorf("%s entries = %d, want 1", action, n)
		}
	}
}

func TestProcessNotFound(t *testing.T) {
	f := setup(t, nil)
	out, err := f.pipeline.Process(context.Background(), "missing", Options{Understand: true, Export: true})
	if !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if out != nil {
		t.Errorf("outcome = %+v, want nil", out)
	}
}

func TestRetentionRequiresExport(t *testing.T) {
	f := setup(t, nil)
	out, err := f.pipeline.Process(context.Background(), "s1", Options{Retain: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.Failed(StageRetention) || out.Retention != nil {
		t.Errorf("retention should be skipped without export: %+v", out)
	}
}

func TestStageFailureKeepsEarlierWork(t *testing.T) {
	f := setup(t, func(c *retention.Config) {
		c.ExportDir = filepath.Join(c.MediaDir, "..", "blocked", "exports")
	})
	// A regular file where the export directory's parent should be.
	if err := os.WriteFile(filepath.Join(f.dir, "blocked"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := f.pipeline.Process(context.Background(), "s1", Options{
		Understand: true,
		Prototype:  true,
		Mode:       prototype.ModeCursor,
		Export:     true,
		Retain:     true,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.Failed(StageExport) || !out.Failed(StageRetention) {
		t.Errorf("Errors = %+v, want export failure and skipped retention", out.Errors)
	}
	if out.Failed(StageUnderstand) || out.Failed(StagePrototype) {
		t.Errorf("earlier stages should succeed: %+v", out.Errors)
	}
	if _, err := f.analysis.Load(context.Background(), "s1"); err != nil {
		t.Errorf("analysis should stay stored: %v", err)
	}
	if n, err := f.browser.BySession(context.Background(), "s1"); err != nil || len(n) != 3 {
		t.Errorf("session rows = %d, %v", len(n), err)
	}
}

func TestMissingComponentsAreReported(t *testing.T) {
	p := &Pipeline{Correlator: setup(t, nil).pipeline.Correlator}
	out, err := p.Process(context.Background(), "s1", Options{Understand: true, Prototype: true, Export: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for _, stage := range []string{StageUnderstand, StagePrototype, StageExport} {
		if !out.Failed(stage) {
			t.Errorf("stage %s should report a missing component", stage)
		}
	}
}
