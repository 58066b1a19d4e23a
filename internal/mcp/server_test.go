package mcp

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/flowtrace/internal/correlate"
	"github.com/ziadkadry99/flowtrace/internal/db"
	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/pipeline"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
	"github.com/ziadkadry99/flowtrace/internal/retention"
	"github.com/ziadkadry99/flowtrace/internal/scheduler"
	"github.com/ziadkadry99/flowtrace/internal/store"
	"github.com/ziadkadry99/flowtrace/internal/understand"
)

var now = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *understand.Store) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	browser, err := store.OpenMemory(store.Browser)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { browser.Close() })
	base := now.Add(-time.Hour)
	err = browser.Insert(ctx, []event.Event{
		{Kind: event.KindNavigation, Timestamp: base, SessionID: "s1", Payload: event.Navigation{URL: "https://portal.example.com/login"}},
		{Kind: event.KindElementInteraction, Timestamp: base.Add(time.Second), SessionID: "s1", Payload: event.Interaction{Action: "input", ElementName: "username"}},
		{Kind: event.KindElementInteraction, Timestamp: base.Add(2 * time.Second), SessionID: "s1", Payload: event.Interaction{Action: "click", ElementID: "signin"}},
		{Kind: event.KindNavigation, Timestamp: base.Add(time.Minute), SessionID: "s2", Payload: event.Navigation{URL: "https://portal.example.com/billing"}},
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

	dir := t.TempDir()
	corr := correlate.New([]correlate.Source{browser}, correlate.WithLogger(logger))
	cfg := retention.DefaultConfig()
	cfg.ExportDir = filepath.Join(dir, "exports")
	mgr, err := retention.New(cfg, []retention.Store{browser},
		retention.WithCorrelator(corr),
		retention.WithClock(scheduler.NewFakeClock(now)),
		retention.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("retention.New: %v", err)
	}

	p := &pipeline.Pipeline{
		Correlator: corr,
		Engine:     understand.New(understand.DefaultRules()),
		Analysis:   analysis,
		Generator: prototype.NewGenerator(filepath.Join(dir, "prototypes"),
			prototype.WithCorrelator(corr),
			prototype.WithRegistry(prototype.NewRegistry(analysisDB)),
			prototype.WithLogger(logger),
		),
		Retention: mgr,
		Logger:    logger,
	}
	return NewServer(p, logger), analysis
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		tool     mcp.Tool
		wantName string
	}{
		{listSessionsTool, "list_sessions"},
		{correlateSessionTool, "correlate_session"},
		{understandSessionTool, "understand_session"},
		{generatePrototypeTool, "generate_prototype"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			if tt.tool.Name != tt.wantName {
				t.Errorf("tool name = %q, want %q", tt.tool.Name, tt.wantName)
			}
			if tt.tool.Description == "" {
				t.Error("tool description should not be empty")
			}
		})
	}
}

func TestNewServer(t *testing.T) {
	srv := NewServer(nil, nil)
	if srv == nil || srv.mcp == nil {
		t.Fatal("MCP server not initialized")
	}
	if srv.pipeline == nil {
		t.Error("nil pipeline should be replaced with an empty one")
	}
}

func TestHandleListSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleListSessions(ctx, call(map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := textOf(t, result)
	if result.IsError || !strings.Contains(text, "2 session(s)") {
		t.Fatalf("unexpected result: %q", text)
	}
	// Most recent first.
	if strings.Index(text, "s2") > strings.Index(text, "s1") {
		t.Errorf("expected s2 before s1: %q", text)
	}

	result, _ = srv.handleListSessions(ctx, call(map[string]any{"limit": 1}))
	if text := textOf(t, result); strings.Contains(text, "- s1") {
		t.Errorf("limit 1 should list only s2: %q", text)
	}

	empty := NewServer(nil, nil)
	result, _ = empty.handleListSessions(ctx, call(nil))
	if !result.IsError {
		t.Error("expected tool error without stores")
	}
}

func TestHandleCorrelateSession(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		result, err := srv.handleCorrelateSession(ctx, call(map[string]any{"session_id": "s1"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		text := textOf(t, result)
		if result.IsError {
			t.Fatalf("unexpected tool error: %s", text)
		}
		if !strings.Contains(text, "Events: 3") || !strings.Contains(text, "browser: 3 by session id") {
			t.Errorf("unexpected text: %q", text)
		}
	})

	t.Run("limit", func(t *testing.T) {
		result, _ := srv.handleCorrelateSession(ctx, call(map[string]any{"session_id": "s1", "limit": 1}))
		if text := textOf(t, result); !strings.Contains(text, "... 2 more") {
			t.Errorf("expected truncation marker: %q", text)
		}
	})

	t.Run("not found", func(t *testing.T) {
		result, _ := srv.handleCorrelateSession(ctx, call(map[string]any{"session_id": "nope"}))
		if !result.IsError || !strings.Contains(textOf(t, result), "No events found") {
			t.Errorf("expected not-found tool error, got %q", textOf(t, result))
		}
	})

	t.Run("missing id", func(t *testing.T) {
		result, _ := srv.handleCorrelateSession(ctx, call(map[string]any{}))
		if !result.IsError {
			t.Error("expected error for missing session_id")
		}
	})
}

func TestHandleUnderstandSession(t *testing.T) {
	srv, analysis := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleUnderstandSession(ctx, call(map[string]any{"session_id": "s1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := textOf(t, result)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", text)
	}
	if !strings.Contains(text, "## Workflow segments") || !strings.Contains(text, "## Intents") {
		t.Errorf("unexpected text: %q", text)
	}

	// The first call stores the analysis.
	stored, err := analysis.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(stored.Intents) != 3 {
		t.Errorf("stored intents = %d, want 3", len(stored.Intents))
	}

	result, _ = srv.handleUnderstandSession(ctx, call(map[string]any{"session_id": "s1", "refresh": true}))
	if result.IsError {
		t.Errorf("refresh failed: %s", textOf(t, result))
	}

	result, _ = srv.handleUnderstandSession(ctx, call(map[string]any{"session_id": "nope"}))
	if !result.IsError {
		t.Error("expected error for unknown session")
	}
}

func TestHandleGeneratePrototype(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleGeneratePrototype(ctx, call(map[string]any{
		"session_id": "s1",
		"mode":       "cursor",
		"title":      "Portal sign-in",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := textOf(t, result)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", text)
	}
	if !strings.Contains(text, prototype.ScriptFile) || !strings.Contains(text, "## Build prompt") {
		t.Errorf("unexpected text: %q", text)
	}
	if strings.Contains(text, "## Report") {
		t.Error("cursor mode should not produce a report")
	}

	result, _ = srv.handleGeneratePrototype(ctx, call(map[string]any{"session_id": "nope"}))
	if !result.IsError {
		t.Error("expected error for unknown session")
	}
}
