package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/pipeline"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
	"github.com/ziadkadry99/flowtrace/internal/understand"
)

const timeLayout = "2006-01-02 15:04:05"

// handleListSessions lists sessions, most recently active first.
func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.pipeline.Retention == nil {
		return mcp.NewToolResultError("session stores are not configured"), nil
	}
	limit := request.GetInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}

	sessions, err := s.pipeline.Retention.Sessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing sessions failed: %v", err)), nil
	}
	if len(sessions) == 0 {
		return mcp.NewToolResultText("No sessions recorded yet."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d session(s)\n\n", len(sessions))
	// Sessions come oldest first.
	for i := len(sessions) - 1; i >= 0 && len(sessions)-i <= limit; i-- {
		st := sessions[i]
		fmt.Fprintf(&sb, "- %s: %d rows, %s to %s\n", st.ID, st.Rows, formatTime(st.FirstSeen), formatTime(st.LastSeen))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// handleCorrelateSession reconstructs a session and lists its events.
func (s *Server) handleCorrelateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	if s.pipeline.Correlator == nil {
		return mcp.NewToolResultError("correlator is not configured"), nil
	}
	limit := request.GetInt("limit", 50)
	if limit <= 0 {
		limit = 50
	}

	res, err := s.pipeline.Correlator.Correlate(ctx, id)
	if err != nil {
		return errorResult(id, err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session %s\n\n", id)
	fmt.Fprintf(&sb, "Window: %s to %s\n", formatTime(res.Session.InferredStart), formatTime(res.Session.InferredEnd))
	fmt.Fprintf(&sb, "Events: %d (%d application log lines)\n\n", len(res.Events), res.LogLines)

	sb.WriteString("## Sources\n\n")
	names := make([]string, 0, len(res.Sources))
	for name := range res.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := res.Sources[name]
		if st.Unavailable {
			fmt.Fprintf(&sb, "- %s: unavailable\n", name)
			continue
		}
		fmt.Fprintf(&sb, "- %s: %d by session id, %d by time window\n", name, st.Exact, st.Fallback)
	}

	sb.WriteString("\n## Events\n\n")
	for i, e := range res.Events {
		if i == limit {
			fmt.Fprintf(&sb, "... %d more\n", len(res.Events)-limit)
			break
		}
		fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", i+1, eventTime(e), e.Kind, prototype.Describe(e))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// handleUnderstandSession returns the stored analysis of a session,
// running it first when nothing is stored or a refresh is asked for.
func (s *Server) handleUnderstandSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	var res *understand.Result
	if !request.GetBool("refresh", false) && s.pipeline.Analysis != nil {
		res, err = s.pipeline.Analysis.Load(ctx, id)
		if err != nil && !errors.Is(err, event.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("loading analysis failed: %v", err)), nil
		}
	}
	if res == nil {
		out, err := s.process(ctx, id, pipeline.Options{Understand: true})
		if err != nil {
			return errorResult(id, err), nil
		}
		if msg := stageError(out, pipeline.StageUnderstand); msg != "" {
			return mcp.NewToolResultError("analysis failed: " + msg), nil
		}
		res = out.Understanding
	}
	return mcp.NewToolResultText(formatUnderstanding(res)), nil
}

// handleGeneratePrototype writes a prototype bundle for a session.
func (s *Server) handleGeneratePrototype(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	out, err := s.process(ctx, id, pipeline.Options{
		Prototype: true,
		Mode:      prototype.ParseMode(request.GetString("mode", "")),
		Title:     request.GetString("title", ""),
		Notes:     request.GetString("notes", ""),
	})
	if err != nil {
		return errorResult(id, err), nil
	}
	if msg := stageError(out, pipeline.StagePrototype); msg != "" {
		return mcp.NewToolResultError("prototype generation failed: " + msg), nil
	}

	b := out.Bundle
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", b.DisplayName)
	files := make([]string, 0, len(b.Manifest.Files))
	for _, f := range b.Manifest.Files {
		files = append(files, f)
	}
	sort.Strings(files)
	fmt.Fprintf(&sb, "Bundle: %s\nMode: %s\nFiles: %s\n", b.Dir, b.Mode, strings.Join(files, ", "))
	if b.Prompt != "" {
		sb.WriteString("\n## Build prompt\n\n")
		sb.WriteString(b.Prompt)
	}
	if b.Report != "" {
		sb.WriteString("\n## Report\n\n")
		sb.WriteString(b.Report)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) process(ctx context.Context, id string, opts pipeline.Options) (*pipeline.Outcome, error) {
	if s.pipeline.Correlator == nil {
		return nil, errors.New("correlator is not configured")
	}
	return s.pipeline.Process(ctx, id, opts)
}

// errorResult turns a pipeline error into tool error text.
func errorResult(id string, err error) *mcp.CallToolResult {
	if errors.Is(err, event.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("No events found for session %q. Use list_sessions to see recorded sessions.", id))
	}
	return mcp.NewToolResultError(err.Error())
}

func stageError(out *pipeline.Outcome, stage string) string {
	for _, e := range out.Errors {
		if e.Stage == stage {
			return e.Err
		}
	}
	return ""
}

func formatUnderstanding(r *understand.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Understanding of session %s\n\n", r.SessionID)

	sb.WriteString("## Workflow segments\n\n")
	goals := make(map[int]understand.GoalRecord, len(r.Goals))
	for _, g := range r.Goals {
		goals[g.SegmentIndex] = g
	}
	for i, seg := range r.Segments {
		g, ok := goals[seg.Index]
		if !ok {
			fmt.Fprintf(&sb, "%d. events %d-%d\n", i+1, seg.Start, seg.End)
			continue
		}
		fmt.Fprintf(&sb, "%d. events %d-%d: %s (%.2f) %s\n", i+1, seg.Start, seg.End, g.Category, g.Confidence, g.Description)
	}

	sb.WriteString("\n## Intents\n\n")
	tally := make(map[string]int)
	for _, c := range r.Intents {
		tally[c.Category]++
	}
	cats := make([]string, 0, len(tally))
	for c := range tally {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(&sb, "- %s: %d\n", c, tally[c])
	}

	fmt.Fprintf(&sb, "\n%d context tag(s), %d dependency edge(s)\n", len(r.Context), len(r.Dependencies))
	return sb.String()
}

func eventTime(e event.Event) string {
	if e.Timestamp.IsZero() {
		return e.RawTimestamp
	}
	return e.Timestamp.Format(timeLayout)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(timeLayout)
}
