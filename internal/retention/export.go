package retention

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ziadkadry99/flowtrace/internal/audit"
	"github.com/ziadkadry99/flowtrace/internal/correlate"
	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/progress"
)

// Export file names.
const (
	ExportSummaryFile = "summary.json"
	ExportEventsFile  = "events.jsonl"
)

// ExportSummary is the content of an export's summary.json.
type ExportSummary struct {
	SessionID     string                          `json:"session_id"`
	InferredStart string                          `json:"inferred_start,omitempty"`
	InferredEnd   string                          `json:"inferred_end,omitempty"`
	ExportedAt    string                          `json:"exported_at"`
	EventCount    int                             `json:"event_count"`
	CountsByKind  map[string]int                  `json:"counts_by_kind"`
	Sources       map[string]correlate.SourceStat `json:"sources"`
	LogLines      int                             `json:"log_lines"`
	EventsFile    string                          `json:"events_file,omitempty"`
	Truncated     map[string]int                  `json:"truncated,omitempty"`
}

// ExportResult describes a finished export.
type ExportResult struct {
	SessionID string        `json:"session_id"`
	Dir       string        `json:"dir"`
	Files     []string      `json:"files"`
	Written   int           `json:"events_written"`
	Summary   ExportSummary `json:"summary"`
}

// ExportSession writes the correlated session to <export_dir>/<id>. The
// directory is built beside the target and swapped in, so a re-export
// replaces the previous one whole.
func (m *Manager) ExportSession(ctx context.Context, sessionID string) (*ExportResult, error) {
	if m.correlator == nil {
		return nil, errors.New("retention manager has no correlator")
	}
	res, err := m.correlator.Correlate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.ExportCorrelated(ctx, res)
}

// ExportCorrelated exports an already correlated session.
func (m *Manager) ExportCorrelated(ctx context.Context, res *correlate.Result) (*ExportResult, error) {
	sessionID := res.Session.ID
	if err := os.MkdirAll(m.cfg.ExportDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	tmp, err := os.MkdirTemp(m.cfg.ExportDir, ".export-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	summary := ExportSummary{
		SessionID:    sessionID,
		ExportedAt:   event.FormatTimestamp(m.clock.Now()),
		EventCount:   len(res.Events),
		CountsByKind: make(map[string]int),
		Sources:      res.Sources,
		LogLines:     res.LogLines,
	}
	if !res.Session.InferredStart.IsZero() {
		summary.InferredStart = event.FormatTimestamp(res.Session.InferredStart)
		summary.InferredEnd = event.FormatTimestamp(res.Session.InferredEnd)
	}
	for k, n := range res.CountByKind() {
		summary.CountsByKind[string(k)] = n
	}

	out := &ExportResult{SessionID: sessionID}
	if m.cfg.ExportEvents {
		name, written, truncated, err := m.writeEvents(tmp, res.Events)
		if err != nil {
			return nil, err
		}
		summary.EventsFile = name
		out.Written = written
		if len(truncated) > 0 {
			summary.Truncated = truncated
		}
		out.Files = append(out.Files, name)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling export summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, ExportSummaryFile), append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("writing export summary: %w", err)
	}
	out.Files = append([]string{ExportSummaryFile}, out.Files...)

	final := filepath.Join(m.cfg.ExportDir, safeName(sessionID))
	if err := os.RemoveAll(final); err != nil {
		return nil, fmt.Errorf("removing previous export: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("publishing export: %w", err)
	}
	out.Dir = final
	out.Summary = summary

	m.record(ctx, audit.Entry{
		Action:       audit.ActionSessionExported,
		SessionID:    sessionID,
		Summary:      "exported to " + final,
		RowsAffected: int64(out.Written),
	})
	m.logger.Info("session exported", "session", sessionID, "dir", final, "events", out.Written)
	return out, nil
}

// writeEvents streams events as JSON lines through the optional zstd and
// sealing layers. Rows beyond the per-table cap are counted, not written.
func (m *Manager) writeEvents(dir string, events []event.Event) (string, int, map[string]int, error) {
	name := ExportEventsFile
	if m.cfg.Compress {
		name += ".zst"
	}
	if m.sealer != nil {
		name += m.sealer.Suffix()
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", 0, nil, fmt.Errorf("creating events file: %w", err)
	}
	defer f.Close()

	written, truncated, err := m.encodeEvents(f, events)
	if err != nil {
		return "", 0, nil, err
	}
	if err := f.Close(); err != nil {
		return "", 0, nil, fmt.Errorf("closing events file: %w", err)
	}
	return name, written, truncated, nil
}

// encodeEvents writes events to dst through the configured layers. Every
// layer is closed on return, including when encoding fails part way.
func (m *Manager) encodeEvents(dst io.Writer, events []event.Event) (written int, truncated map[string]int, err error) {
	// Layers are closed innermost first: json -> zstd -> sealer -> dst.
	var (
		w       io.Writer = dst
		closers []io.Closer
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()
	if m.sealer != nil {
		sw, err := m.sealer.Seal(w)
		if err != nil {
			return 0, nil, err
		}
		closers = append(closers, sw)
		w = sw
	}
	if m.cfg.Compress {
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		closers = append(closers, zw)
		w = zw
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	perTable := make(map[string]int)
	truncated = make(map[string]int)
	for _, e := range events {
		key := tableOf(e)
		if m.cfg.MaxRowsPerTable > 0 && perTable[key] >= m.cfg.MaxRowsPerTable {
			truncated[key]++
			continue
		}
		perTable[key]++
		if err := enc.Encode(e); err != nil {
			return 0, nil, fmt.Errorf("encoding event %s: %w", e.Ref, err)
		}
		written++
	}
	if err := bw.Flush(); err != nil {
		return 0, nil, fmt.Errorf("flushing events: %w", err)
	}
	for len(closers) > 0 {
		last := closers[len(closers)-1]
		closers = closers[:len(closers)-1]
		if err := last.Close(); err != nil {
			return 0, nil, fmt.Errorf("finishing events stream: %w", err)
		}
	}
	return written, truncated, nil
}

// tableOf names the table an event was read from. Store refs look like
// "<store>/<table>/<id>"; anything else is grouped by source kind.
func tableOf(e event.Event) string {
	parts := strings.SplitN(e.Ref, "/", 3)
	if len(parts) == 3 {
		return parts[0] + "/" + parts[1]
	}
	return string(e.Kind)
}

// ExportAll exports every session known to the stores, reporting each
// one to rep when it is non-nil. A failure on one session does not stop
// the others; the failures are joined into the returned error.
func (m *Manager) ExportAll(ctx context.Context, rep progress.Reporter) ([]*ExportResult, error) {
	sessions, err := m.mergedSessions(ctx, nil)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		rep = progress.Nop{}
	}
	rep.Start(len(sessions))
	defer rep.Finish()
	var (
		out  []*ExportResult
		errs []error
	)
	for i, s := range sessions {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rep.Update(i+1, s.ID)
		res, err := m.ExportSession(ctx, s.ID)
		if err != nil {
			m.logger.Warn("exporting session", "session", s.ID, "error", err)
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

func safeName(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	name := r.Replace(id)
	if name == "" || name == "." {
		return "_"
	}
	return name
}
