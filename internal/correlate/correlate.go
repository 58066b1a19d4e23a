// Package correlate reassembles one session's timeline across the
// independent collector stores.
//
// Collectors are separate processes that may mint their own session ids,
// so matching on the id alone loses events. Correlation runs in two
// passes: exact id match in every store, then a time-window fallback for
// stores that had nothing under the id.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/event"
)

// DefaultMargin widens the session's observed bounds to catch
// near-boundary events from collectors with a different session id.
const DefaultMargin = 5 * time.Second

// Source is a store that can be correlated. *store.Store satisfies it.
type Source interface {
	Name() string
	BySession(ctx context.Context, sessionID string) ([]event.Event, error)
	InWindow(ctx context.Context, start, end time.Time) ([]event.Event, error)
}

// LogSource supplies out-of-band log lines, e.g. *logfile.Reader.
type LogSource interface {
	InWindow(ctx context.Context, start, end time.Time) ([]event.Event, error)
}

// SourceStat records how a source contributed to a result.
type SourceStat struct {
	Exact       int  `json:"exact"`
	Fallback    int  `json:"fallback"`
	Unavailable bool `json:"unavailable,omitempty"`
}

// Result is a correlated session.
type Result struct {
	Session  event.Session         `json:"session"`
	Events   []event.Event         `json:"events"`
	Sources  map[string]SourceStat `json:"sources"`
	LogLines int                   `json:"log_lines"`
}

// CountByKind tallies the events per source kind.
func (r *Result) CountByKind() map[event.SourceKind]int {
	counts := make(map[event.SourceKind]int)
	for _, e := range r.Events {
		counts[e.Kind]++
	}
	return counts
}

// Correlator gathers session events from a fixed set of sources. It holds
// no state between calls.
type Correlator struct {
	sources []Source
	logs    LogSource
	margin  time.Duration
	logger  *slog.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogSource adds out-of-band log lines to every result.
func WithLogSource(l LogSource) Option { return func(c *Correlator) { c.logs = l } }

// WithMargin overrides DefaultMargin.
func WithMargin(d time.Duration) Option {
	return func(c *Correlator) {
		if d >= 0 {
			c.margin = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Correlator) { c.logger = l } }

// New creates a Correlator over sources, queried in the given order.
func New(sources []Source, opts ...Option) *Correlator {
	c := &Correlator{sources: sources, margin: DefaultMargin, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Margin returns the window margin in use.
func (c *Correlator) Margin() time.Duration { return c.margin }

// Correlate returns every event plausibly belonging to the session,
// ordered by timestamp. It fails with event.ErrNotFound when no source
// holds a row tagged with the id.
func (c *Correlator) Correlate(ctx context.Context, sessionID string) (*Result, error) {
	res := &Result{Sources: make(map[string]SourceStat, len(c.sources))}

	// Pass 1: exact session id.
	var (
		first, last time.Time
		found       int
		empty       []Source
	)
	for _, src := range c.sources {
		rows, err := src.BySession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, event.ErrSourceUnavailable) {
				c.logger.Debug("source unavailable", "source", src.Name(), "error", err)
				res.Sources[src.Name()] = SourceStat{Unavailable: true}
				continue
			}
			return nil, fmt.Errorf("querying %s for session %s: %w", src.Name(), sessionID, err)
		}
		res.Sources[src.Name()] = SourceStat{Exact: len(rows)}
		if len(rows) == 0 {
			empty = append(empty, src)
			continue
		}
		found += len(rows)
		for _, e := range rows {
			if e.Malformed() {
				continue
			}
			if first.IsZero() || e.Timestamp.Before(first) {
				first = e.Timestamp
			}
			if e.Timestamp.After(last) {
				last = e.Timestamp
			}
		}
		res.Events = append(res.Events, rows...)
	}
	if found == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, event.ErrNotFound)
	}

	res.Session = event.Session{ID: sessionID}
	if first.IsZero() {
		// Every exact row is malformed; there is no window to fall back on.
		return res, nil
	}
	start, end := first.Add(-c.margin), last.Add(c.margin)
	res.Session.InferredStart, res.Session.InferredEnd = start, end

	// Pass 2: time-window fallback for sources with nothing under the id.
	for _, src := range empty {
		rows, err := src.InWindow(ctx, start, end)
		if err != nil {
			if errors.Is(err, event.ErrSourceUnavailable) {
				res.Sources[src.Name()] = SourceStat{Unavailable: true}
				continue
			}
			return nil, fmt.Errorf("window query on %s: %w", src.Name(), err)
		}
		n := 0
		for _, e := range rows {
			if e.Malformed() {
				continue
			}
			res.Events = append(res.Events, e)
			n++
		}
		stat := res.Sources[src.Name()]
		stat.Fallback = n
		res.Sources[src.Name()] = stat
		if n > 0 {
			c.logger.Debug("window fallback", "source", src.Name(), "session_id", sessionID, "rows", n)
		}
	}

	// Out-of-band log lines.
	if c.logs != nil {
		lines, err := c.logs.InWindow(ctx, start, end)
		if err != nil {
			c.logger.Warn("reading log files", "session_id", sessionID, "error", err)
		}
		res.LogLines = c.mergeLogLines(res, lines)
	}

	event.SortByTime(res.Events)
	return res, nil
}

// mergeLogLines appends lines not already present (same timestamp, source
// name and message) and returns how many were added.
func (c *Correlator) mergeLogLines(res *Result, lines []event.Event) int {
	seen := make(map[logKey]bool)
	for _, e := range res.Events {
		if k, ok := keyOf(e); ok {
			seen[k] = true
		}
	}
	added := 0
	for _, e := range lines {
		k, ok := keyOf(e)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		res.Events = append(res.Events, e)
		added++
	}
	return added
}

type logKey struct {
	ts      int64
	source  string
	message string
}

func keyOf(e event.Event) (logKey, bool) {
	p, ok := e.Payload.(event.AppLog)
	if !ok || e.Malformed() {
		return logKey{}, false
	}
	return logKey{ts: e.Timestamp.UnixMicro(), source: p.SourceName, message: p.Message}, true
}
