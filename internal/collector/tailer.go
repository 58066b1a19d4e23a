package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/ziadkadry99/flowtrace/internal/logfile"
)

// LogTailer follows bot log files and records new lines through a
// collector. Files present at the first poll are followed from their
// current end; files that appear later are read from the start.
type LogTailer struct {
	globs     []string
	collector *Collector
	logger    *slog.Logger

	mu      sync.Mutex
	offsets map[string]int64
	primed  bool
}

// NewLogTailer creates a tailer over the given doublestar globs.
func NewLogTailer(globs []string, c *Collector, logger *slog.Logger) *LogTailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTailer{
		globs:     globs,
		collector: c,
		logger:    logger.With("component", "log_tailer"),
		offsets:   make(map[string]int64),
	}
}

// Poll reads lines appended since the previous poll and flushes them.
// Unreadable files are logged and skipped.
func (t *LogTailer) Poll(ctx context.Context) error {
	files, err := logfile.Expand(t.globs)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.primed {
		for _, path := range files {
			if info, err := os.Stat(path); err == nil {
				t.offsets[path] = info.Size()
			}
		}
		t.primed = true
		return nil
	}

	recorded := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, next, err := logfile.ReadFrom(path, t.offsets[path])
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				t.logger.Warn("reading log file", "path", path, "error", err)
			}
			continue
		}
		t.offsets[path] = next
		for _, e := range events {
			t.collector.Record(e)
		}
		recorded += len(events)
	}
	if recorded > 0 {
		t.collector.Flush()
		t.logger.Debug("tailed log lines", "lines", recorded)
	}
	return nil
}

// Offset returns the resume offset for path.
func (t *LogTailer) Offset(path string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offsets[path]
}
