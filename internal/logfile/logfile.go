// Package logfile reads bot text logs that are not captured by any store,
// so that correlation can pick up lines from inside a session's window.
package logfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ziadkadry99/flowtrace/internal/event"
)

// linePattern matches "<timestamp> [-|:] [[name -] LEVEL] [-|:] message",
// covering Python logging (with or without %(name)s), bracketed timestamps
// and RFC 3339 prefixes. A logger name is only taken when a level follows.
var linePattern = regexp.MustCompile(
	`^\[?(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:\d{2})?)\]?` +
		`\s*(?:[-|:]\s*)?` +
		`(?:(?:[\w.\-]+\s+-\s+)?\[?(TRACE|DEBUG|INFO|WARNING|WARN|ERROR|CRITICAL|FATAL)\]?\s*(?:[-|:]\s*)?)?` +
		`(.*)$`)

const maxLineSize = 1 << 20

// Line is one parsed log line.
type Line struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// ParseLine parses a single log line. Lines without a leading timestamp
// (continuations, banners) report ok=false.
func ParseLine(s string) (Line, bool) {
	m := linePattern.FindStringSubmatch(strings.TrimRight(s, "\r\n"))
	if m == nil {
		return Line{}, false
	}
	ts, err := event.ParseTimestamp(m[1])
	if err != nil {
		return Line{}, false
	}
	return Line{Timestamp: ts, Level: m[2], Message: strings.TrimSpace(m[3])}, true
}

// Event converts a parsed line from the named file into an application_log
// event.
func (l Line) Event(path string) event.Event {
	return event.Event{
		Timestamp:    l.Timestamp,
		RawTimestamp: event.FormatTimestamp(l.Timestamp),
		Kind:         event.KindApplicationLog,
		Payload: event.AppLog{
			Level:      l.Level,
			Message:    l.Message,
			SourceName: filepath.Base(path),
		},
	}
}

// Expand resolves the globs (doublestar syntax, "**" allowed) into a sorted,
// de-duplicated list of regular files.
func Expand(globs []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, g := range globs {
		if strings.TrimSpace(g) == "" {
			continue
		}
		matches, err := doublestar.FilepathGlob(g, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding log glob %q: %w", g, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Reader scans log files matched by a set of globs.
type Reader struct {
	Globs []string
}

// NewReader creates a Reader over the given globs.
func NewReader(globs []string) *Reader {
	return &Reader{Globs: globs}
}

// InWindow returns parsed lines with timestamps inside [start, end], in file
// then line order. Files that vanish between globbing and reading are
// skipped.
func (r *Reader) InWindow(ctx context.Context, start, end time.Time) ([]event.Event, error) {
	if r == nil || len(r.Globs) == 0 {
		return nil, nil
	}
	files, err := Expand(r.Globs)
	if err != nil {
		return nil, err
	}
	var out []event.Event
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events, err := scanWindow(path, start, end)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func scanWindow(path string, start, end time.Time) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []event.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line, ok := ParseLine(sc.Text())
		if !ok || line.Timestamp.Before(start) || line.Timestamp.After(end) {
			continue
		}
		e := line.Event(path)
		e.Ref = fmt.Sprintf("logfile:%s:%d", path, lineNo)
		e.Seq = int64(lineNo)
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}

// ReadFrom parses the complete lines appended to path since offset and
// returns them with the offset to resume from. A file shorter than offset
// was rotated or truncated and is read from the start. A trailing partial
// line is left for the next call.
func ReadFrom(path string, offset int64) ([]event.Event, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat %s: %w", path, err)
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seeking %s: %w", path, err)
	}

	var out []event.Event
	br := bufio.NewReader(f)
	for {
		s, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, offset, fmt.Errorf("reading %s: %w", path, err)
		}
		offset += int64(len(s))
		if line, ok := ParseLine(s); ok {
			out = append(out, line.Event(path))
		}
	}
	return out, offset, nil
}
