package prototype

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/db"
	"github.com/ziadkadry99/flowtrace/internal/event"
)

// Entry is a registered prototype bundle.
type Entry struct {
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	OutputDir   string    `json:"output_dir"`
	Mode        Mode      `json:"mode"`
	Frequency   int       `json:"frequency"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	EventCount  int       `json:"event_count"`
	HasReport   bool      `json:"has_report"`
	HasPrompt   bool      `json:"has_prompt"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Registry provides CRUD operations for the prototypes table.
type Registry struct {
	db *db.DB
}

// NewRegistry creates a registry backed by the analysis database.
func NewRegistry(d *db.DB) *Registry {
	return &Registry{db: d}
}

// Upsert inserts or replaces the entry for e.Key. created_at survives
// re-registration.
func (r *Registry) Upsert(ctx context.Context, e Entry) error {
	now := event.FormatTimestamp(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO prototypes (pattern_key, display_name, output_dir, mode, frequency, first_seen, last_seen, event_count, has_report, has_prompt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pattern_key) DO UPDATE SET
			display_name = excluded.display_name,
			output_dir = excluded.output_dir,
			mode = excluded.mode,
			frequency = excluded.frequency,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			event_count = excluded.event_count,
			has_report = excluded.has_report,
			has_prompt = excluded.has_prompt,
			updated_at = excluded.updated_at`,
		e.Key, e.DisplayName, e.OutputDir, string(ParseMode(string(e.Mode))), e.Frequency,
		formatOptional(e.FirstSeen), formatOptional(e.LastSeen), e.EventCount,
		e.HasReport, e.HasPrompt, now, now,
	)
	if err != nil {
		return fmt.Errorf("registering prototype: %w", err)
	}
	return nil
}

const registryColumns = `pattern_key, display_name, output_dir, mode, frequency, first_seen, last_seen, event_count, has_report, has_prompt, created_at, updated_at`

// Get retrieves a prototype by key.
func (r *Registry) Get(ctx context.Context, key string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+registryColumns+` FROM prototypes WHERE pattern_key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prototype %s: %w", key, event.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting prototype: %w", err)
	}
	return e, nil
}

// List returns all registered prototypes, most recently updated first.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+registryColumns+` FROM prototypes ORDER BY updated_at DESC, pattern_key`)
	if err != nil {
		return nil, fmt.Errorf("listing prototypes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning prototype: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Delete removes a prototype registration. The bundle directory is left
// in place.
func (r *Registry) Delete(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM prototypes WHERE pattern_key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting prototype: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("prototype %s: %w", key, event.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc rowScanner) (*Entry, error) {
	var (
		e                                   Entry
		mode, first, last, created, updated string
		hasReport, hasPrompt                bool
	)
	err := sc.Scan(&e.Key, &e.DisplayName, &e.OutputDir, &mode, &e.Frequency,
		&first, &last, &e.EventCount, &hasReport, &hasPrompt, &created, &updated)
	if err != nil {
		return nil, err
	}
	e.Mode = Mode(mode)
	e.HasReport, e.HasPrompt = hasReport, hasPrompt
	e.FirstSeen = timeOrZero(first)
	e.LastSeen = timeOrZero(last)
	e.CreatedAt = timeOrZero(created)
	e.UpdatedAt = timeOrZero(updated)
	return &e, nil
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return event.FormatTimestamp(t)
}
