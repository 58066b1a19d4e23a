// Package store persists raw collector events, one SQLite database per
// collector family. Stores share no keys; correlation across them happens
// in the correlate package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/db"
	"github.com/ziadkadry99/flowtrace/internal/event"
)

// wellFormed matches timestamps written by event.FormatTimestamp. Raw
// unparsable values are stored as-is and excluded from bounds queries.
const wellFormed = "timestamp LIKE '____-__-__T__:__:__.______Z'"

// SessionStat summarizes the rows one session holds in a store.
type SessionStat struct {
	ID        string    `json:"session_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Rows      int       `json:"rows"`
}

// Store reads and writes the tables of one collector family.
type Store struct {
	family Family
	db     *db.DB
}

// Open opens (creating if needed) the family's database at path.
func Open(path string, family Family) (*Store, error) {
	d, err := db.Open(path, family.Schema)
	if err != nil {
		return nil, err
	}
	return &Store{family: family, db: d}, nil
}

// OpenMemory opens an in-memory store, for tests.
func OpenMemory(family Family) (*Store, error) {
	d, err := db.OpenMemory(family.Schema)
	if err != nil {
		return nil, err
	}
	return &Store{family: family, db: d}, nil
}

// OpenAll opens every family under dataDir as <name>.db. On error any
// already-opened stores are closed.
func OpenAll(dataDir string) ([]*Store, error) {
	stores := make([]*Store, 0, len(Families))
	for _, f := range Families {
		s, err := Open(filepath.Join(dataDir, f.Name()+".db"), f)
		if err != nil {
			CloseAll(stores)
			return nil, fmt.Errorf("opening %s store: %w", f.Name(), err)
		}
		stores = append(stores, s)
	}
	return stores, nil
}

// CloseAll closes every store, ignoring errors.
func CloseAll(stores []*Store) {
	for _, s := range stores {
		s.Close()
	}
}

// Name returns the store name ("browser", "desktop", "applog").
func (s *Store) Name() string { return s.family.Name() }

// Family returns the store's family descriptor.
func (s *Store) Family() Family { return s.family }

// Path returns the database file path.
func (s *Store) Path() string { return s.db.Path() }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Accepts reports whether the store holds events of the given kind.
func (s *Store) Accepts(kind event.SourceKind) bool {
	_, ok := s.table(kind)
	return ok
}

func (s *Store) table(kind event.SourceKind) (table, bool) {
	for _, t := range s.family.tables {
		if t.kind == kind {
			return t, true
		}
	}
	return table{}, false
}

// Insert writes events in a single transaction. Events without a session
// id are stored with a NULL session. Events whose timestamp could not be
// parsed keep their raw text.
func (s *Store) Insert(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &event.PersistenceError{Store: s.Name(), Op: "begin", Err: err}
	}
	defer tx.Rollback()

	stmts := make(map[string]*sql.Stmt)
	for _, e := range events {
		t, ok := s.table(e.Kind)
		if !ok {
			return &event.PersistenceError{Store: s.Name(), Op: "insert", Err: fmt.Errorf("kind %q does not belong to this store", e.Kind)}
		}
		if e.Payload == nil || e.Payload.Kind() != e.Kind {
			return &event.PersistenceError{Store: s.Name(), Op: "insert", Err: fmt.Errorf("%w: payload does not match kind %q", event.ErrMalformedEvent, e.Kind)}
		}
		stmt, ok := stmts[t.name]
		if !ok {
			stmt, err = tx.PrepareContext(ctx, insertSQL(t))
			if err != nil {
				return &event.PersistenceError{Store: s.Name(), Op: "prepare " + t.name, Err: err}
			}
			defer stmt.Close()
			stmts[t.name] = stmt
		}

		args := []any{storedTimestamp(e)}
		if t.sessioned {
			args = append(args, nullable(e.SessionID))
		}
		args = append(args, t.encode(e.Payload)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return &event.PersistenceError{Store: s.Name(), Op: "insert " + t.name, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &event.PersistenceError{Store: s.Name(), Op: "commit", Err: err}
	}
	return nil
}

// BySession returns every row tagged with the session id, ordered by
// timestamp then insertion order. Tables without a session column
// contribute nothing.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]event.Event, error) {
	return s.query(ctx, func(t table) (string, []any, bool) {
		if !t.sessioned {
			return "", nil, false
		}
		return "session_id = ?", []any{sessionID}, true
	})
}

// InWindow returns every row with a timestamp inside [start, end],
// regardless of session id.
func (s *Store) InWindow(ctx context.Context, start, end time.Time) ([]event.Event, error) {
	from, to := event.FormatTimestamp(start), event.FormatTimestamp(end)
	return s.query(ctx, func(table) (string, []any, bool) {
		return "timestamp BETWEEN ? AND ?", []any{from, to}, true
	})
}

// query runs a filtered select over every table and merges the results in
// timestamp order. It fails with ErrSourceUnavailable only when no table
// of the family exists.
func (s *Store) query(ctx context.Context, where func(table) (string, []any, bool)) ([]event.Event, error) {
	var (
		out     []event.Event
		queried int
		missing []string
	)
	for _, t := range s.family.tables {
		clause, args, ok := where(t)
		if !ok {
			continue
		}
		queried++
		rows, err := s.selectRows(ctx, t, clause, args)
		if err != nil {
			if db.IsMissingTable(err) {
				missing = append(missing, t.name)
				continue
			}
			return nil, fmt.Errorf("querying %s.%s: %w", s.Name(), t.name, err)
		}
		out = append(out, rows...)
	}
	if queried > 0 && len(missing) == queried {
		return nil, fmt.Errorf("%w: %s has no %s table", event.ErrSourceUnavailable, s.Name(), strings.Join(missing, ", "))
	}
	event.SortByTime(out)
	return out, nil
}

func (s *Store) selectRows(ctx context.Context, t table, clause string, args []any) ([]event.Event, error) {
	cols := []string{"id", "timestamp"}
	if t.sessioned {
		cols = append(cols, "COALESCE(session_id, '')")
	}
	for _, c := range t.columns {
		cols = append(cols, c.name)
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY timestamp, id",
		strings.Join(cols, ", "), t.name, clause)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			id        int64
			ts        string
			sessionID string
		)
		dest := []any{&id, &ts}
		if t.sessioned {
			dest = append(dest, &sessionID)
		}
		strs := make([]string, len(t.columns))
		ints := make([]int64, len(t.columns))
		for i, c := range t.columns {
			if c.integer {
				dest = append(dest, &ints[i])
			} else {
				dest = append(dest, &strs[i])
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		vals := make([]any, len(t.columns))
		for i, c := range t.columns {
			if c.integer {
				vals[i] = ints[i]
			} else {
				vals[i] = strs[i]
			}
		}
		e := event.Event{
			Ref:          fmt.Sprintf("%s/%s/%d", s.Name(), t.name, id),
			Seq:          id,
			RawTimestamp: ts,
			Kind:         t.kind,
			SessionID:    sessionID,
			Payload:      t.decode(vals),
		}
		if parsed, err := event.ParseTimestamp(ts); err == nil {
			e.Timestamp = parsed
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Sessions lists every session id in the store with its bounds and row
// count. Bounds only consider well-formed timestamps.
func (s *Store) Sessions(ctx context.Context) ([]SessionStat, error) {
	byID := make(map[string]*SessionStat)
	for _, t := range s.family.tables {
		if !t.sessioned {
			continue
		}
		q := fmt.Sprintf(`SELECT session_id,
			COALESCE(MIN(CASE WHEN %[1]s THEN timestamp END), ''),
			COALESCE(MAX(CASE WHEN %[1]s THEN timestamp END), ''),
			COUNT(*)
			FROM %[2]s WHERE session_id IS NOT NULL AND session_id != ''
			GROUP BY session_id`, wellFormed, t.name)
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			if db.IsMissingTable(err) {
				continue
			}
			return nil, fmt.Errorf("listing sessions in %s.%s: %w", s.Name(), t.name, err)
		}
		for rows.Next() {
			var (
				id, first, last string
				n               int
			)
			if err := rows.Scan(&id, &first, &last, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning session row: %w", err)
			}
			stat, ok := byID[id]
			if !ok {
				stat = &SessionStat{ID: id}
				byID[id] = stat
			}
			stat.Rows += n
			if ts, err := event.ParseTimestamp(first); err == nil && (stat.FirstSeen.IsZero() || ts.Before(stat.FirstSeen)) {
				stat.FirstSeen = ts
			}
			if ts, err := event.ParseTimestamp(last); err == nil && ts.After(stat.LastSeen) {
				stat.LastSeen = ts
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	out := make([]SessionStat, 0, len(byID))
	for _, stat := range byID {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.Before(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PurgeSession deletes every row tagged with the session id and returns
// the number of rows removed.
func (s *Store) PurgeSession(ctx context.Context, sessionID string) (int64, error) {
	return s.purge(ctx, func(t table) (string, []any, bool) {
		if !t.sessioned {
			return "", nil, false
		}
		return "session_id = ?", []any{sessionID}, true
	})
}

// PurgeBefore deletes rows that belong to no session and are older than
// cutoff. Session-tagged rows are left to PurgeSession.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := event.FormatTimestamp(cutoff)
	return s.purge(ctx, func(t table) (string, []any, bool) {
		if t.sessioned {
			return "(session_id IS NULL OR session_id = '') AND " + wellFormed + " AND timestamp < ?", []any{ts}, true
		}
		return wellFormed + " AND timestamp < ?", []any{ts}, true
	})
}

func (s *Store) purge(ctx context.Context, where func(table) (string, []any, bool)) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &event.PersistenceError{Store: s.Name(), Op: "begin", Err: err}
	}
	defer tx.Rollback()

	var total int64
	for _, t := range s.family.tables {
		clause, args, ok := where(t)
		if !ok {
			continue
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", t.name, clause), args...)
		if err != nil {
			if db.IsMissingTable(err) {
				continue
			}
			return 0, &event.PersistenceError{Store: s.Name(), Op: "purge " + t.name, Err: err}
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, &event.PersistenceError{Store: s.Name(), Op: "commit", Err: err}
	}
	return total, nil
}

// LogicalSize returns the bytes occupied by live rows.
func (s *Store) LogicalSize(ctx context.Context) (int64, error) {
	return s.db.LogicalSize(ctx)
}

// Compact reclaims space freed by purges.
func (s *Store) Compact(ctx context.Context) error {
	return s.db.Compact(ctx)
}

func storedTimestamp(e event.Event) string {
	if e.Timestamp.IsZero() {
		return e.RawTimestamp
	}
	return event.FormatTimestamp(e.Timestamp)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// IsUnavailable reports whether err means the source holds no usable table.
func IsUnavailable(err error) bool {
	return errors.Is(err, event.ErrSourceUnavailable)
}
