package understand

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ziadkadry99/flowtrace/internal/db"
	"github.com/ziadkadry99/flowtrace/internal/event"
)

// Store persists understanding results in the analysis database.
type Store struct {
	db *db.DB
}

// NewStore creates a Store. The database must carry db.AnalysisSchema.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Save upserts every row of the result and removes rows of the same
// session that the result no longer contains, all in one transaction.
// Saving the same result twice leaves identical rows.
func (s *Store) Save(ctx context.Context, r *Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &event.PersistenceError{Store: "analysis", Op: "begin", Err: err}
	}
	defer tx.Rollback()

	steps := []struct {
		name string
		fn   func(context.Context, *sql.Tx, *Result) error
	}{
		{"intent_classifications", saveIntents},
		{"context_tags", saveContext},
		{"dependency_edges", saveDependencies},
		{"workflow_segments", saveSegments},
		{"goals", saveGoals},
	}
	for _, step := range steps {
		if err := step.fn(ctx, tx, r); err != nil {
			return &event.PersistenceError{Store: "analysis", Op: "save " + step.name, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &event.PersistenceError{Store: "analysis", Op: "commit", Err: err}
	}
	return nil
}

// replaceStale deletes the session's rows from table whose keyExpr value
// is not in keep.
func replaceStale(ctx context.Context, tx *sql.Tx, table, keyExpr, sessionID string, keep map[string]bool) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE session_id = ?", keyExpr, table), sessionID)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return err
		}
		if !keep[k] {
			stale = append(stale, k)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, k := range stale {
		q := fmt.Sprintf("DELETE FROM %s WHERE session_id = ? AND %s = ?", table, keyExpr)
		if _, err := tx.ExecContext(ctx, q, sessionID, k); err != nil {
			return err
		}
	}
	return nil
}

const keySep = "\x1f"

func saveIntents(ctx context.Context, tx *sql.Tx, r *Result) error {
	keep := make(map[string]bool, len(r.Intents))
	for _, c := range r.Intents {
		keep[c.EventRef] = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO intent_classifications (session_id, event_ref, category, description, confidence)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, event_ref) DO UPDATE SET
			   category = excluded.category,
			   description = excluded.description,
			   confidence = excluded.confidence`,
			r.SessionID, c.EventRef, c.Category, c.Description, c.Confidence)
		if err != nil {
			return err
		}
	}
	return replaceStale(ctx, tx, "intent_classifications", "event_ref", r.SessionID, keep)
}

func saveContext(ctx context.Context, tx *sql.Tx, r *Result) error {
	keep := make(map[string]bool, len(r.Context))
	for _, t := range r.Context {
		keep[t.EventRef+keySep+t.TagType+keySep+t.Value] = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO context_tags (session_id, event_ref, tag_type, value, confidence)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, event_ref, tag_type, value) DO UPDATE SET
			   confidence = excluded.confidence`,
			r.SessionID, t.EventRef, t.TagType, t.Value, t.Confidence)
		if err != nil {
			return err
		}
	}
	return replaceStale(ctx, tx, "context_tags",
		"event_ref || char(31) || tag_type || char(31) || value", r.SessionID, keep)
}

func saveDependencies(ctx context.Context, tx *sql.Tx, r *Result) error {
	keep := make(map[string]bool, len(r.Dependencies))
	for _, d := range r.Dependencies {
		keep[d.SourceRef+keySep+d.TargetRef] = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO dependency_edges (session_id, source_ref, target_ref, kind, strength)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, source_ref, target_ref) DO UPDATE SET
			   kind = excluded.kind,
			   strength = excluded.strength`,
			r.SessionID, d.SourceRef, d.TargetRef, d.Kind, d.Strength)
		if err != nil {
			return err
		}
	}
	return replaceStale(ctx, tx, "dependency_edges", "source_ref || char(31) || target_ref", r.SessionID, keep)
}

func saveSegments(ctx context.Context, tx *sql.Tx, r *Result) error {
	keep := make(map[string]bool, len(r.Segments))
	for _, seg := range r.Segments {
		keep[fmt.Sprint(seg.Index)] = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_segments (session_id, segment_index, start_index, end_index, signature)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, segment_index) DO UPDATE SET
			   start_index = excluded.start_index,
			   end_index = excluded.end_index,
			   signature = excluded.signature`,
			r.SessionID, seg.Index, seg.Start, seg.End, seg.Signature)
		if err != nil {
			return err
		}
	}
	return replaceStale(ctx, tx, "workflow_segments", "CAST(segment_index AS TEXT)", r.SessionID, keep)
}

func saveGoals(ctx context.Context, tx *sql.Tx, r *Result) error {
	keep := make(map[string]bool, len(r.Goals))
	for _, g := range r.Goals {
		keep[fmt.Sprint(g.SegmentIndex)] = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO goals (session_id, segment_index, category, description, confidence)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, segment_index) DO UPDATE SET
			   category = excluded.category,
			   description = excluded.description,
			   confidence = excluded.confidence`,
			r.SessionID, g.SegmentIndex, g.Category, g.Description, g.Confidence)
		if err != nil {
			return err
		}
	}
	return replaceStale(ctx, tx, "goals", "CAST(segment_index AS TEXT)", r.SessionID, keep)
}

// Load reads back the stored result of a session. It fails with
// event.ErrNotFound when nothing is stored for it.
func (s *Store) Load(ctx context.Context, sessionID string) (*Result, error) {
	r := &Result{SessionID: sessionID}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_ref, category, description, confidence FROM intent_classifications
		 WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading intents: %w", err)
	}
	for rows.Next() {
		var c IntentClassification
		if err := rows.Scan(&c.EventRef, &c.Category, &c.Description, &c.Confidence); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning intent: %w", err)
		}
		r.Intents = append(r.Intents, c)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT event_ref, tag_type, value, confidence FROM context_tags
		 WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading context tags: %w", err)
	}
	for rows.Next() {
		var t ContextTag
		if err := rows.Scan(&t.EventRef, &t.TagType, &t.Value, &t.Confidence); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning context tag: %w", err)
		}
		r.Context = append(r.Context, t)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT source_ref, target_ref, kind, strength FROM dependency_edges
		 WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading dependencies: %w", err)
	}
	for rows.Next() {
		var d DependencyEdge
		if err := rows.Scan(&d.SourceRef, &d.TargetRef, &d.Kind, &d.Strength); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		r.Dependencies = append(r.Dependencies, d)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT segment_index, start_index, end_index, signature FROM workflow_segments
		 WHERE session_id = ? ORDER BY segment_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading segments: %w", err)
	}
	for rows.Next() {
		var seg WorkflowSegment
		if err := rows.Scan(&seg.Index, &seg.Start, &seg.End, &seg.Signature); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning segment: %w", err)
		}
		r.Segments = append(r.Segments, seg)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT segment_index, category, description, confidence FROM goals
		 WHERE session_id = ? ORDER BY segment_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading goals: %w", err)
	}
	for rows.Next() {
		var g GoalRecord
		if err := rows.Scan(&g.SegmentIndex, &g.Category, &g.Description, &g.Confidence); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning goal: %w", err)
		}
		r.Goals = append(r.Goals, g)
	}
	rows.Close()

	if r.Empty() {
		return nil, fmt.Errorf("understanding for session %s: %w", sessionID, event.ErrNotFound)
	}
	return r, nil
}

// DeleteSession removes every stored row of the session and returns how
// many rows went.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &event.PersistenceError{Store: "analysis", Op: "begin", Err: err}
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"intent_classifications", "context_tags", "dependency_edges", "workflow_segments", "goals"} {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table), sessionID)
		if err != nil {
			return 0, &event.PersistenceError{Store: "analysis", Op: "delete " + table, Err: err}
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, &event.PersistenceError{Store: "analysis", Op: "commit", Err: err}
	}
	return total, nil
}
