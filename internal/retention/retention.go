// Package retention bounds on-disk growth of the session stores and
// exports sessions for archival before they are purged.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/audit"
	"github.com/ziadkadry99/flowtrace/internal/correlate"
	"github.com/ziadkadry99/flowtrace/internal/scheduler"
	"github.com/ziadkadry99/flowtrace/internal/store"
)

const (
	DefaultRetentionDays   = 30
	DefaultMaxRowsPerTable = 10000
)

// Config controls export and purge behaviour.
type Config struct {
	RetentionDays     int    `koanf:"retention_days" yaml:"retention_days"`
	MaxStoreSizeBytes int64  `koanf:"max_store_size_bytes" yaml:"max_store_size_bytes"`
	ExportDir         string `koanf:"export_dir" yaml:"export_dir"`
	MediaDir          string `koanf:"media_dir" yaml:"media_dir"`
	ExportEvents      bool   `koanf:"export_events" yaml:"export_events"`
	MaxRowsPerTable   int    `koanf:"max_rows_per_table" yaml:"max_rows_per_table"`
	Compress          bool   `koanf:"compress" yaml:"compress"`
	// SealRecipients are age X25519 public keys. When set, exported event
	// streams are encrypted to them.
	SealRecipients []string `koanf:"seal_recipients" yaml:"seal_recipients,omitempty"`
}

// DefaultConfig returns the out-of-the-box retention policy.
func DefaultConfig() Config {
	return Config{
		RetentionDays:   DefaultRetentionDays,
		ExportDir:       "exports",
		MediaDir:        "media",
		ExportEvents:    true,
		MaxRowsPerTable: DefaultMaxRowsPerTable,
		Compress:        true,
	}
}

// Validate checks the policy bounds.
func (c Config) Validate() error {
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be at least 1, got %d", c.RetentionDays)
	}
	if c.MaxStoreSizeBytes < 0 {
		return fmt.Errorf("max_store_size_bytes must not be negative, got %d", c.MaxStoreSizeBytes)
	}
	if c.MaxRowsPerTable < 0 {
		return fmt.Errorf("max_rows_per_table must not be negative, got %d", c.MaxRowsPerTable)
	}
	if c.ExportDir == "" {
		return errors.New("export_dir is required")
	}
	return nil
}

// Store is the part of a session store retention needs.
type Store interface {
	Name() string
	Sessions(ctx context.Context) ([]store.SessionStat, error)
	PurgeSession(ctx context.Context, sessionID string) (int64, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	LogicalSize(ctx context.Context) (int64, error)
	Compact(ctx context.Context) error
}

// Correlator reconstructs a session for export.
type Correlator interface {
	Correlate(ctx context.Context, sessionID string) (*correlate.Result, error)
}

// AnalysisPurger removes the stored understanding of a session.
// *understand.Store satisfies it.
type AnalysisPurger interface {
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}

// StoreError records a failure on one store during a retention run.
type StoreError struct {
	Store string `json:"store"`
	Op    string `json:"op"`
	Err   string `json:"error"`
}

// Report summarizes a retention run.
type Report struct {
	Cutoff         time.Time    `json:"cutoff"`
	SessionsPurged []string     `json:"sessions_purged"`
	ExpiredPurged  int          `json:"expired_sessions"`
	OverCapPurged  int          `json:"over_cap_sessions"`
	RowsPurged     int64        `json:"rows_purged"`
	OrphanRows     int64        `json:"orphan_rows_purged"`
	SizeBefore     int64        `json:"size_before"`
	SizeAfter      int64        `json:"size_after"`
	Errors         []StoreError `json:"errors,omitempty"`
}

// Manager runs exports and retention over a fixed set of stores.
type Manager struct {
	cfg        Config
	stores     []Store
	correlator Correlator
	analysis   AnalysisPurger
	audit      audit.Recorder
	sealer     Sealer
	clock      scheduler.Clock
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCorrelator enables exports.
func WithCorrelator(c Correlator) Option { return func(m *Manager) { m.correlator = c } }

// WithAnalysis purges stored understanding alongside each session.
func WithAnalysis(a AnalysisPurger) Option { return func(m *Manager) { m.analysis = a } }

// WithAudit records exports and purges.
func WithAudit(r audit.Recorder) Option { return func(m *Manager) { m.audit = r } }

// WithSealer overrides the sealer built from Config.SealRecipients.
func WithSealer(s Sealer) Option { return func(m *Manager) { m.sealer = s } }

// WithClock sets the time source.
func WithClock(c scheduler.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// New validates cfg and creates a Manager.
func New(cfg Config, stores []Store, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retention config: %w", err)
	}
	m := &Manager{
		cfg:    cfg,
		stores: stores,
		clock:  scheduler.Real(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.sealer == nil && len(cfg.SealRecipients) > 0 {
		s, err := NewAgeSealer(cfg.SealRecipients)
		if err != nil {
			return nil, err
		}
		m.sealer = s
	}
	return m, nil
}

// Config returns the active policy.
func (m *Manager) Config() Config { return m.cfg }

// Sessions lists the sessions across all stores, oldest last-seen first.
func (m *Manager) Sessions(ctx context.Context) ([]store.SessionStat, error) {
	var rep Report
	sessions, err := m.mergedSessions(ctx, &rep)
	if err != nil {
		return nil, err
	}
	if len(rep.Errors) == len(m.stores) && len(m.stores) > 0 {
		return nil, fmt.Errorf("listing sessions: %s", rep.Errors[0].Err)
	}
	return sessions, nil
}

// EnforceRetention applies the age and size policies. A failure on one
// store is recorded in the report and the other stores are still
// processed; the returned error is non-nil only on cancellation.
func (m *Manager) EnforceRetention(ctx context.Context) (*Report, error) {
	now := m.clock.Now()
	rep := &Report{Cutoff: now.Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)}
	rep.SizeBefore = m.totalSize(ctx, rep)

	sessions, err := m.mergedSessions(ctx, rep)
	if err != nil {
		return rep, err
	}

	purged := make(map[string]bool)
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		// Sessions without a usable timestamp are left to the size cap.
		if s.LastSeen.IsZero() || !s.LastSeen.Before(rep.Cutoff) {
			continue
		}
		m.purgeSession(ctx, rep, audit.ActorScheduler, s.ID, fmt.Sprintf("last seen %s, older than %d days", s.LastSeen.Format(time.RFC3339), m.cfg.RetentionDays))
		purged[s.ID] = true
		rep.ExpiredPurged++
	}

	for _, st := range m.stores {
		n, err := st.PurgeBefore(ctx, rep.Cutoff)
		if err != nil {
			m.storeError(rep, st.Name(), "purge_before", err)
			continue
		}
		rep.OrphanRows += n
		rep.RowsPurged += n
		if n > 0 {
			m.record(ctx, audit.Entry{
				Actor:        audit.ActorScheduler,
				Action:       audit.ActionRowsPurged,
				Store:        st.Name(),
				Summary:      "session-less rows older than " + rep.Cutoff.Format(time.RFC3339),
				RowsAffected: n,
			})
		}
	}

	if m.cfg.MaxStoreSizeBytes > 0 {
		// sessions is ordered oldest last-seen first; a zero last-seen
		// sorts before everything.
		for _, s := range sessions {
			if purged[s.ID] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			size := m.totalSize(ctx, nil)
			if size <= m.cfg.MaxStoreSizeBytes {
				break
			}
			m.purgeSession(ctx, rep, audit.ActorScheduler, s.ID, fmt.Sprintf("store size %d exceeds cap %d", size, m.cfg.MaxStoreSizeBytes))
			rep.OverCapPurged++
		}
	}

	for _, st := range m.stores {
		if err := st.Compact(ctx); err != nil {
			m.storeError(rep, st.Name(), "compact", err)
		}
	}
	rep.SizeAfter = m.totalSize(ctx, nil)

	m.logger.Info("retention finished",
		"cutoff", rep.Cutoff,
		"sessions_purged", len(rep.SessionsPurged),
		"rows_purged", rep.RowsPurged,
		"size_before", rep.SizeBefore,
		"size_after", rep.SizeAfter,
		"errors", len(rep.Errors),
	)
	return rep, nil
}

// PurgeSession removes one session from every store, its media directory
// and its analysis rows.
func (m *Manager) PurgeSession(ctx context.Context, sessionID string) *Report {
	rep := &Report{}
	m.purgeSession(ctx, rep, audit.ActorUser, sessionID, "requested")
	return rep
}

func (m *Manager) purgeSession(ctx context.Context, rep *Report, actor audit.Actor, id, reason string) {
	var rows int64
	for _, st := range m.stores {
		n, err := st.PurgeSession(ctx, id)
		if err != nil {
			m.storeError(rep, st.Name(), "purge_session "+id, err)
			continue
		}
		rows += n
	}
	if m.cfg.MediaDir != "" {
		if err := os.RemoveAll(filepath.Join(m.cfg.MediaDir, safeName(id))); err != nil {
			m.storeError(rep, "media", "remove "+id, err)
		}
	}
	if m.analysis != nil {
		n, err := m.analysis.DeleteSession(ctx, id)
		if err != nil {
			m.storeError(rep, "analysis", "delete_session "+id, err)
		}
		rows += n
	}
	rep.SessionsPurged = append(rep.SessionsPurged, id)
	rep.RowsPurged += rows
	m.record(ctx, audit.Entry{
		Actor:        actor,
		Action:       audit.ActionSessionPurged,
		SessionID:    id,
		Summary:      reason,
		RowsAffected: rows,
	})
	m.logger.Info("session purged", "session", id, "rows", rows, "reason", reason)
}

// mergedSessions combines the session lists of all stores. Stores that
// fail are recorded in rep when rep is non-nil.
func (m *Manager) mergedSessions(ctx context.Context, rep *Report) ([]store.SessionStat, error) {
	byID := make(map[string]*store.SessionStat)
	for _, st := range m.stores {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list, err := st.Sessions(ctx)
		if err != nil {
			if rep != nil {
				m.storeError(rep, st.Name(), "sessions", err)
			} else {
				m.logger.Warn("listing sessions", "store", st.Name(), "error", err)
			}
			continue
		}
		for _, s := range list {
			cur, ok := byID[s.ID]
			if !ok {
				c := s
				byID[s.ID] = &c
				continue
			}
			cur.Rows += s.Rows
			if !s.FirstSeen.IsZero() && (cur.FirstSeen.IsZero() || s.FirstSeen.Before(cur.FirstSeen)) {
				cur.FirstSeen = s.FirstSeen
			}
			if s.LastSeen.After(cur.LastSeen) {
				cur.LastSeen = s.LastSeen
			}
		}
	}
	out := make([]store.SessionStat, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.Before(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Manager) totalSize(ctx context.Context, rep *Report) int64 {
	var total int64
	for _, st := range m.stores {
		n, err := st.LogicalSize(ctx)
		if err != nil {
			if rep != nil {
				m.storeError(rep, st.Name(), "size", err)
			}
			continue
		}
		total += n
	}
	return total
}

func (m *Manager) storeError(rep *Report, name, op string, err error) {
	m.logger.Warn("retention step failed", "store", name, "op", op, "error", err)
	rep.Errors = append(rep.Errors, StoreError{Store: name, Op: op, Err: err.Error()})
}

func (m *Manager) record(ctx context.Context, e audit.Entry) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, e); err != nil {
		m.logger.Warn("recording audit entry", "action", e.Action, "error", err)
	}
}
