// Package pipeline runs the end-of-session batch: correlate, understand,
// generate a prototype, export, then apply retention.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ziadkadry99/flowtrace/internal/audit"
	"github.com/ziadkadry99/flowtrace/internal/correlate"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
	"github.com/ziadkadry99/flowtrace/internal/retention"
	"github.com/ziadkadry99/flowtrace/internal/understand"
)

// Stage names used in Outcome.
const (
	StageUnderstand = "understand"
	StagePrototype  = "prototype"
	StageExport     = "export"
	StageRetention  = "retention"
)

// Options selects the stages to run after correlation.
type Options struct {
	Understand bool
	Prototype  bool
	Mode       prototype.Mode
	Title      string
	Notes      string
	Export     bool
	// Retain runs retention, but only after a successful export.
	Retain bool
}

// StageError reports a failed or skipped stage.
type StageError struct {
	Stage string `json:"stage"`
	Err   string `json:"error"`
}

// Outcome is what a run produced. Results of stages that did not run or
// failed are nil.
type Outcome struct {
	SessionID     string                  `json:"session_id"`
	Events        int                     `json:"events"`
	Correlation   *correlate.Result       `json:"-"`
	Understanding *understand.Result      `json:"understanding,omitempty"`
	Bundle        *prototype.Bundle       `json:"prototype,omitempty"`
	Export        *retention.ExportResult `json:"export,omitempty"`
	Retention     *retention.Report       `json:"retention,omitempty"`
	Errors        []StageError            `json:"errors,omitempty"`
}

// Failed reports whether stage failed or was skipped.
func (o *Outcome) Failed(stage string) bool {
	for _, e := range o.Errors {
		if e.Stage == stage {
			return true
		}
	}
	return false
}

// Correlator reconstructs a session.
type Correlator interface {
	Correlate(ctx context.Context, sessionID string) (*correlate.Result, error)
}

// Pipeline wires the batch components together. Components left nil
// disable their stage.
type Pipeline struct {
	Correlator Correlator
	Engine     *understand.Engine
	Analysis   *understand.Store
	Generator  *prototype.Generator
	Retention  *retention.Manager
	Audit      audit.Recorder
	Logger     *slog.Logger
}

// Process runs the selected stages for sessionID. Correlation errors,
// including event.ErrNotFound, are returned as is. Later stage failures
// are logged and recorded in the Outcome without undoing earlier work.
func (p *Pipeline) Process(ctx context.Context, sessionID string, opts Options) (*Outcome, error) {
	logger := p.logger()
	if p.Correlator == nil {
		return nil, errors.New("pipeline has no correlator")
	}

	res, err := p.Correlator.Correlate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{SessionID: sessionID, Events: len(res.Events), Correlation: res}
	fail := func(stage string, err error) {
		logger.Warn("pipeline stage failed", "stage", stage, "session", sessionID, "error", err)
		out.Errors = append(out.Errors, StageError{Stage: stage, Err: err.Error()})
	}

	if opts.Understand {
		if err := p.understand(ctx, out, res); err != nil {
			fail(StageUnderstand, err)
		}
	}

	if opts.Prototype {
		if p.Generator == nil {
			fail(StagePrototype, errors.New("prototype generator not configured"))
		} else {
			b, err := p.Generator.GenerateFromResult(ctx, res, prototype.Options{Mode: opts.Mode, Title: opts.Title, Notes: opts.Notes})
			if err != nil {
				fail(StagePrototype, err)
			} else {
				out.Bundle = b
			}
		}
	}

	exported := false
	if opts.Export {
		if p.Retention == nil {
			fail(StageExport, errors.New("retention manager not configured"))
		} else {
			ex, err := p.Retention.ExportCorrelated(ctx, res)
			if err != nil {
				fail(StageExport, err)
			} else {
				out.Export = ex
				exported = true
			}
		}
	}

	if opts.Retain {
		if !exported {
			fail(StageRetention, errors.New("skipped: retention runs only after a successful export"))
		} else {
			rep, err := p.Retention.EnforceRetention(ctx)
			if err != nil {
				fail(StageRetention, err)
			}
			out.Retention = rep
		}
	}

	logger.Info("session processed", "session", sessionID, "events", out.Events, "failed_stages", len(out.Errors))
	return out, nil
}

func (p *Pipeline) understand(ctx context.Context, out *Outcome, res *correlate.Result) error {
	if p.Engine == nil {
		return errors.New("understanding engine not configured")
	}
	r := p.Engine.Analyze(out.SessionID, res.Events)
	out.Understanding = r
	if p.Analysis == nil {
		return nil
	}
	if err := p.Analysis.Save(ctx, r); err != nil {
		return fmt.Errorf("storing analysis: %w", err)
	}
	if p.Audit != nil {
		err := p.Audit.Log(ctx, audit.Entry{
			Actor:        audit.ActorPipeline,
			Action:       audit.ActionAnalysisStored,
			SessionID:    out.SessionID,
			Summary:      fmt.Sprintf("%d intents, %d segments", len(r.Intents), len(r.Segments)),
			RowsAffected: int64(len(r.Intents) + len(r.Context) + len(r.Dependencies) + len(r.Segments) + len(r.Goals)),
		})
		if err != nil {
			p.logger().Warn("recording audit entry", "error", err)
		}
	}
	return nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
