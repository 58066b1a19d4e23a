package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/pipeline"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
	"github.com/ziadkadry99/flowtrace/internal/store"
)

// processRequest selects pipeline stages. Omitted stages do not run.
type processRequest struct {
	Understand bool   `json:"understand"`
	Prototype  bool   `json:"prototype"`
	Mode       string `json:"mode"`
	Title      string `json:"title"`
	Notes      string `json:"notes"`
	Export     bool   `json:"export"`
	Retain     bool   `json:"retain"`
}

func (p processRequest) options() pipeline.Options {
	return pipeline.Options{
		Understand: p.Understand,
		Prototype:  p.Prototype,
		Mode:       prototype.ParseMode(p.Mode),
		Title:      p.Title,
		Notes:      p.Notes,
		Export:     p.Export,
		Retain:     p.Retain,
	}
}

func (s *Server) registerSessions(r chi.Router) {
	r.Get("/api/sessions", s.handleListSessions)
	r.Route("/api/sessions/{id}", func(r chi.Router) {
		r.Get("/events", s.handleSessionEvents)
		r.Get("/understanding", s.handleGetUnderstanding)
		r.Post("/understand", s.handleRunStage(pipeline.StageUnderstand))
		r.Post("/prototype", s.handleRunStage(pipeline.StagePrototype))
		r.Post("/process", s.handleProcess)
		r.Post("/export", s.handleExport)
		r.Delete("/", s.handlePurge)
	})
	r.Post("/api/retention/run", s.handleRetention)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline.Retention == nil {
		unavailable(w, "retention manager")
		return
	}
	sessions, err := s.deps.Pipeline.Retention.Sessions(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []store.SessionStat{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline.Correlator == nil {
		unavailable(w, "correlator")
		return
	}
	res, err := s.deps.Pipeline.Correlator.Correlate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if res.Events == nil {
		res.Events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetUnderstanding(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline.Analysis == nil {
		unavailable(w, "analysis store")
		return
	}
	res, err := s.deps.Pipeline.Analysis.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRunStage runs a single stage and returns only its result. The
// prototype stage takes mode, title and notes from the body.
func (s *Server) handleRunStage(stage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if err := decodeOptional(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		opts := req.options()
		opts.Understand = stage == pipeline.StageUnderstand
		opts.Prototype = stage == pipeline.StagePrototype
		opts.Export, opts.Retain = false, false

		out, ok := s.process(w, r, opts)
		if !ok {
			return
		}
		for _, e := range out.Errors {
			if e.Stage == stage {
				writeError(w, http.StatusInternalServerError, e.Err)
				return
			}
		}
		if stage == pipeline.StageUnderstand {
			writeJSON(w, http.StatusOK, out.Understanding)
			return
		}
		writeJSON(w, http.StatusCreated, out.Bundle)
	}
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, ok := s.process(w, r, req.options())
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, opts pipeline.Options) (*pipeline.Outcome, bool) {
	if s.deps.Pipeline.Correlator == nil {
		unavailable(w, "correlator")
		return nil, false
	}
	out, err := s.deps.Pipeline.Process(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.writeErr(w, r, err)
		return nil, false
	}
	return out, true
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline.Retention == nil {
		unavailable(w, "retention manager")
		return
	}
	res, err := s.deps.Pipeline.Retention.ExportSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline.Retention == nil {
		unavailable(w, "retention manager")
		return
	}
	rep := s.deps.Pipeline.Retention.PurgeSession(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRetention(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline.Retention == nil {
		unavailable(w, "retention manager")
		return
	}
	rep, err := s.deps.Pipeline.Retention.EnforceRetention(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) registerPrototypes(r chi.Router) {
	r.Route("/api/prototypes", func(r chi.Router) {
		r.Get("/", s.handleListPrototypes)
		r.Get("/{key}", s.handleGetPrototype)
		r.Get("/{key}/view", s.handleViewPrototype)
		r.Delete("/{key}", s.handleDeletePrototype)
	})
}

func (s *Server) handleListPrototypes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		unavailable(w, "prototype registry")
		return
	}
	entries, err := s.deps.Registry.List(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if entries == nil {
		entries = []prototype.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetPrototype(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.prototypeEntry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleViewPrototype(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.prototypeEntry(w, r)
	if !ok {
		return
	}
	page, err := prototype.RenderHTML(entry.OutputDir)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// handleDeletePrototype unregisters a bundle. Its files stay on disk.
func (s *Server) handleDeletePrototype(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		unavailable(w, "prototype registry")
		return
	}
	if err := s.deps.Registry.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) prototypeEntry(w http.ResponseWriter, r *http.Request) (*prototype.Entry, bool) {
	if s.deps.Registry == nil {
		unavailable(w, "prototype registry")
		return nil, false
	}
	entry, err := s.deps.Registry.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		if !errors.Is(err, event.ErrNotFound) {
			s.writeErr(w, r, err)
			return nil, false
		}
		writeError(w, http.StatusNotFound, "prototype not found")
		return nil, false
	}
	return entry, true
}
