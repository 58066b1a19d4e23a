package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/flowtrace/internal/collector"
	"github.com/ziadkadry99/flowtrace/internal/event"
)

// maxIngestBody caps one POSTed batch.
const maxIngestBody = 8 << 20

// maxStreamMessage bounds one websocket frame. A frame over the limit
// closes the connection.
const maxStreamMessage = 1 << 20

// newUpgrader accepts requests without an Origin header, which native
// collectors never send, and browser origins matching the allowed list.
func newUpgrader(origins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origins, origin)
		},
	}
}

// originAllowed matches origin against patterns such as
// "http://localhost:*"; "*" allows any origin.
func originAllowed(patterns []string, origin string) bool {
	for _, p := range patterns {
		if p == "*" || strings.EqualFold(p, origin) {
			return true
		}
		if ok, _ := path.Match(strings.ToLower(p), strings.ToLower(origin)); ok {
			return true
		}
	}
	return false
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type collectorStatus struct {
	Name      string `json:"name"`
	SessionID string `json:"session_id,omitempty"`
	Paused    bool   `json:"paused"`
	Pending   int    `json:"pending"`
	Dropped   int    `json:"dropped"`
}

type ingestResult struct {
	Accepted int            `json:"accepted"`
	Rejected []ingestReject `json:"rejected,omitempty"`
}

type ingestReject struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// streamMessage is sent back for every websocket frame.
type streamMessage struct {
	Type     string `json:"type"` // "ack" or "error"
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) registerIngest(r chi.Router) {
	r.Get("/api/collectors", s.handleCollectors)
	r.Route("/api/collect/{collector}", func(r chi.Router) {
		r.Post("/session", s.handleStartSession)
		r.Delete("/session", s.handleStopSession)
		r.Post("/pause", s.handlePause(true))
		r.Post("/resume", s.handlePause(false))
		r.Post("/events", s.handleEvents)
	})
}

func (s *Server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	out := []collectorStatus{}
	if set := s.deps.Collectors; set != nil {
		for _, name := range set.Names() {
			c, _ := set.Get(name)
			out = append(out, collectorStatus{
				Name:      name,
				SessionID: c.SessionID(),
				Paused:    c.Paused(),
				Pending:   c.Pending(),
				Dropped:   c.Dropped(),
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collector(w, r)
	if !ok {
		return
	}
	var req sessionRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := c.StartSession(req.SessionID)
	writeJSON(w, http.StatusCreated, sessionRequest{SessionID: id})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collector(w, r)
	if !ok {
		return
	}
	id := c.SessionID()
	c.StopSession()
	writeJSON(w, http.StatusOK, sessionRequest{SessionID: id})
}

func (s *Server) handlePause(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.collector(w, r)
		if !ok {
			return
		}
		if pause {
			c.Pause()
		} else {
			c.Resume()
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paused": c.Paused()})
	}
}

// handleEvents accepts a JSON array of events. Events the collector does
// not record are reported back by index; the rest are buffered.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collector")
	if _, ok := s.collector(w, r); !ok {
		return
	}
	var raw []json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of events")
		return
	}
	res := ingestResult{}
	for i, msg := range raw {
		if err := s.record(name, msg); err != nil {
			res.Rejected = append(res.Rejected, ingestReject{Index: i, Error: err.Error()})
			continue
		}
		res.Accepted++
	}
	status := http.StatusAccepted
	if res.Accepted == 0 && len(res.Rejected) > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

// handleStream ingests one event (or an array of events) per websocket
// message and acknowledges each message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collector")
	if _, ok := s.collector(w, r); !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "collector", name, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxStreamMessage)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read", "collector", name, "error", err)
			}
			return
		}

		batch := []json.RawMessage{msg}
		if len(msg) > 0 && msg[0] == '[' {
			batch = nil
			if err := json.Unmarshal(msg, &batch); err != nil {
				s.send(conn, streamMessage{Type: "error", Error: "invalid message format"})
				continue
			}
		}
		reply := streamMessage{Type: "ack"}
		var errs []error
		for _, m := range batch {
			if err := s.record(name, m); err != nil {
				errs = append(errs, err)
				continue
			}
			reply.Accepted++
		}
		if len(errs) > 0 {
			reply.Type = "error"
			reply.Error = errors.Join(errs...).Error()
		}
		s.send(conn, reply)
	}
}

func (s *Server) send(conn *websocket.Conn, m streamMessage) {
	if err := conn.WriteJSON(m); err != nil {
		s.logger.Warn("websocket write", "error", err)
	}
}

// record decodes one event and hands it to the named collector.
func (s *Server) record(name string, msg json.RawMessage) error {
	var e event.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		return fmt.Errorf("%w: %v", event.ErrMalformedEvent, err)
	}
	if err := s.deps.Collectors.Accepts(name, e.Kind); err != nil {
		return err
	}
	c, _ := s.deps.Collectors.Get(name)
	c.Record(e)
	return nil
}

func (s *Server) collector(w http.ResponseWriter, r *http.Request) (*collector.Collector, bool) {
	if s.deps.Collectors == nil {
		unavailable(w, "collectors")
		return nil, false
	}
	name := chi.URLParam(r, "collector")
	c, ok := s.deps.Collectors.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown collector %q", name))
		return nil, false
	}
	return c, true
}
