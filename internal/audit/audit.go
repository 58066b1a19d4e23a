package audit

import "time"

// Actor identifies who triggered an action.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorScheduler Actor = "scheduler"
	ActorPipeline  Actor = "pipeline"
)

// Action describes what was done.
type Action string

const (
	ActionSessionExported    Action = "session_exported"
	ActionSessionPurged      Action = "session_purged"
	ActionRowsPurged         Action = "rows_purged"
	ActionPrototypeGenerated Action = "prototype_generated"
	ActionAnalysisStored     Action = "analysis_stored"
)

// Entry is a single audit trail record.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        Actor     `json:"actor"`
	Action       Action    `json:"action"`
	SessionID    string    `json:"session_id,omitempty"`
	Store        string    `json:"store,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	RowsAffected int64     `json:"rows_affected"`
}
