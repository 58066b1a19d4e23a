package event

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the session or pattern does not exist. It is an
	// expected result and is not logged as an error.
	ErrNotFound = errors.New("not found")

	// ErrSourceUnavailable means a contributing store or table is missing.
	// Callers treat it as zero events from that source.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrCollaboratorUnavailable means the external summarization
	// collaborator is down or not configured.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrMalformedEvent marks an event with an unparsable timestamp or payload.
	ErrMalformedEvent = errors.New("malformed event")
)

// PersistenceError wraps a failed write to a store.
type PersistenceError struct {
	Store string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s] %s: %v", e.Store, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
