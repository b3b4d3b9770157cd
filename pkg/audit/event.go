// Package audit records every mutating RPC call to a JSON-lines trail
// under the daemon log directory, with size-based rotation.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is one auditable RPC invocation.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	User      string        `json:"user"`
	Method    string        `json:"method"`
	Lab       string        `json:"lab,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	// Remote is the peer address of the WebSocket connection that carried
	// the call; Connection is its registry UUID.
	Remote     string `json:"remote,omitempty"`
	Connection string `json:"connection,omitempty"`
}

// Filter defines criteria for querying audit events.
type Filter struct {
	User        string
	Method      string
	Lab         string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an event for one method call.
func NewEvent(user, method string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		User:      user,
		Method:    method,
	}
}

// WithLab sets the lab the call operated on.
func (e *Event) WithLab(labID string) *Event {
	e.Lab = labID
	return e
}

// WithConnection records the carrying connection.
func (e *Event) WithConnection(id, remote string) *Event {
	e.Connection = id
	e.Remote = remote
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the handler run time.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}
