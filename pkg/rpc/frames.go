package rpc

import (
	"encoding/json"
	"time"
)

// Frame type discriminators.
const (
	TypeRequest  = "rpc_request"
	TypeResponse = "rpc_response"
	TypeStatus   = "status"
	TypeLog      = "log"
)

// Status frame kinds.
const (
	StatusProgress = "progress"
	StatusDone     = "done"
	StatusInfo     = "info"
	StatusWaiting  = "waiting"
)

// Request is a client-initiated call. Params carry the method arguments
// plus the caller's token.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a request by ID. Exactly one of Result and Error is set.
type Response struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Progress locates a status frame inside a phased operation.
type Progress struct {
	CurrentPhase string `json:"current_phase"`
	PhaseNumber  int    `json:"phase_number"`
	TotalPhases  int    `json:"total_phases"`
}

// Status is a server-initiated event interleaved with responses on the
// same socket. Frames referencing a request always precede its response.
type Status struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
}

// Log is a broadcast log frame for subscribed connections.
type Log struct {
	Type      string                 `json:"type"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// NewResponse builds a success response, marshaling result to JSON.
func NewResponse(id string, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{Type: TypeResponse, ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failure response.
func NewErrorResponse(id string, werr *Error) *Response {
	return &Response{Type: TypeResponse, ID: id, Error: werr}
}

// NewStatus builds a status frame stamped with the current time.
func NewStatus(kind, message string) *Status {
	return &Status{
		Type:      TypeStatus,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// typeProbe sniffs the discriminator of an incoming frame.
type typeProbe struct {
	Type string `json:"type"`
}

// FrameType returns the type discriminator of a raw frame.
func FrameType(data []byte) string {
	var p typeProbe
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.Type
}
