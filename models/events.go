package models

import (
	"encoding/json"
	"time"
)

// RunState is the lifecycle state of a macro run. Only the engine's worker
// goroutine writes it; everyone else sees it through StateChanged events or
// the status endpoint.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateFailed
)

func (s RunState) String() string {
	return [...]string{"IDLE", "RUNNING", "PAUSED", "STOPPING", "STOPPED", "FAILED"}[s]
}

func (s RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Terminal reports whether the run can no longer accept control signals.
func (s RunState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Run event types.
const (
	EventStateChanged    = "state_changed"
	EventActionStarted   = "action_started"
	EventActionCompleted = "action_completed"
	EventActionFailed    = "action_failed"
	EventRunFinished     = "run_finished"
	EventLog             = "log"
)

// Reasons carried by run_finished events.
const (
	ReasonCompleted     = "completed"
	ReasonStopped       = "stopped"
	ReasonEmergencyStop = "emergency_stop"
	ReasonMaxSteps      = "max_steps"
	ReasonFailed        = "failed"
)

// Per-action error kinds carried by action_failed events.
const (
	ErrKindInputRejected = "input_rejected"
	ErrKindImageNotFound = "image_not_found"
)

// RunEvent is one engine event, published in execution order.
type RunEvent struct {
	Type       string `json:"type"`
	RunID      string `json:"run_id"`
	State      string `json:"state,omitempty"`
	Index      int    `json:"index"`
	ActionType string `json:"action_type,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// NewRunEvent stamps an event with the current time.
func NewRunEvent(eventType, runID string) RunEvent {
	return RunEvent{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// RunStatus is the read-only mirror of the active run reported over the API.
type RunStatus struct {
	RunID         string   `json:"run_id,omitempty"`
	State         RunState `json:"state"`
	MacroName     string   `json:"macro_name,omitempty"`
	StepsExecuted int      `json:"steps_executed"`
	StartedAt     int64    `json:"started_at,omitempty"`
}
