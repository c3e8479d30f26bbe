// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Transfer lifecycle
	TransferCreated   EventType = "transfer.created"
	TransferFulfilled EventType = "transfer.fulfilled"
	TransferExpired   EventType = "transfer.expired"
	TransferCancelled EventType = "transfer.cancelled"

	// Solver lifecycle
	SolverCreated EventType = "solver.created"
	SolverStarted EventType = "solver.started"
	SolverStopped EventType = "solver.stopped"
	SolverFailed  EventType = "solver.failed"
	SolverDeleted EventType = "solver.deleted"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	EventTime time.Time `json:"time"`
}

func (e BaseEvent) Type() EventType {
	return e.EventType
}

func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// TransferEvent is emitted on every transfer state change.
type TransferEvent struct {
	BaseEvent
	TransferID string `json:"transferId"`
	Owner      string `json:"owner"`
	Status     string `json:"status"`
	RequestID  string `json:"requestId,omitempty"`
	SolverID   string `json:"solverId,omitempty"`
}

// SolverEvent is emitted on every solver lifecycle change.
type SolverEvent struct {
	BaseEvent
	SolverID string `json:"solverId"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// Publisher accepts events for delivery. Producers hold this instead of *Bus.
type Publisher interface {
	Publish(event Event) error
}
