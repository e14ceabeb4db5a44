package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Event Interface and Base Event
// -----------------------------------------------------------------------------

// Event is something that happened to an attempt
type Event interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AttemptID() int64
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Attempt   int64     `json:"attempt_id"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType string, attemptID int64) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Attempt:   attemptID,
	}
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AttemptID() int64      { return e.Attempt }

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes domain events
type EventHandler func(event Event)

// EventDispatcher manages event subscriptions and publishing
type EventDispatcher struct {
	mu          sync.RWMutex
	handlers    map[string][]EventHandler
	allHandlers []EventHandler
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (d *EventDispatcher) Subscribe(eventType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (d *EventDispatcher) SubscribeAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allHandlers = append(d.allHandlers, handler)
}

// Publish dispatches an event to all registered handlers. A nil dispatcher
// drops the event.
func (d *EventDispatcher) Publish(event Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, h := range d.handlers[event.EventType()] {
		h(event)
	}
	for _, h := range d.allHandlers {
		h(event)
	}
}

// -----------------------------------------------------------------------------
// Attempt Events
// -----------------------------------------------------------------------------

const (
	EventAttemptStarted   = "attempt.started"
	EventAttemptFinished  = "attempt.finished"
	EventSubmissionGraded = "submission.graded"
	EventChecksResolved   = "submission.checks_resolved"
	EventStageEntered     = "stage.entered"
)

// AttemptStartedEvent is published when a student starts an exercise
type AttemptStartedEvent struct {
	BaseEvent
	ExerciseID int64   `json:"exercise_id"`
	StartStage StageID `json:"start_stage"`
}

// NewAttemptStartedEvent creates a new attempt started event
func NewAttemptStartedEvent(attemptID, exerciseID int64, start StageID) AttemptStartedEvent {
	return AttemptStartedEvent{
		BaseEvent:  NewBaseEvent(EventAttemptStarted, attemptID),
		ExerciseID: exerciseID,
		StartStage: start,
	}
}

// AttemptFinishedEvent is published when an attempt reaches the end
type AttemptFinishedEvent struct {
	BaseEvent
	PercentScored float64 `json:"percent_scored"`
}

// NewAttemptFinishedEvent creates a new attempt finished event
func NewAttemptFinishedEvent(attemptID int64, scored float64) AttemptFinishedEvent {
	return AttemptFinishedEvent{
		BaseEvent:     NewBaseEvent(EventAttemptFinished, attemptID),
		PercentScored: scored,
	}
}

// SubmissionGradedEvent is published after a grading pass
type SubmissionGradedEvent struct {
	BaseEvent
	SubmissionID int64   `json:"submission_id"`
	StageID      StageID `json:"stage_id"`
	Kind         Kind    `json:"kind"`
	Points       int     `json:"points"`
	Pending      bool    `json:"pending"`
}

// NewSubmissionGradedEvent creates a new submission graded event
func NewSubmissionGradedEvent(attemptID int64, sub *StageSubmission) SubmissionGradedEvent {
	return SubmissionGradedEvent{
		BaseEvent:    NewBaseEvent(EventSubmissionGraded, attemptID),
		SubmissionID: sub.ID,
		StageID:      sub.StageID,
		Kind:         sub.Kind,
		Points:       sub.EffectivePoints(),
		Pending:      sub.PendingChecks,
	}
}

// ChecksResolvedEvent is published when the last pending check of a
// submission resolves
type ChecksResolvedEvent struct {
	BaseEvent
	SubmissionID int64 `json:"submission_id"`
	Points       int   `json:"points"`
}

// NewChecksResolvedEvent creates a new checks resolved event
func NewChecksResolvedEvent(attemptID int64, sub *StageSubmission) ChecksResolvedEvent {
	return ChecksResolvedEvent{
		BaseEvent:    NewBaseEvent(EventChecksResolved, attemptID),
		SubmissionID: sub.ID,
		Points:       sub.EffectivePoints(),
	}
}

// StageEnteredEvent is published when navigation selects the next stage
type StageEnteredEvent struct {
	BaseEvent
	From   StageID `json:"from"`
	To     StageID `json:"to"`
	Repeat bool    `json:"repeat"`
}

// NewStageEnteredEvent creates a new stage entered event
func NewStageEnteredEvent(attemptID int64, from, to StageID, repeat bool) StageEnteredEvent {
	return StageEnteredEvent{
		BaseEvent: NewBaseEvent(EventStageEntered, attemptID),
		From:      from,
		To:        to,
		Repeat:    repeat,
	}
}
