package coursesaga

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StepEvent is an entry in the saga log.
type StepEvent struct {
	Step      StepName      `json:"step"`
	EventType StepEventType `json:"event"`
	At        time.Time     `json:"at"`
	Error     string        `json:"error,omitempty"`
}

func (e StepEvent) String() string {
	if e.Error != "" {
		return fmt.Sprintf("%s %s: %s", e.Step, e.EventType, e.Error)
	}
	return fmt.Sprintf("%s %s", e.Step, e.EventType)
}

// StepEventType defines the events that can occur for a step.
type StepEventType int

const (
	EventStarted StepEventType = iota
	EventSucceeded
	EventFailed
	EventUndoStarted
	EventUndoFinished
	EventUndoFailed
)

func (s StepEventType) String() string {
	switch s {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventUndoStarted:
		return "undo_started"
	case EventUndoFinished:
		return "undo_finished"
	case EventUndoFailed:
		return "undo_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s StepEventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *StepEventType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for t := EventStarted; t <= EventUndoFailed; t++ {
		if t.String() == str {
			*s = t
			return nil
		}
	}
	return fmt.Errorf("invalid step event type: %s", str)
}

// StepStatus is the status of a step derived from its recorded events.
type StepStatus int

const (
	StatusNeverStarted StepStatus = iota
	StatusStarted
	StatusSucceeded
	StatusFailed
	StatusUndoStarted
	StatusUndoFinished
	StatusUndoFailed
)

func (s StepStatus) String() string {
	switch s {
	case StatusNeverStarted:
		return "never_started"
	case StatusStarted:
		return "started"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusUndoStarted:
		return "undo_started"
	case StatusUndoFinished:
		return "undo_finished"
	case StatusUndoFailed:
		return "undo_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// next returns the status after recording eventType. Only a succeeded step
// may start undoing, and an undo can start once, which is what keeps
// compensation to at most one call per step.
func (s StepStatus) next(eventType StepEventType) (StepStatus, error) {
	switch s {
	case StatusNeverStarted:
		if eventType == EventStarted {
			return StatusStarted, nil
		}
	case StatusStarted:
		switch eventType {
		case EventSucceeded:
			return StatusSucceeded, nil
		case EventFailed:
			return StatusFailed, nil
		}
	case StatusSucceeded:
		if eventType == EventUndoStarted {
			return StatusUndoStarted, nil
		}
	case StatusUndoStarted:
		switch eventType {
		case EventUndoFinished:
			return StatusUndoFinished, nil
		case EventUndoFailed:
			return StatusUndoFailed, nil
		}
	}
	return StatusNeverStarted, fmt.Errorf("illegal event %s for step in status %s", eventType, s)
}

// SagaLog is the in-memory write log of one saga.
type SagaLog struct {
	mu         sync.Mutex
	sagaID     string
	unwinding  bool
	events     []StepEvent
	stepStatus map[StepName]StepStatus
	now        func() time.Time
}

// NewSagaLog creates an empty SagaLog.
func NewSagaLog(sagaID string) *SagaLog {
	return &SagaLog{
		sagaID:     sagaID,
		stepStatus: make(map[StepName]StepStatus),
		now:        time.Now,
	}
}

// Record appends an event after checking the transition is legal.
func (l *SagaLog) Record(step StepName, eventType StepEventType, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := l.stepStatus[step].next(eventType)
	if err != nil {
		return fmt.Errorf("saga %s step %s: %w", l.sagaID, step, err)
	}
	switch next {
	case StatusFailed, StatusUndoStarted, StatusUndoFinished, StatusUndoFailed:
		l.unwinding = true
	}

	event := StepEvent{Step: step, EventType: eventType, At: l.now()}
	if cause != nil {
		event.Error = cause.Error()
	}
	l.stepStatus[step] = next
	l.events = append(l.events, event)
	return nil
}

// Status returns the current status of a step.
func (l *SagaLog) Status(step StepName) StepStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stepStatus[step]
}

// Unwinding reports whether the saga has started failing backwards.
func (l *SagaLog) Unwinding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unwinding
}

// Events returns a copy of the recorded events.
func (l *SagaLog) Events() []StepEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StepEvent(nil), l.events...)
}

func (l *SagaLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("SAGA LOG:\n")
	sb.WriteString(fmt.Sprintf("saga id:   %s\n", l.sagaID))
	direction := "forward"
	if l.unwinding {
		direction = "unwinding"
	}
	sb.WriteString(fmt.Sprintf("direction: %s\n", direction))
	sb.WriteString(fmt.Sprintf("events (%d total):\n", len(l.events)))
	for i, event := range l.events {
		sb.WriteString(fmt.Sprintf("%03d %s\n", i+1, event.String()))
	}
	return sb.String()
}
