package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawn        EventType = "spawn"
	EventSpawnFailed  EventType = "spawn_failed"
	EventStop         EventType = "stop"          // exited after the graceful request
	EventKill         EventType = "kill"          // required forceful termination
	EventStopFailed   EventType = "stop_failed"   // best effort exhausted
	EventLeaveRunning EventType = "leave_running" // shutdown disabled for this process
)

// Record describes the process an event is about.
type Record struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	PID         int    `json:"pid"`
	OriginIndex int    `json:"origin_index"`
	Error       string `json:"error,omitempty"`
}

// Event is one lifecycle transition exported to external systems.
// Session groups the events of one launch batch and its shutdown.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Session    string    `json:"session"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can list stored events, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Counter is implemented by sinks that can count the events of one session.
type Counter interface {
	Count(ctx context.Context, session string) (int64, error)
}

// Fanout delivers an event to every sink. Sink errors are logged and
// swallowed; history must never influence the lifecycle.
func Fanout(ctx context.Context, log *slog.Logger, sinks []Sink, e Event) {
	if log == nil {
		log = slog.Default()
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			log.Warn("history sink failed",
				slog.String("event", string(e.Type)),
				slog.String("path", e.Record.Path),
				slog.Any("error", err))
		}
	}
}
