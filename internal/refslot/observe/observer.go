// Package observe provides event-based observability for slots and the
// stress runner. Events are cheap structs handed to an Observer; the default
// NoOpObserver keeps hot paths free of logging cost.
package observe

import (
	"context"
	"log/slog"
	"time"
)

// Level represents event severity aligned with OTel SeverityNumber ranges.
type Level int

const (
	LevelVerbose Level = 5  // OTel DEBUG (5-8), maps to slog.LevelDebug
	LevelInfo    Level = 9  // OTel INFO (9-12), maps to slog.LevelInfo
	LevelWarning Level = 13 // OTel WARN (13-16), maps to slog.LevelWarn
	LevelError   Level = 17 // OTel ERROR (17-20), maps to slog.LevelError
)

// String returns the OTel severity text for the level.
func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// SlogLevel maps this level to the corresponding slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of event.
type EventType string

const (
	EventSlotStore   EventType = "slot.store"
	EventSlotRelease EventType = "slot.release"
	EventSlotClose   EventType = "slot.close"

	EventTableCreate EventType = "table.create"
	EventViolation   EventType = "violation.report"

	EventStressStart    EventType = "stress.start"
	EventStressComplete EventType = "stress.complete"
)

// Event is an observability event. Data carries metadata only (identities,
// counts, policy names), never the managed values themselves.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// Observer receives events. Implementations must not block or panic; a slow
// observer slows every slot operation that emits to it.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// Emit builds an event stamped with the current time and sends it to obs.
// A nil obs is ignored.
func Emit(obs Observer, typ EventType, level Level, source string, data map[string]any) {
	if obs == nil {
		return
	}
	obs.OnEvent(context.Background(), Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	})
}
