package hook

import (
	"context"

	"github.com/ermine-ai/ermine/pkg/utils/logging"
)

// Event names emitted by the turn runner.
const (
	EventTurnStart  = "turn.start"
	EventTurnEnd    = "turn.end"
	EventToolResult = "tool.result"
)

// Event is one lifecycle notification.
type Event struct {
	Name   string
	Fields map[string]any
}

// Sink receives lifecycle events. Implementations must be fast;
// emission happens inline on the turn path.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LogSink writes events to the context logger at debug level.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, ev Event) {
	args := make([]any, 0, len(ev.Fields)*2)
	for k, v := range ev.Fields {
		args = append(args, k, v)
	}
	logging.From(ctx).Debug(ev.Name, args...)
}
