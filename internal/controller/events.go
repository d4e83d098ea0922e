package controller

import (
	"context"
	"time"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/metrics"
)

type EventType string

const (
	EventUserTurnAppended       EventType = "user_turn_appended"
	EventAssistantTurnStarted   EventType = "assistant_turn_started"
	EventAssistantTurnDelta     EventType = "assistant_turn_delta"
	EventAssistantTurnFinalized EventType = "assistant_turn_finalized"
	EventExchangeFailed         EventType = "exchange_failed"
	EventBusyRejected           EventType = "busy_rejected"
	EventControlsChanged        EventType = "controls_changed"
	EventHistoryReplaced        EventType = "history_replaced"
)

type Controls struct {
	InputEnabled bool `json:"input_enabled"`
	StopEnabled  bool `json:"stop_enabled"`
}

// Event is what the controller tells the presentation layer. Which fields are set
// depends on Type.
type Event struct {
	Type          EventType           `json:"type"`
	RequestID     string              `json:"request_id,omitempty"`
	PlaceholderID string              `json:"placeholder_id,omitempty"`
	Text          string              `json:"text,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	Metrics       *metrics.Summary    `json:"metrics,omitempty"`
	Controls      *Controls           `json:"controls,omitempty"`
	Turns         []conversation.Turn `json:"turns,omitempty"`
}

type requestIDKey struct{}

// WithRequestID tags every event caused by a Send with ctx with id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Sink receives events in emission order. Emit must not call back into the controller.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) {
	f(ev)
}

type tee []Sink

func (t tee) Emit(ev Event) {
	for _, s := range t {
		s.Emit(ev)
	}
}

// Tee fans every event out to all sinks, in order.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type discard struct{}

func (discard) Emit(Event) {}
