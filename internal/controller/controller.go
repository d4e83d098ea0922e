package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bz888/studyhelper/internal/backend"
	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/bz888/studyhelper/internal/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrEmptyInput = errors.New("empty input")
	ErrBusy       = errors.New("an exchange is already in progress")
)

const DefaultSystemPrompt = "You are a friendly study assistant. Answer in the language of the question, " +
	"explain step by step and give short examples where they help."

// Backend is the part of backend.Adapter the controller needs.
type Backend interface {
	EnsureReady(ctx context.Context) backend.Readiness
	OpenStream(ctx context.Context, turns []conversation.Turn) *backend.ChunkSource
}

// ExchangeState lives from the start of Send until the exchange is finalized.
type ExchangeState struct {
	RequestID     string
	PlaceholderID string
	StopRequested bool
	Streaming     bool
	ModelReady    bool
	TokenCount    int
	StartedAt     time.Time

	source  *backend.ChunkSource
	content strings.Builder
}

// Controller runs one chat session. Send drives a whole exchange on the calling
// goroutine; Stop may be called from any goroutine.
type Controller struct {
	backend      Backend
	sink         Sink
	history      *conversation.History
	recorder     *metrics.Recorder
	systemPrompt string
	now          func() time.Time
	newID        func() string
	log          *logger.Logger

	mu       sync.Mutex
	state    State
	exchange *ExchangeState
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) {
		c.newID = newID
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

func WithSystemPrompt(text string) Option {
	return func(c *Controller) {
		c.systemPrompt = text
	}
}

func WithRecorder(r *metrics.Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

func WithHistory(h *conversation.History) Option {
	return func(c *Controller) {
		c.history = h
	}
}

func New(b Backend, sink Sink, options ...Option) *Controller {
	if sink == nil {
		sink = discard{}
	}
	c := &Controller{
		backend:      b,
		sink:         sink,
		systemPrompt: DefaultSystemPrompt,
		now:          time.Now,
		newID:        uuid.NewString,
		log:          logger.NewLogger("controller"),
	}
	for _, o := range options {
		o(c)
	}
	if c.history == nil {
		c.history = conversation.NewHistory()
	}
	if c.recorder == nil {
		c.recorder = metrics.NewRecorder(metrics.WithClock(c.now))
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Busy() bool {
	return c.State() != Idle
}

func (c *Controller) History() []conversation.Turn {
	return c.history.Snapshot()
}

func (c *Controller) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now()
	}
	c.sink.Emit(ev)
}

// emitExchange tags ev with the exchange it belongs to.
func (c *Controller) emitExchange(ex *ExchangeState, ev Event) {
	ev.RequestID = ex.RequestID
	ev.PlaceholderID = ex.PlaceholderID
	c.emit(ev)
}

func (c *Controller) controls(ex *ExchangeState, inputEnabled, stopEnabled bool) {
	c.emitExchange(ex, Event{Type: EventControlsChanged, Controls: &Controls{InputEnabled: inputEnabled, StopEnabled: stopEnabled}})
}

// begin moves Idle to Readying and creates the exchange.
func (c *Controller) begin(requestID string) (*ExchangeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return nil, false
	}
	c.state = Readying
	c.exchange = &ExchangeState{
		RequestID:     requestID,
		PlaceholderID: c.newID(),
		StartedAt:     c.now(),
	}
	return c.exchange, true
}

// Send runs one exchange to completion. Whitespace-only text is rejected without
// events, a call while another exchange is running is rejected with ErrBusy.
// Backend failures are reported through events, not the returned error.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	ex, ok := c.begin(RequestIDFromContext(ctx))
	if !ok {
		c.log.Debug().Msg("send rejected, exchange in progress")
		c.emit(Event{Type: EventBusyRejected, RequestID: RequestIDFromContext(ctx)})
		return ErrBusy
	}

	c.history.EnsureSystemPrompt(c.systemPrompt)
	user := conversation.NewTurn(conversation.RoleUser, text, c.now())
	c.history.Append(user)
	c.emitExchange(ex, Event{Type: EventUserTurnAppended, Text: text, Timestamp: user.Timestamp})
	c.emitExchange(ex, Event{Type: EventAssistantTurnStarted})
	c.controls(ex, false, false)

	defer c.finalize(ex)

	readiness := c.backend.EnsureReady(ctx)
	if !readiness.Ready {
		c.fail(ex, readiness.Reason)
		return nil
	}
	ex.ModelReady = true

	turns := c.history.Snapshot()
	c.mu.Lock()
	ex.source = c.backend.OpenStream(ctx, turns)
	ex.Streaming = true
	c.state = Streaming
	c.mu.Unlock()
	c.controls(ex, false, true)

	// a caller that goes away, e.g. a closed connection, stops the generation
	stopOnCancel := context.AfterFunc(ctx, func() { c.stop(ex) })
	defer stopOnCancel()

	c.drain(ex)
	if ctx.Err() != nil || ex.source.Stopped() {
		c.mu.Lock()
		ex.StopRequested = true
		c.mu.Unlock()
	}
	return nil
}

func (c *Controller) fail(ex *ExchangeState, reason string) {
	c.log.Warn().Str("reason", reason).Msg("backend unavailable")
	c.emitExchange(ex, Event{Type: EventExchangeFailed, Text: "[error] backend unavailable: " + reason})
}

func (c *Controller) drain(ex *ExchangeState) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("exchange aborted")
			c.notice(ex, fmt.Sprintf("internal error: %v", r))
			ex.source.Stop()
			for range ex.source.Chunks() {
			}
		}
	}()

	for chunk := range ex.source.Chunks() {
		switch chunk.Kind {
		case backend.KindDelta:
			ex.TokenCount++
			ex.content.WriteString(chunk.Text)
			c.emitExchange(ex, Event{Type: EventAssistantTurnDelta, Text: chunk.Text})
		case backend.KindError:
			c.log.Warn().Str("message", chunk.Text).Msg("generation failed")
			c.notice(ex, "generation failed: "+chunk.Text)
		case backend.KindDone:
			return
		default:
			c.log.Error().Str("kind", chunk.Kind.String()).Msg("unexpected chunk")
		}
	}
}

// notice appends a visible error line to the in-flight turn.
func (c *Controller) notice(ex *ExchangeState, message string) {
	text := "[error] " + message
	if ex.content.Len() > 0 {
		text = "\n" + text
	}
	ex.content.WriteString(text)
	c.emitExchange(ex, Event{Type: EventAssistantTurnDelta, Text: text})
}

func (c *Controller) finalize(ex *ExchangeState) {
	c.mu.Lock()
	c.state = Finalizing
	ex.Streaming = false
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = Idle
		c.exchange = nil
		c.mu.Unlock()
	}()

	if !ex.ModelReady {
		c.controls(ex, true, false)
		return
	}

	summary := c.recorder.Record(ex.StartedAt, ex.TokenCount, ex.StopRequested)
	content := ex.content.String()
	if content != "" {
		turn := conversation.NewTurn(conversation.RoleAssistant, content, summary.FinishedAt)
		turn.Meta = summary.String()
		c.history.Append(turn)
	}
	c.log.Info().
		Dur("elapsed", summary.Elapsed).
		Int("tokens", summary.TokenCount).
		Bool("stopped", summary.Stopped).
		Msg("exchange finished")

	c.emitExchange(ex, Event{Type: EventAssistantTurnFinalized, Text: content, Metrics: &summary})
	c.controls(ex, true, false)
}

// Stop asks the running generation to end. It only has an effect once per exchange
// and only while streaming.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	ex := c.exchange
	c.mu.Unlock()
	if ex == nil {
		return false
	}
	return c.stop(ex)
}

// stop only acts on ex, so a late call never reaches the next exchange.
func (c *Controller) stop(ex *ExchangeState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Streaming || c.exchange != ex || ex.StopRequested {
		return false
	}
	ex.StopRequested = true
	ex.source.Stop()
	c.log.Info().Msg("stop requested")
	return true
}

// Restore replaces the whole history, e.g. with a saved session.
func (c *Controller) Restore(turns []conversation.Turn) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	if err := c.history.Replace(turns); err != nil {
		c.mu.Unlock()
		return err
	}
	snapshot := c.history.Snapshot()
	c.mu.Unlock()

	c.emit(Event{Type: EventHistoryReplaced, Turns: snapshot})
	return nil
}

// Reset clears the history. The system prompt comes back with the next Send.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.history.Reset()
	c.mu.Unlock()

	c.emit(Event{Type: EventHistoryReplaced, Turns: []conversation.Turn{}})
	return nil
}
