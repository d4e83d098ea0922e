package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Client is what a model provider has to offer. The concrete clients live in
// internal/api/client and satisfy it structurally.
type Client interface {
	Name() string
	EnsureModel(ctx context.Context, model string) error
	StreamChat(ctx context.Context, model string, turns []conversation.Turn, fn func(delta string) error) error
}

// Lister is implemented by clients that can enumerate their models.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

type Readiness struct {
	Ready  bool
	Reason string
}

func Ready() Readiness {
	return Readiness{Ready: true}
}

func Unavailable(reason string) Readiness {
	return Readiness{Reason: reason}
}

// Adapter wraps one client and model. Readiness is checked once per model and
// concurrent checks share a single call.
type Adapter struct {
	mu         sync.Mutex
	client     Client
	model      string
	ready      map[string]bool
	group      singleflight.Group
	bufferSize int
	log        *logger.Logger
}

type AdapterOption func(*Adapter)

func WithBufferSize(n int) AdapterOption {
	return func(a *Adapter) {
		a.bufferSize = n
	}
}

func WithLogger(l *logger.Logger) AdapterOption {
	return func(a *Adapter) {
		a.log = l
	}
}

func NewAdapter(client Client, model string, options ...AdapterOption) *Adapter {
	a := &Adapter{
		client:     client,
		model:      model,
		ready:      make(map[string]bool),
		bufferSize: DefaultBufferSize,
		log:        logger.NewLogger("backend"),
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// SetTarget switches provider and model for the next exchange.
func (a *Adapter) SetTarget(client Client, model string) {
	a.mu.Lock()
	a.client = client
	a.model = model
	a.mu.Unlock()
	a.log.Info().Str("model", model).Msg("backend target changed")
}

func (a *Adapter) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

func (a *Adapter) target() (Client, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client, a.model
}

func cacheKey(c Client, model string) string {
	return c.Name() + "/" + model
}

// EnsureReady reports whether the configured model can serve a request. Failures are
// not cached so a later call retries.
func (a *Adapter) EnsureReady(ctx context.Context) Readiness {
	client, model := a.target()
	if client == nil {
		return Unavailable("no backend configured")
	}
	if model == "" {
		return Unavailable("no model selected")
	}

	key := cacheKey(client, model)
	a.mu.Lock()
	cached := a.ready[key]
	a.mu.Unlock()
	if cached {
		return Ready()
	}

	ch := a.group.DoChan(key, func() (any, error) {
		err := a.check(context.WithoutCancel(ctx), client, model)
		if err == nil {
			a.mu.Lock()
			a.ready[key] = true
			a.mu.Unlock()
		}
		return nil, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			a.log.Warn().Err(res.Err).Str("model", model).Msg("backend not ready")
			return Unavailable(res.Err.Error())
		}
		return Ready()
	case <-ctx.Done():
		return Unavailable(errors.Wrap(ctx.Err(), "readiness check abandoned").Error())
	}
}

func (a *Adapter) check(ctx context.Context, client Client, model string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("readiness check panic: %v", r)
		}
	}()
	a.log.Debug().Str("backend", client.Name()).Str("model", model).Msg("checking model")
	return client.EnsureModel(ctx, model)
}

// OpenStream starts generation for the given turns. The returned source always
// terminates with Done.
func (a *Adapter) OpenStream(ctx context.Context, turns []conversation.Turn) *ChunkSource {
	client, model := a.target()
	return NewSource(ctx, a.bufferSize, func(ctx context.Context, emit Emit) error {
		if client == nil {
			return errors.New("no backend configured")
		}
		a.log.Debug().Str("backend", client.Name()).Str("model", model).Int("turns", len(turns)).Msg("opening stream")
		err := client.StreamChat(ctx, model, turns, emit)
		if errors.Is(err, ErrStopped) {
			return nil
		}
		return err
	})
}
