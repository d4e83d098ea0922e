package client

import (
	"context"
	"sort"
	"sync"

	"github.com/bz888/studyhelper/internal/backend"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownModel = errors.New("model not found")

// Provider is a backend client that can also enumerate its models.
type Provider interface {
	backend.Client
	backend.Lister
}

// Registry remembers which provider serves which model.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]backend.Client
	models    map[string]string
	log       *logger.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]backend.Client),
		models:    make(map[string]string),
		log:       logger.NewLogger("registry"),
	}
}

func (r *Registry) Register(c backend.Client) {
	r.mu.Lock()
	r.providers[c.Name()] = c
	r.mu.Unlock()
}

// Add records a model that is known without listing, e.g. the configured default.
func (r *Registry) Add(provider, model string) {
	r.mu.Lock()
	r.models[model] = provider
	r.mu.Unlock()
}

func (r *Registry) Provider(name string) (backend.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.providers[name]
	return c, ok
}

// Refresh lists the models of every provider concurrently. A provider that fails is
// logged and skipped so the others still show up. When every provider fails the
// first failure is returned and the known models are left as they were.
func (r *Registry) Refresh(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	listers := make([]Provider, 0, len(r.providers))
	for _, c := range r.providers {
		if p, ok := c.(Provider); ok {
			listers = append(listers, p)
		}
	}
	r.mu.RUnlock()

	found := make([][]string, len(listers))
	failed := make([]error, len(listers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range listers {
		g.Go(func() error {
			names, err := p.ListModels(gctx)
			if err != nil {
				r.log.Warn().Err(err).Str("provider", p.Name()).Msg("failed to list models")
				failed[i] = errors.Wrap(err, p.Name())
				return nil
			}
			found[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := allFailed(failed); err != nil {
		return nil, err
	}

	r.mu.Lock()
	for i, names := range found {
		for _, name := range names {
			r.models[name] = listers[i].Name()
		}
	}
	r.mu.Unlock()
	return r.Models(), nil
}

func allFailed(errs []error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	if first == nil {
		return nil
	}
	return errors.Wrap(first, "no provider could list models")
}

// Models returns every known model name in sorted order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderFor resolves the client that serves model.
func (r *Registry) ProviderFor(model string) (backend.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.models[model]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownModel, "%q", model)
	}
	c, ok := r.providers[name]
	if !ok {
		return nil, errors.Errorf("provider %q for model %q is not configured", name, model)
	}
	return c, nil
}
