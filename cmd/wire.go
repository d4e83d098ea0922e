package cmd

import (
	"context"

	"github.com/bz888/studyhelper/internal/api/client"
	"github.com/bz888/studyhelper/internal/backend"
	"github.com/bz888/studyhelper/internal/config"
	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/pkg/errors"
)

type dependencies struct {
	registry *client.Registry
	adapter  *backend.Adapter
}

// wire builds every provider that has credentials. The configured backend must come
// up, the others are optional.
func wire(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	log := logger.NewLogger("wire")
	registry := client.NewRegistry()

	builders := map[string]func() (client.Provider, error){
		config.BackendOllama: func() (client.Provider, error) {
			return client.NewOllamaClient(cfg.Ollama.Host, nil)
		},
		config.BackendOpenAI: func() (client.Provider, error) {
			return client.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
		},
		config.BackendGemini: func() (client.Provider, error) {
			return client.NewGeminiClient(ctx, cfg.Gemini.APIKey)
		},
	}
	for name, build := range builders {
		p, err := build()
		if err != nil {
			if name == cfg.Backend {
				return nil, errors.Wrapf(err, "backend %s", name)
			}
			log.Debug().Err(err).Str("provider", name).Msg("provider disabled")
			continue
		}
		registry.Register(p)
	}
	registry.Add(cfg.Backend, cfg.Model)

	active, ok := registry.Provider(cfg.Backend)
	if !ok {
		return nil, errors.Errorf("backend %s is not available", cfg.Backend)
	}
	adapter := backend.NewAdapter(active, cfg.Model, backend.WithBufferSize(cfg.StreamBuffer))
	return &dependencies{registry: registry, adapter: adapter}, nil
}

func (d *dependencies) controller(cfg *config.Config, sink controller.Sink) *controller.Controller {
	return controller.New(d.adapter, sink, controller.WithSystemPrompt(cfg.SystemPrompt))
}
