package client

import (
	"context"
	"slices"
	"strings"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/pkg/errors"
	"google.golang.org/genai"
)

type GeminiClient struct {
	api *genai.Client
	log *logger.Logger
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is not set (GEMINI_API_KEY)")
	}
	return newGeminiClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func newGeminiClient(ctx context.Context, cfg *genai.ClientConfig) (*GeminiClient, error) {
	api, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}
	return &GeminiClient{api: api, log: logger.NewLogger("gemini")}, nil
}

func (c *GeminiClient) Name() string {
	return ProviderGemini
}

func (c *GeminiClient) EnsureModel(ctx context.Context, model string) error {
	if _, err := c.api.Models.Get(ctx, model, nil); err != nil {
		return errors.Wrapf(err, "gemini model %q unavailable", model)
	}
	return nil
}

// ListModels returns the models that can generate content, without the "models/" prefix.
func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	for m, err := range c.api.Models.All(ctx) {
		if err != nil {
			return nil, errors.Wrap(err, "failed to list gemini models")
		}
		if !slices.Contains(m.SupportedActions, "generateContent") {
			continue
		}
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

func (c *GeminiClient) StreamChat(ctx context.Context, model string, turns []conversation.Turn, fn func(string) error) error {
	system, contents := geminiContents(turns)
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	for resp, err := range c.api.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return errors.Wrap(err, "gemini stream")
		}
		if text := resp.Text(); text != "" {
			if err := fn(text); err != nil {
				return err
			}
		}
	}
	return nil
}

// geminiContents splits off the system turn, which gemini takes as an instruction
// instead of a message.
func geminiContents(turns []conversation.Turn) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			system = t.Content
		case conversation.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		}
	}
	return system, contents
}
