package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/pkg/errors"
)

// OllamaClient represents a client for the Ollama API
type OllamaClient struct {
	Client
	log *logger.Logger
}

var ollamaConfig = ClientConfig{
	Scheme:     "http",
	Host:       "localhost:11434",
	ModelsPath: "/api/tags",
	ChatPath:   "/api/chat",
	PullPath:   "/api/pull",
}

// NewOllamaClient creates a client for the Ollama daemon at host. An empty host means
// the local default.
func NewOllamaClient(host string, httpClient *http.Client) (*OllamaClient, error) {
	cfg, err := ollamaConfig.WithHost(host)
	if err != nil {
		return nil, err
	}
	return &OllamaClient{
		Client: *NewClient(cfg, httpClient),
		log:    logger.NewLogger("ollama"),
	}, nil
}

type OllamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type OllamaAPIResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type ollamaPullProgress struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ModelsResponse struct {
	Models []OllamaModel `json:"models"`
}

type OllamaModel struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

type Families []string

// ModelDetails Details represents the details of a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          Families `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

func (c *OllamaClient) Name() string {
	return ProviderOllama
}

func (c *OllamaClient) GetModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GetModelsURL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ollama not reachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("failed to fetch data: " + resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response ModelsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to decode model list")
	}
	return response.Models, nil
}

func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	models, err := c.GetModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, model := range models {
		names[i] = model.Name
	}
	return names, nil
}

// EnsureModel succeeds when the model is installed, pulling it first if necessary.
func (c *OllamaClient) EnsureModel(ctx context.Context, model string) error {
	models, err := c.GetModels(ctx)
	if err != nil {
		return c.hint(err, model)
	}
	for _, m := range models {
		if m.Name == model {
			return nil
		}
	}

	c.log.Info().Str("model", model).Msg("pulling model")
	err = c.post(ctx, c.GetPullURL(), ollamaPullRequest{Model: model, Stream: true}, func(bts []byte) error {
		var progress ollamaPullProgress
		if err := json.Unmarshal(bts, &progress); err != nil {
			return errors.Wrap(err, "failed to decode pull progress")
		}
		if progress.Error != "" {
			return errors.New(progress.Error)
		}
		c.log.Debug().Str("model", model).Str("status", progress.Status).Msg("pull progress")
		return nil
	})
	if err != nil {
		return c.hint(err, model)
	}
	return nil
}

func (c *OllamaClient) hint(err error, model string) error {
	return errors.Wrapf(err, "ollama not reachable or pull failed; install/start Ollama from https://ollama.com, e.g. 'ollama run %s'", model)
}

// StreamChat posts the conversation to /api/chat and hands every content fragment to fn.
func (c *OllamaClient) StreamChat(ctx context.Context, model string, turns []conversation.Turn, fn func(string) error) error {
	req := OllamaChatRequest{
		Model:    model,
		Messages: toMessages(turns),
		Stream:   true,
	}
	return c.Chat(ctx, &req, func(bts []byte) error {
		var apiResp OllamaAPIResponse
		if err := json.Unmarshal(bts, &apiResp); err != nil {
			c.log.Error().Err(err).Str("raw", string(bts)).Msg("failed to unmarshal response")
			return err
		}
		if apiResp.Error != "" {
			return errors.Errorf("ollama: %s", apiResp.Error)
		}
		if apiResp.Message.Content == "" {
			return nil
		}
		return fn(apiResp.Message.Content)
	})
}

func (c *OllamaClient) Chat(ctx context.Context, req *OllamaChatRequest, fn func([]byte) error) error {
	return c.post(ctx, c.GetChatURL(), req, fn)
}

func (c *OllamaClient) post(ctx context.Context, url string, data any, fn func([]byte) error) error {
	var buf io.Reader
	if data != nil {
		bts, err := json.Marshal(data)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(bts)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/x-ndjson")
	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(response.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = response.Status
		}
		return fmt.Errorf("received non-200 response: %d, error: %s", response.StatusCode, apiErr.Error)
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// UnmarshalJSON handles the custom unmarshalling for Families.
func (f *Families) UnmarshalJSON(data []byte) error {
	// If the JSON data is "null", return an empty Families slice.
	if string(data) == "null" {
		*f = Families{}
		return nil
	}

	var families []string
	if err := json.Unmarshal(data, &families); err != nil {
		return err
	}
	*f = Families(families)
	return nil
}
