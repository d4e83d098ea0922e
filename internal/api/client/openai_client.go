package client

import (
	"context"
	"io"
	"strings"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient represents a client for the OpenAI API
type OpenAIClient struct {
	api *openai.Client
	log *logger.Logger
}

// NewOpenAIClient creates a new OpenAI API client. baseURL is optional and points the
// client at any OpenAI compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is not set (OPENAI_API_KEY)")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{
		api: openai.NewClientWithConfig(cfg),
		log: logger.NewLogger("openai"),
	}, nil
}

func (c *OpenAIClient) Name() string {
	return ProviderOpenAI
}

func (c *OpenAIClient) EnsureModel(ctx context.Context, model string) error {
	if _, err := c.api.GetModel(ctx, model); err != nil {
		return errors.Wrapf(err, "openai model %q unavailable", model)
	}
	return nil
}

// ListModels returns the chat models of the account.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list openai models")
	}
	ids := make([]string, len(list.Models))
	for i, m := range list.Models {
		ids[i] = m.ID
	}
	return chatModels(ids), nil
}

var (
	chatFamilies = []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}
	// models in the chat families that do not answer chat completions
	nonChatMarkers = []string{"instruct", "embedding", "tts", "whisper", "dall-e", "moderation",
		"audio", "realtime", "transcribe", "image", "search", "davinci", "babbage"}
)

// chatModels keeps the ids that can serve a streamed chat completion.
func chatModels(ids []string) []string {
	names := make([]string, 0)
	for _, id := range ids {
		if isChatModel(id) {
			names = append(names, id)
		}
	}
	return names
}

func isChatModel(id string) bool {
	family := false
	for _, prefix := range chatFamilies {
		if strings.HasPrefix(id, prefix) {
			family = true
			break
		}
	}
	if !family {
		return false
	}
	for _, marker := range nonChatMarkers {
		if strings.Contains(id, marker) {
			return false
		}
	}
	return true
}

func (c *OpenAIClient) StreamChat(ctx context.Context, model string, turns []conversation.Turn, fn func(string) error) error {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, m := range toMessages(turns) {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open openai stream")
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "openai stream")
		}
		if len(resp.Choices) == 0 {
			c.log.Debug().Msg("no content in response choice")
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			if err := fn(content); err != nil {
				return err
			}
		}
	}
}
