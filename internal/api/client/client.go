package client

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/pkg/errors"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Client holds the endpoints of an HTTP model provider.
type Client struct {
	base      *url.URL
	http      *http.Client
	modelsUrl *url.URL
	chatUrl   *url.URL
	pullUrl   *url.URL
}

// ClientConfig holds the configuration for the client
type ClientConfig struct {
	Scheme     string
	Host       string
	ModelsPath string
	ChatPath   string
	PullPath   string
}

// NewClient creates a new API client with configurable base URL and endpoints
func NewClient(config ClientConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := &url.URL{Scheme: config.Scheme, Host: config.Host}
	return &Client{
		base:      baseURL,
		http:      httpClient,
		modelsUrl: baseURL.ResolveReference(&url.URL{Path: config.ModelsPath}),
		chatUrl:   baseURL.ResolveReference(&url.URL{Path: config.ChatPath}),
		pullUrl:   baseURL.ResolveReference(&url.URL{Path: config.PullPath}),
	}
}

func (c *Client) GetModelsURL() string {
	return c.modelsUrl.String()
}

func (c *Client) GetChatURL() string {
	return c.chatUrl.String()
}

func (c *Client) GetPullURL() string {
	return c.pullUrl.String()
}

// WithHost parses values such as "http://localhost:11434" or "localhost:11434" into
// the scheme and host of the config.
func (cfg ClientConfig) WithHost(raw string) (ClientConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return cfg, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return cfg, errors.Wrapf(err, "invalid host %q", raw)
	}
	if u.Host == "" {
		return cfg, errors.Errorf("invalid host %q", raw)
	}
	cfg.Scheme = u.Scheme
	cfg.Host = u.Host
	return cfg, nil
}

// Message is the role/content pair every provider speaks in some form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toMessages(turns []conversation.Turn) []Message {
	messages := make([]Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, Message{Role: string(t.Role), Content: t.Content})
	}
	return messages
}
