package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllama(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOllamaClient(srv.URL, srv.Client())
	require.NoError(t, err)
	return c
}

func TestWithHost(t *testing.T) {
	cfg, err := ollamaConfig.WithHost("https://gpu-box:8443")
	require.NoError(t, err)
	assert.Equal(t, "https", cfg.Scheme)
	assert.Equal(t, "gpu-box:8443", cfg.Host)

	cfg, err = ollamaConfig.WithHost("10.0.0.2:11434")
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Scheme)
	assert.Equal(t, "10.0.0.2:11434", cfg.Host)

	cfg, err = ollamaConfig.WithHost("")
	require.NoError(t, err)
	assert.Equal(t, ollamaConfig, cfg)

	c := NewClient(ollamaConfig, nil)
	assert.Equal(t, "http://localhost:11434/api/chat", c.GetChatURL())
	assert.Equal(t, "http://localhost:11434/api/pull", c.GetPullURL())
}

func TestOllamaListModels(t *testing.T) {
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b","details":{"families":null}},{"name":"mistral:7b","details":{"families":["llama"]}}]}`)
	})

	models, err := c.GetModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, Families{}, models[0].Details.Families)
	assert.Equal(t, Families{"llama"}, models[1].Details.Families)

	names, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:8b", "mistral:7b"}, names)
}

func TestOllamaEnsureModelInstalled(t *testing.T) {
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/pull" {
			t.Error("installed model must not be pulled")
		}
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b"}]}`)
	})
	assert.NoError(t, c.EnsureModel(context.Background(), "llama3:8b"))
}

func TestOllamaEnsureModelPulls(t *testing.T) {
	var pulled string
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models":[]}`)
		case "/api/pull":
			var req ollamaPullRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			pulled = req.Model
			fmt.Fprintln(w, `{"status":"pulling manifest"}`)
			fmt.Fprintln(w, `{"status":"success"}`)
		}
	})
	require.NoError(t, c.EnsureModel(context.Background(), "llama3:8b"))
	assert.Equal(t, "llama3:8b", pulled)
}

func TestOllamaEnsureModelPullError(t *testing.T) {
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models":[]}`)
		case "/api/pull":
			fmt.Fprintln(w, `{"error":"pull model manifest: file does not exist"}`)
		}
	})
	err := c.EnsureModel(context.Background(), "nope:1b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
	assert.Contains(t, err.Error(), "ollama run nope:1b")
}

func TestOllamaEnsureModelUnreachable(t *testing.T) {
	c, err := NewOllamaClient("127.0.0.1:1", &http.Client{Timeout: time.Second})
	require.NoError(t, err)
	err = c.EnsureModel(context.Background(), "llama3:8b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://ollama.com")
}

func TestOllamaStreamChat(t *testing.T) {
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req OllamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "Hi"}}, req.Messages)

		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo!"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	})

	now := time.Now()
	turns := []conversation.Turn{
		conversation.NewTurn(conversation.RoleSystem, "be brief", now),
		conversation.NewTurn(conversation.RoleUser, "Hi", now),
	}
	var got []string
	err := c.StreamChat(context.Background(), "llama3:8b", turns, func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo!"}, got)
}

func TestOllamaStreamChatErrors(t *testing.T) {
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "status") {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"model 'x' not found"}`)
			return
		}
		fmt.Fprintln(w, `{"message":{"content":"A"}}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	})

	err := c.StreamChat(context.Background(), "x", nil, func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")

	c.chatUrl.RawQuery = "status"
	err = c.StreamChat(context.Background(), "x", nil, func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not found")
}

func TestOllamaStreamChatCallbackStops(t *testing.T) {
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "{\"message\":{\"content\":\"%d\"}}\n", i)
		}
	})
	stop := fmt.Errorf("stop")
	var got []string
	err := c.StreamChat(context.Background(), "x", nil, func(d string) error {
		got = append(got, d)
		if len(got) == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"0", "1"}, got)
}
