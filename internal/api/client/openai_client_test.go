package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("", "")
	assert.Error(t, err)
}

func TestOpenAIStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
			Stream   bool      `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.True(t, req.Stream)
		assert.Equal(t, []Message{{Role: "user", Content: "Hi"}}, req.Messages)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "", "lo!"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("sk-test", srv.URL+"/v1")
	require.NoError(t, err)

	turns := []conversation.Turn{conversation.NewTurn(conversation.RoleUser, "Hi", time.Now())}
	var got []string
	err = c.StreamChat(context.Background(), "gpt-4o", turns, func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo!"}, got)
}

func TestOpenAIListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4o","owned_by":"system"},{"id":"tts-1","owned_by":"system"}]}`)
		case "/v1/models/gpt-4o":
			fmt.Fprint(w, `{"id":"gpt-4o","object":"model","owned_by":"system"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"message":"The model does not exist","type":"invalid_request_error"}}`)
		}
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("sk-test", srv.URL+"/v1")
	require.NoError(t, err)

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o"}, models)

	assert.NoError(t, c.EnsureModel(context.Background(), "gpt-4o"))
	assert.Error(t, c.EnsureModel(context.Background(), "gpt-9"))
}
