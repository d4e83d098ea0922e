package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelsCommand(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"mistral:7b"},{"name":"llama3:8b"}]}`))
	}))
	defer ollama.Close()

	t.Setenv("OLLAMA_HOST", ollama.URL)
	for _, key := range []string{"OPENAI_API_KEY", "STUDYHELPER_OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "STUDYHELPER_GEMINI_API_KEY"} {
		t.Setenv(key, "")
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"models", "--backend", "ollama", "--model", "llama3:8b"})
	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "* llama3:8b"), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "ollama"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "  mistral:7b"), lines[1])
}

func TestUnknownBackendFails(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"models", "--backend", "claude"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestConfiguredBackendNeedsCredentials(t *testing.T) {
	for _, key := range []string{"OPENAI_API_KEY", "STUDYHELPER_OPENAI_API_KEY"} {
		t.Setenv(key, "")
	}
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"models", "--backend", "openai"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestModelsCommandProvidersDown(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	t.Setenv("OLLAMA_HOST", down.URL)
	for _, key := range []string{"OPENAI_API_KEY", "STUDYHELPER_OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "STUDYHELPER_GEMINI_API_KEY"} {
		t.Setenv(key, "")
	}

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"models", "--backend", "ollama", "--model", "llama3:8b"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider could list models")
}
