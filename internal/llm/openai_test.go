package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEndpointNormalization(t *testing.T) {
	tests := []struct {
		baseURL  string
		expected string
	}{
		{"", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:11434", "http://localhost:11434/v1/chat/completions"},
		{"http://localhost:11434/", "http://localhost:11434/v1/chat/completions"},
		{"https://llm.internal/v1", "https://llm.internal/v1/chat/completions"},
		{"https://llm.internal/v1/chat/completions", "https://llm.internal/v1/chat/completions"},
	}

	for _, tt := range tests {
		c := NewOpenAIClient("key", "model", tt.baseURL, 0)
		assert.Equal(t, tt.expected, c.endpoint, "base url %q", tt.baseURL)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "` + "```json" + `\n{\"ok\": true}\n` + "```" + `"}}]}`))
	}))
	defer server.Close()

	c := NewOpenAIClient("test-key", "local-model", server.URL, 0)
	text, err := c.Generate(context.Background(), "be terse", "classify this")
	require.NoError(t, err)

	assert.Equal(t, `{"ok": true}`, text)
	assert.Equal(t, "local-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "be terse", captured.Messages[0].Content)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.InDelta(t, 0.1, captured.Temperature, 1e-9)
}

func TestOpenAIGenerateTruncatesPrompt(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "done"}}]}`))
	}))
	defer server.Close()

	c := NewOpenAIClient("test-key", "local-model", server.URL, 2)
	_, err := c.Generate(context.Background(), "", "abcdefghijklmnop")
	require.NoError(t, err)

	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "abcdefgh"+truncationMark, captured.Messages[0].Content)
}

func TestOpenAIGenerateErrors(t *testing.T) {
	t.Run("http error carries status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewOpenAIClient("test-key", "local-model", server.URL, 0)
		_, err := c.Generate(context.Background(), "", "hi")
		require.Error(t, err)

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
		assert.Contains(t, httpErr.Body, "upstream exploded")
	})

	t.Run("missing key", func(t *testing.T) {
		c := NewOpenAIClient("", "local-model", "http://unused", 0)
		_, err := c.Generate(context.Background(), "", "hi")
		require.Error(t, err)
	})

	t.Run("no choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices": []}`))
		}))
		defer server.Close()

		c := NewOpenAIClient("test-key", "local-model", server.URL, 0)
		_, err := c.Generate(context.Background(), "", "hi")
		require.Error(t, err)
	})
}

func TestNewClientFactory(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		c, err := NewClient(context.Background(), Options{Provider: "OpenAI", APIKey: "k", Model: "m"})
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, c)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewClient(context.Background(), Options{Provider: "carrier-pigeon"})
		require.Error(t, err)
	})
}
