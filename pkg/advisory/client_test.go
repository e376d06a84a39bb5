package advisory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

func TestClientComplete(t *testing.T) {
	var captured completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"assignments\":[],\"confidence\":0.7}"}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "gpt-4o-mini", Temperature: 0.2}, nil)
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"assignments":[],"confidence":0.7}`, out)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user prompt", captured.Messages[1].Content)
	assert.Equal(t, defaultMaxTokens, captured.MaxTokens)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrAdvisoryService)
	assert.Contains(t, err.Error(), "429")
}

func TestClientMissingChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, appErrors.ErrAdvisoryService)
}

func TestClientHonoursTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m", Timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, appErrors.ErrAdvisoryService)
}

func TestNewClientRequiresKeyAndModel(t *testing.T) {
	_, err := NewClient(Config{Model: "m"}, nil)
	assert.Error(t, err)
	_, err = NewClient(Config{APIKey: "k"}, nil)
	assert.Error(t, err)
}
