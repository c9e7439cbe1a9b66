package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderConstantIdleStatus(t *testing.T) {
	p := NewHTTPProvider("http://example.invalid", "sess", "abc12345", logger.Default())
	status, err := p.GetStatus(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, status)
}

func TestHTTPProviderSendInputPostsPromptAsync(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "sess-1", "abc12345", logger.Default())
	require.NoError(t, p.SendInput(context.Background(), "hello"))
	assert.Equal(t, "/sess-1/prompt_async", gotPath)
	assert.Equal(t, "hello", gotBody["prompt"])
}

func TestHTTPProviderExtractLastMessageReturnsMostRecentAssistantReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"role": "user", "parts": []map[string]string{{"text": "hi"}}},
				{"role": "assistant", "parts": []map[string]string{{"text": "hello "}, {"text": "there"}}},
			},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "sess-1", "abc12345", logger.Default())
	msg, err := p.ExtractLastMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg)
}
