package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"go.uber.org/zap"
)

const httpBackedRequestTimeout = 10 * time.Second

// HTTPProvider drives an agent that runs as a long-lived HTTP server
// (q-cli-style): status is always IDLE because the server queues requests
// internally, and input/output cross an HTTP boundary instead of a pane.
type HTTPProvider struct {
	client     *http.Client
	baseURL    string
	session    string
	terminalID string
	logger     *logger.Logger
}

func NewHTTPProvider(baseURL, session, terminalID string, log *logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		client:     &http.Client{Timeout: httpBackedRequestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    session,
		terminalID: terminalID,
		logger:     log.WithFields(zap.String("component", "provider-http"), zap.String("terminal_id", terminalID)),
	}
}

func (p *HTTPProvider) Initialize(ctx context.Context) error {
	return nil
}

type promptAsyncRequest struct {
	Prompt string `json:"prompt"`
}

func (p *HTTPProvider) SendInput(ctx context.Context, text string) error {
	body, err := json.Marshal(promptAsyncRequest{Prompt: text})
	if err != nil {
		return orcherrors.Internal(err, "encoding prompt for %s", p.terminalID)
	}

	url := fmt.Sprintf("%s/%s/prompt_async", p.baseURL, p.session)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return orcherrors.Internal(err, "building prompt_async request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return orcherrors.Upstream(err, "prompt_async request to %s failed", p.terminalID)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return orcherrors.Upstream(nil, "prompt_async returned status %d", resp.StatusCode)
	}
	return nil
}

// GetStatus is a constant IDLE: the backing server queues requests internally.
func (p *HTTPProvider) GetStatus(ctx context.Context, tailLines int) (model.Status, error) {
	return model.StatusIdle, nil
}

type messagesResponse struct {
	Messages []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"messages"`
}

func (p *HTTPProvider) ExtractLastMessage(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", p.baseURL, p.session)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", orcherrors.Internal(err, "building messages request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", orcherrors.Upstream(err, "messages request to %s failed", p.terminalID)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return "", orcherrors.Upstream(nil, "messages endpoint returned status %d", resp.StatusCode)
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", orcherrors.Upstream(err, "decoding messages response for %s", p.terminalID)
	}

	for i := len(decoded.Messages) - 1; i >= 0; i-- {
		msg := decoded.Messages[i]
		if msg.Role != "assistant" {
			continue
		}
		var texts []string
		for _, part := range msg.Parts {
			texts = append(texts, part.Text)
		}
		return strings.TrimSpace(strings.Join(texts, "")), nil
	}
	return "", nil
}

var httpIdlePattern = regexp.MustCompile(`.`) // always matches: status never needs a log pre-check

func (p *HTTPProvider) IdlePatternForLog() *regexp.Regexp {
	return httpIdlePattern
}

func (p *HTTPProvider) ExitCommand() ExitAction {
	return ExitAction{Command: "/exit"}
}

func (p *HTTPProvider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}
