package provider

import (
	"context"
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/mux"
	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"go.uber.org/zap"
)

const (
	jsonReadTailSize = 32 * 1024
	// jsonMinExitInterval guards against the stream's intermittent gaps in
	// output mid-turn being misread as a return to the shell prompt.
	jsonMinExitInterval = 750 * time.Millisecond
)

var processingEventTypes = map[string]bool{
	"step_start": true, "text": true, "call": true,
	"result": true, "tool_use": true, "step_finish": true,
}

type jsonEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	MessageID string `json:"messageID"`
}

// JSONStreamProvider drives a CLI that emits a stream of typed JSON events
// on stdout (Codex-style), with a plain shell prompt marking completion.
type JSONStreamProvider struct {
	mux        *mux.Client
	session    string
	window     string
	terminalID string
	logPath    string
	launchCmd  string
	logger     *logger.Logger

	mu                 sync.Mutex
	lastProcessingSeen time.Time
	lastStatus         model.Status
}

func NewJSONStreamProvider(m *mux.Client, session, window, terminalID, logPath, launchCmd string, log *logger.Logger) *JSONStreamProvider {
	return &JSONStreamProvider{
		mux:        m,
		session:    session,
		window:     window,
		terminalID: terminalID,
		logPath:    logPath,
		launchCmd:  launchCmd,
		logger:     log.WithFields(zap.String("component", "provider-jsonstream"), zap.String("terminal_id", terminalID)),
		lastStatus: model.StatusIdle,
	}
}

func (p *JSONStreamProvider) Initialize(ctx context.Context) error {
	escaped := strings.ReplaceAll(p.launchCmd, "\n", "\\n")
	if err := p.mux.SendKeys(ctx, p.session, p.window, escaped); err != nil {
		return orcherrors.Provider(err, "sending launch command")
	}

	deadline := time.Now().Add(tuiInitTimeout)
	for {
		status, err := p.GetStatus(ctx, tuiRenderRows)
		if err == nil && status == model.StatusIdle {
			return nil
		}
		if time.Now().After(deadline) {
			return orcherrors.TimeoutErr("timed out waiting for %s to reach IDLE", p.terminalID)
		}
		select {
		case <-ctx.Done():
			return orcherrors.Wrap(orcherrors.KindTimeout, "context cancelled during initialize", ctx.Err())
		case <-time.After(tuiInitPoll):
		}
	}
}

func (p *JSONStreamProvider) SendInput(ctx context.Context, text string) error {
	if err := p.mux.SendKeys(ctx, p.session, p.window, text); err != nil {
		return orcherrors.Provider(err, "sending input to %s", p.terminalID)
	}
	return nil
}

func collapseWraps(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func scanEvents(text string) []jsonEvent {
	var events []jsonEvent
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
			continue
		}
		var e jsonEvent
		if err := json.Unmarshal([]byte(trimmed), &e); err != nil {
			continue
		}
		if e.Type == "" {
			continue
		}
		events = append(events, e)
	}
	return events
}

func (p *JSONStreamProvider) GetStatus(ctx context.Context, tailLines int) (model.Status, error) {
	raw, err := readTail(p.logPath, jsonReadTailSize)
	if err != nil {
		// The log file not existing yet just means the pane hasn't attached;
		// treat it the same as empty output rather than a genuine error.
		if os.IsNotExist(err) {
			return p.applyStability(model.StatusIdle), nil
		}
		return model.StatusError, nil
	}
	cleaned := collapseWraps(StripANSI(string(raw)))
	if strings.TrimSpace(cleaned) == "" {
		return p.applyStability(model.StatusIdle), nil
	}
	atPrompt := AtShellPrompt(cleaned)

	if atPrompt {
		events := scanEvents(cleaned)
		hasFinish, hasError := false, false
		for _, e := range events {
			switch e.Type {
			case "step_finish":
				hasFinish = true
			case "error":
				hasError = true
			}
		}
		status := model.StatusIdle
		switch {
		case hasFinish:
			status = model.StatusCompleted
		case hasError:
			status = model.StatusError
		}
		return p.applyStability(status), nil
	}

	recentText := strings.Join(splitTail(cleaned, tailLines), "\n")
	for _, e := range scanEvents(recentText) {
		if e.Type == "error" {
			return p.applyStability(model.StatusError), nil
		}
	}
	// Any recognized or unrecognized mid-stream content still means the
	// command is running; spec step 6 treats the default case as PROCESSING.
	return p.applyStability(model.StatusProcessing), nil
}

// applyStability guards against exiting PROCESSING on a transient gap in
// the event stream, mirroring the CLI-specific debounce the teacher's
// Codex detector applies before accepting a state change.
func (p *JSONStreamProvider) applyStability(detected model.Status) model.Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if detected == model.StatusProcessing {
		p.lastProcessingSeen = now
		p.lastStatus = detected
		return detected
	}
	if p.lastStatus == model.StatusProcessing && now.Sub(p.lastProcessingSeen) < jsonMinExitInterval {
		return model.StatusProcessing
	}
	p.lastStatus = detected
	return detected
}

// ExtractLastMessage concatenates the text parts belonging to the last
// step_finish event's messageID, falling back to all text parts when no
// id can be determined.
func (p *JSONStreamProvider) ExtractLastMessage(ctx context.Context) (string, error) {
	raw, err := readTail(p.logPath, jsonReadTailSize)
	if err != nil {
		return "", orcherrors.Provider(err, "reading pane log for %s", p.terminalID)
	}
	cleaned := collapseWraps(StripANSI(string(raw)))
	events := scanEvents(cleaned)
	if len(events) == 0 {
		return strings.TrimSpace(cleaned), nil
	}

	var lastFinishID string
	for _, e := range events {
		if e.Type == "step_finish" {
			lastFinishID = e.MessageID
		}
	}

	var parts []string
	for _, e := range events {
		if e.Type != "text" {
			continue
		}
		if lastFinishID != "" && e.MessageID != lastFinishID {
			continue
		}
		parts = append(parts, e.Text)
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}

var jsonIdlePattern = regexp.MustCompile(`[#$]\s*$`)

func (p *JSONStreamProvider) IdlePatternForLog() *regexp.Regexp {
	return jsonIdlePattern
}

func (p *JSONStreamProvider) ExitCommand() ExitAction {
	return ExitAction{ControlC: true}
}

func (p *JSONStreamProvider) Cleanup() error {
	return nil
}
