package provider

import (
	"context"
	"regexp"
	"strings"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/mux"
	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"go.uber.org/zap"
)

var (
	attachedKeybindingPattern = regexp.MustCompile(`(?i)^\s*(ctrl|esc|tab|enter|shift)\b.*\b(to|for)\b`)
	attachedSpinnerPattern    = regexp.MustCompile(`^\s*[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]\s*`)
	attachedIdleMarkerPattern = regexp.MustCompile(`(?i)^\s*>\s*$|^\s*ready\s*$`)
)

// AttachedTUIProvider drives a CLI whose TUI is rendered by a separate
// attached client (opencode-style): the server queues internally, so
// status is always IDLE, and replies are scraped from the visible pane.
type AttachedTUIProvider struct {
	mux        *mux.Client
	session    string
	window     string
	terminalID string
	logger     *logger.Logger
}

func NewAttachedTUIProvider(m *mux.Client, session, window, terminalID string, log *logger.Logger) *AttachedTUIProvider {
	return &AttachedTUIProvider{
		mux:        m,
		session:    session,
		window:     window,
		terminalID: terminalID,
		logger:     log.WithFields(zap.String("component", "provider-attached-tui"), zap.String("terminal_id", terminalID)),
	}
}

func (p *AttachedTUIProvider) Initialize(ctx context.Context) error {
	return nil
}

func (p *AttachedTUIProvider) SendInput(ctx context.Context, text string) error {
	if err := p.mux.SendKeys(ctx, p.session, p.window, text); err != nil {
		return orcherrors.Provider(err, "sending input to %s", p.terminalID)
	}
	return nil
}

// GetStatus is a constant IDLE: the backing server queues internally.
func (p *AttachedTUIProvider) GetStatus(ctx context.Context, tailLines int) (model.Status, error) {
	return model.StatusIdle, nil
}

// ExtractLastMessage walks the visible pane in reverse, skipping keybinding
// hints and spinner frames, accumulating content until the idle marker.
func (p *AttachedTUIProvider) ExtractLastMessage(ctx context.Context) (string, error) {
	history, err := p.mux.GetHistory(ctx, p.session, p.window, 200)
	if err != nil {
		return "", orcherrors.Provider(err, "reading pane for %s", p.terminalID)
	}
	cleaned := StripANSI(history)
	lines := strings.Split(strings.TrimRight(cleaned, "\n"), "\n")

	var collected []string
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		trimmed := strings.TrimRight(line, " \t")
		if attachedIdleMarkerPattern.MatchString(trimmed) {
			break
		}
		if attachedKeybindingPattern.MatchString(trimmed) || attachedSpinnerPattern.MatchString(trimmed) {
			continue
		}
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		collected = append(collected, trimmed)
	}

	// collected was built bottom-up; reverse to restore reading order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return strings.TrimSpace(strings.Join(collected, "\n")), nil
}

var attachedIdlePattern = regexp.MustCompile(`(?i)^\s*>\s*$|^\s*ready\s*$`)

func (p *AttachedTUIProvider) IdlePatternForLog() *regexp.Regexp {
	return attachedIdlePattern
}

func (p *AttachedTUIProvider) ExitCommand() ExitAction {
	return ExitAction{ControlC: true}
}

func (p *AttachedTUIProvider) Cleanup() error {
	return nil
}
