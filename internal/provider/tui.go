package provider

import (
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"github.com/kandev/agent-orchestrator/internal/mux"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"
)

const (
	tuiInitTimeout  = 30 * time.Second
	tuiInitPoll     = 500 * time.Millisecond
	tuiRenderRows   = 24
	tuiRenderCols   = 80
	tuiReadTailSize = 16 * 1024
)

var (
	// Spinner with esc/ctrl+c-to-interrupt: task in flight.
	tuiSpinnerPattern = regexp.MustCompile(
		`^\s*[✻✽✶∴·○◆▪▫□■☐☑☒★☆✓✔✗✘⚬⚫⚪⬤◯▸▹►▻◂◃◄◅✢*]\s+.+[…\.]{2,}\s*\((esc|ctrl\+c)\s+to\s+interrupt`,
	)
	// Interactive selection/confirmation prompts.
	tuiSelectionArrowPattern = regexp.MustCompile(`^\s*[❯>]\s*\d+\.`)
	tuiEnterToSelectPattern  = regexp.MustCompile(`(?i)enter\s+to\s+select`)
	tuiDoYouWantToPattern    = regexp.MustCompile(`(?i)do\s+you\s+want\s+to\s+`)
	tuiYesNoPattern          = regexp.MustCompile(`(?i)\[?y/?n\]?\s*$`)
	// Idle prompt: a "Tip"-style hint line, or an input box drawn by at
	// least two separator lines.
	tuiSeparatorPattern = regexp.MustCompile(`^[─━═┄┅┈┉\-]{10,}$`)
	tuiTipPattern       = regexp.MustCompile(`^[\s\x{00a0}]*⎿[\s\x{00a0}]+(?:Tip|Next|Hint):`)
	// Response marker: a completed assistant turn.
	tuiResponseMarkerPattern = regexp.MustCompile(`^\s*⏺`)
)

// TUIProvider drives a TUI-decorated agent CLI (Claude-style): the agent
// renders an ANSI TUI into the multiplexer pane, and status is derived by
// replaying the tailing pane log through a virtual terminal emulator.
type TUIProvider struct {
	mux        *mux.Client
	session    string
	window     string
	terminalID string
	logPath    string
	launchCmd  string
	logger     *logger.Logger
}

// NewTUIProvider constructs a TUI-decorated provider. launchCmd is the
// agent-launch command composed from the agent profile.
func NewTUIProvider(m *mux.Client, session, window, terminalID, logPath, launchCmd string, log *logger.Logger) *TUIProvider {
	return &TUIProvider{
		mux:        m,
		session:    session,
		window:     window,
		terminalID: terminalID,
		logPath:    logPath,
		launchCmd:  launchCmd,
		logger:     log.WithFields(zap.String("component", "provider-tui"), zap.String("terminal_id", terminalID)),
	}
}

func (p *TUIProvider) Initialize(ctx context.Context) error {
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

func (p *TUIProvider) SendInput(ctx context.Context, text string) error {
	if err := p.mux.SendKeys(ctx, p.session, p.window, text); err != nil {
		return orcherrors.Provider(err, "sending input to %s", p.terminalID)
	}
	return nil
}

func (p *TUIProvider) render() ([]string, error) {
	data, err := readTail(p.logPath, tuiReadTailSize)
	if err != nil {
		return nil, err
	}
	term := vt10x.New(vt10x.WithSize(tuiRenderCols, tuiRenderRows))
	_, _ = term.Write(data)

	lines := make([]string, tuiRenderRows)
	for row := 0; row < tuiRenderRows; row++ {
		var chars []rune
		for col := 0; col < tuiRenderCols; col++ {
			g := term.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
			} else {
				chars = append(chars, g.Char)
			}
		}
		lines[row] = string(chars)
	}
	return lines, nil
}

func (p *TUIProvider) GetStatus(ctx context.Context, tailLines int) (model.Status, error) {
	lines, err := p.render()
	if err != nil {
		// Empty/missing pane output: strict-pattern providers default to ERROR.
		return model.StatusError, nil
	}

	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if tuiSpinnerPattern.MatchString(trimmed) {
			return model.StatusProcessing, nil
		}
	}

	if selectionPromptPresent(lines) {
		return model.StatusWaitingUserAnswer, nil
	}

	idle := idlePromptPresent(lines)
	responded := responseMarkerPresent(lines)
	switch {
	case responded && idle:
		return model.StatusCompleted, nil
	case idle:
		return model.StatusIdle, nil
	default:
		return model.StatusError, nil
	}
}

func selectionPromptPresent(lines []string) bool {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], " \t")
		if tuiEnterToSelectPattern.MatchString(line) || tuiDoYouWantToPattern.MatchString(line) || tuiYesNoPattern.MatchString(line) {
			return true
		}
		if tuiSelectionArrowPattern.MatchString(line) {
			return true
		}
	}
	return false
}

func idlePromptPresent(lines []string) bool {
	var separators []int
	for i, line := range lines {
		if trimmed := strings.TrimSpace(line); len(trimmed) >= 10 && tuiSeparatorPattern.MatchString(trimmed) {
			separators = append(separators, i)
		}
	}
	for _, line := range lines {
		if tuiTipPattern.MatchString(line) {
			return true
		}
	}
	return len(separators) >= 2
}

func responseMarkerPresent(lines []string) bool {
	for _, line := range lines {
		if tuiResponseMarkerPattern.MatchString(line) {
			return true
		}
	}
	return false
}

// ExtractLastMessage returns the text of the most recent assistant turn:
// everything from the last response marker up to the idle prompt.
func (p *TUIProvider) ExtractLastMessage(ctx context.Context) (string, error) {
	lines, err := p.render()
	if err != nil {
		return "", orcherrors.Provider(err, "rendering pane for %s", p.terminalID)
	}

	lastMarker := -1
	for i, line := range lines {
		if tuiResponseMarkerPattern.MatchString(line) {
			lastMarker = i
		}
	}
	if lastMarker == -1 {
		return strings.TrimSpace(strings.Join(lines, "\n")), nil
	}

	var out []string
	for i := lastMarker; i < len(lines); i++ {
		trimmed := strings.TrimRight(lines[i], " \t")
		if tuiSeparatorPattern.MatchString(strings.TrimSpace(trimmed)) {
			break
		}
		out = append(out, strings.TrimPrefix(trimmed, "⏺"))
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}

func (p *TUIProvider) IdlePatternForLog() *regexp.Regexp {
	return tuiTipPattern
}

func (p *TUIProvider) ExitCommand() ExitAction {
	return ExitAction{Command: "/exit"}
}

func (p *TUIProvider) Cleanup() error {
	return nil
}

func readTail(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	offset := int64(0)
	if size > maxBytes {
		offset = size - maxBytes
	}
	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errorIsEOF(err) {
		return nil, err
	}
	return buf, nil
}

func errorIsEOF(err error) bool {
	return err == io.EOF
}
