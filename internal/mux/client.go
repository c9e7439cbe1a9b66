// Package mux provides a thin façade over an external terminal multiplexer
// (tmux), shelling out to the tmux binary the way the rest of the
// orchestrator treats every external collaborator: a narrow, typed
// interface with no business logic on this side of the process boundary.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"go.uber.org/zap"
)

// WindowInfo describes one window within a multiplexer session.
type WindowInfo struct {
	Index int
	Name  string
}

// Client is a synchronous façade over the tmux CLI. tmux subprocess
// failures are reported as an *errors.Error of KindMux; a cwd that does not
// resolve to a directory is reported as KindInvalidArg.
type Client struct {
	binary string
	logger *logger.Logger
}

// New creates a Client that shells out to the given tmux binary (e.g.
// "tmux", or an absolute path).
func New(binary string, log *logger.Logger) *Client {
	if binary == "" {
		binary = "tmux"
	}
	return &Client{
		binary: binary,
		logger: log.WithFields(zap.String("component", "mux-client")),
	}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String(), orcherrors.Mux(err, "tmux %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// SessionExists reports whether a multiplexer session with the given name exists.
func (c *Client) SessionExists(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, c.binary, "has-session", "-t", name)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			_ = exitErr
			return false, nil
		}
		return false, orcherrors.Mux(err, "has-session %s", name)
	}
	return true, nil
}

// CreateSession creates a new detached multiplexer session with one
// window, exporting CAO_TERMINAL_ID=<terminalID> into the spawned shell.
// cwd resolves per resolveCwd; returns the created window's name.
func (c *Client) CreateSession(ctx context.Context, name, window, terminalID string, cwd string) (string, error) {
	dir, err := resolveCwd(cwd)
	if err != nil {
		return "", err
	}

	args := []string{
		"new-session", "-d",
		"-s", name,
		"-n", window,
		"-c", dir,
		"-e", fmt.Sprintf("CAO_TERMINAL_ID=%s", terminalID),
	}
	if _, err := c.run(ctx, args...); err != nil {
		return "", err
	}

	c.logger.Info("created mux session",
		zap.String("session", name), zap.String("window", window),
		zap.String("terminal_id", terminalID), zap.String("cwd", dir))
	return window, nil
}

// CreateWindow creates a new window within an existing session. Fails if
// the session does not exist.
func (c *Client) CreateWindow(ctx context.Context, session, window, terminalID string, cwd string) (string, error) {
	exists, err := c.SessionExists(ctx, session)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", orcherrors.Mux(nil, "session %q does not exist", session)
	}

	dir, err := resolveCwd(cwd)
	if err != nil {
		return "", err
	}

	args := []string{
		"new-window",
		"-t", session,
		"-n", window,
		"-c", dir,
		"-e", fmt.Sprintf("CAO_TERMINAL_ID=%s", terminalID),
	}
	if _, err := c.run(ctx, args...); err != nil {
		return "", err
	}

	c.logger.Info("created mux window",
		zap.String("session", session), zap.String("window", window),
		zap.String("terminal_id", terminalID), zap.String("cwd", dir))
	return window, nil
}

// SendKeys delivers text followed by an implicit newline to the target
// window. Uses tmux's literal-flag send-keys so embedded newlines and
// quotes in text are transmitted as-is rather than interpreted as
// additional tmux key sequences.
func (c *Client) SendKeys(ctx context.Context, session, window, text string) error {
	target := fmt.Sprintf("%s:%s", session, window)
	if _, err := c.run(ctx, "send-keys", "-t", target, "-l", text); err != nil {
		return err
	}
	if _, err := c.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
		return err
	}
	return nil
}

// SendControlC sends an interrupt (Ctrl-C) to the target window, used by
// providers whose exit convention is a control sequence rather than a
// typed command.
func (c *Client) SendControlC(ctx context.Context, session, window string) error {
	target := fmt.Sprintf("%s:%s", session, window)
	_, err := c.run(ctx, "send-keys", "-t", target, "C-c")
	return err
}

// GetHistory returns the concatenated scrollback plus visible pane content.
// If tailLines > 0, only the last tailLines lines are captured.
func (c *Client) GetHistory(ctx context.Context, session, window string, tailLines int) (string, error) {
	target := fmt.Sprintf("%s:%s", session, window)
	args := []string{"capture-pane", "-t", target, "-p", "-S", "-"}
	if tailLines > 0 {
		args = []string{"capture-pane", "-t", target, "-p", "-S", "-" + strconv.Itoa(tailLines)}
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return out, nil
}

// PipePane tees the window's pane output to logPath. Idempotent: calling
// it twice on the same window simply re-pipes to the (possibly new) path.
func (c *Client) PipePane(ctx context.Context, session, window, logPath string) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return orcherrors.Mux(err, "creating pane log directory for %s", logPath)
	}
	target := fmt.Sprintf("%s:%s", session, window)
	_, err := c.run(ctx, "pipe-pane", "-t", target, fmt.Sprintf("cat >> %s", shellQuote(logPath)))
	return err
}

// StopPipePane stops teeing the window's pane output. Idempotent.
func (c *Client) StopPipePane(ctx context.Context, session, window string) error {
	target := fmt.Sprintf("%s:%s", session, window)
	_, err := c.run(ctx, "pipe-pane", "-t", target)
	return err
}

// GetPaneCwd returns the window's current working directory, if known.
func (c *Client) GetPaneCwd(ctx context.Context, session, window string) (string, error) {
	target := fmt.Sprintf("%s:%s", session, window)
	out, err := c.run(ctx, "display-message", "-p", "-t", target, "#{pane_current_path}")
	if err != nil {
		return "", err
	}
	cwd := strings.TrimSpace(out)
	if cwd == "" {
		return "", nil
	}
	return cwd, nil
}

// KillSession terminates a multiplexer session and all its windows.
func (c *Client) KillSession(ctx context.Context, name string) error {
	_, err := c.run(ctx, "kill-session", "-t", name)
	return err
}

// GetSessionWindows lists the windows of a session with their index and name.
func (c *Client) GetSessionWindows(ctx context.Context, session string) ([]WindowInfo, error) {
	out, err := c.run(ctx, "list-windows", "-t", session, "-F", "#{window_index}\t#{window_name}")
	if err != nil {
		return nil, err
	}
	var windows []WindowInfo
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		windows = append(windows, WindowInfo{Index: idx, Name: parts[1]})
	}
	return windows, nil
}

// resolveCwd implements §4.A's cwd resolution rule: if empty, use the
// process's current directory; always canonicalize symlinks; fail if the
// resolved path is not a directory.
func resolveCwd(cwd string) (string, error) {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", orcherrors.Internal(err, "resolving process working directory")
		}
		cwd = wd
	}

	real, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		return "", orcherrors.InvalidArgument("cwd %q does not exist or cannot be resolved: %v", cwd, err)
	}

	info, err := os.Stat(real)
	if err != nil || !info.IsDir() {
		return "", orcherrors.InvalidArgument("cwd %q is not a directory", cwd)
	}
	return real, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
