// Package provider implements the per-CLI state machines that translate
// raw pane output (or, for server-backed agents, HTTP responses) into the
// five-state status vocabulary the rest of the orchestrator understands.
package provider

import (
	"context"
	"regexp"
	"strings"

	"github.com/kandev/agent-orchestrator/internal/model"
)

// ExitAction describes how a provider asks its underlying CLI to terminate.
type ExitAction struct {
	// Command is a literal string to send via SendInput (e.g. "/exit").
	Command string
	// ControlC, when true, means send a Ctrl-C control sequence instead of Command.
	ControlC bool
}

// Provider is the capability set every agent CLI adapter implements. All
// providers share this surface; they differ only in how GetStatus and
// ExtractLastMessage interpret the underlying CLI's output.
type Provider interface {
	// Initialize sends the agent-launch command and waits for the CLI to
	// reach IDLE, up to an internal budget.
	Initialize(ctx context.Context) error

	// SendInput delivers text to the running agent. Not safe to call
	// concurrently for the same terminal; callers must serialize.
	SendInput(ctx context.Context, text string) error

	// GetStatus is a total function over the last tailLines of pane
	// output (or equivalent live state); it always returns one of the
	// five defined statuses, never "unknown".
	GetStatus(ctx context.Context, tailLines int) (model.Status, error)

	// ExtractLastMessage returns the agent's most recent reply.
	ExtractLastMessage(ctx context.Context) (string, error)

	// IdlePatternForLog returns a regex the scheduler can cheaply match
	// against the last few lines of the pane log, to decide whether a
	// full status query is worth making.
	IdlePatternForLog() *regexp.Regexp

	// ExitCommand describes how to retire the underlying CLI.
	ExitCommand() ExitAction

	// Cleanup releases any held resources (HTTP clients, etc). Idempotent.
	Cleanup() error
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[=>]`)

// StripANSI removes terminal escape sequences, leaving plain text.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

var shellPromptPattern = regexp.MustCompile(`(?m)(^|\s)([\w.-]+@[\w.-]+[:\s].*[#$]\s*$|[#$]\s*$)`)

// AtShellPrompt reports whether the tail of s looks like a bare shell
// prompt — the ground-truth "process returned" signal for CLIs that don't
// decorate their output with a TUI.
func AtShellPrompt(s string) bool {
	trimmed := strings.TrimRight(s, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 {
		return false
	}
	last := strings.TrimRight(lines[len(lines)-1], " \t")
	if last == "" {
		return false
	}
	return shellPromptPattern.MatchString(last)
}

// splitTail returns the last n lines of s (n<=0 returns all lines).
func splitTail(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}
