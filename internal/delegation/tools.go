// Package delegation implements the tool-call facade (handoff / assign /
// send_message / check_inbox / list_workers / done) by which one agent
// delegates work to another, built on the Terminal Service and Inbox.
package delegation

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/kandev/agent-orchestrator/internal/common/config"
	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/inbox"
	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"github.com/kandev/agent-orchestrator/internal/terminal"
	"go.uber.org/zap"
)

const pollInterval = 1 * time.Second

// sessionIDPattern finds an agent-internal session identifier surfacing in
// a JSON-streaming CLI's event text, per spec.md §4.G.
var sessionIDPattern = regexp.MustCompile(`"sessionID"\s*:\s*"(ses_[^"]+)"`)

// HandoffResult is returned by both handoff and assign; the handler never
// raises across the tool boundary, it reports failure in Success/Message.
type HandoffResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Output       string `json:"output,omitempty"`
	TerminalID   string `json:"terminal_id,omitempty"`
	SubagentID   string `json:"subagent_id,omitempty"`
	TmuxWindowID string `json:"tmux_window_id,omitempty"`
	AgentProfile string `json:"agent_profile,omitempty"`
}

// Tools composes the Terminal Service and Inbox into the six delegation
// operations. One Tools instance is shared across all tool invocations.
type Tools struct {
	svc    *terminal.Service
	inbox  *inbox.Service
	cfg    config.DelegationConfig
	logger *logger.Logger
}

func New(svc *terminal.Service, ib *inbox.Service, cfg config.DelegationConfig, log *logger.Logger) *Tools {
	return &Tools{svc: svc, inbox: ib, cfg: cfg, logger: log.WithFields(zap.String("component", "delegation-tools"))}
}

// downgradeServerBacked remaps a server-backed (HTTP-backed) provider to
// its local JSON-streaming equivalent when spawning a child, preventing a
// child from reusing the parent's server session (spec.md §9).
func downgradeServerBacked(p model.ProviderKind) model.ProviderKind {
	if p == model.ProviderQCLI {
		return model.ProviderCodex
	}
	return p
}

func (t *Tools) resolveWorkerProvider(caller *model.Terminal, defaultProvider model.ProviderKind) model.ProviderKind {
	if caller != nil {
		return downgradeServerBacked(caller.Provider)
	}
	if defaultProvider == "" {
		return model.ProviderClaude
	}
	return defaultProvider
}

func (t *Tools) resolveWorkerCwd(ctx context.Context, caller *model.Terminal, explicitCwd string) string {
	if !t.cfg.EnableCwdParam {
		return ""
	}
	if explicitCwd != "" {
		return explicitCwd
	}
	if caller == nil {
		return ""
	}
	cwd, err := t.svc.GetWorkingDirectory(ctx, caller.ID)
	if err != nil {
		return ""
	}
	return cwd
}

// HandoffParams carries the arguments common to handoff and assign.
type HandoffParams struct {
	SessionIDParam string // agent-internal session id, context 2
	Profile        string
	Message        string
	Cwd            string
	DefaultProvider model.ProviderKind
}

// spawnWorker creates the worker terminal for a handoff/assign. Per spec.md
// §4.G, contexts 1 (tracked terminal) and 2 (agent-internal session id)
// co-locate the worker in the caller's existing mux session; only a fresh
// caller (context 3) gets a brand-new session. This is what makes
// list_workers, which filters by the caller's session, meaningful.
func (t *Tools) spawnWorker(ctx context.Context, p HandoffParams) (*model.Terminal, error) {
	cc := ResolveCallerContext(p.SessionIDParam)
	caller, _ := resolveCallerTerminal(ctx, t.svc, cc)

	opts := terminal.CreateOptions{
		Provider:          t.resolveWorkerProvider(caller, p.DefaultProvider),
		AgentProfile:      p.Profile,
		Cwd:               t.resolveWorkerCwd(ctx, caller, p.Cwd),
		DelegatingAgentID: cc.callerID(),
		InitialMessage:    p.Message,
	}
	if caller != nil {
		opts.Session = caller.MuxSession
	} else {
		opts.NewSession = true
	}

	return t.svc.CreateTerminal(ctx, opts)
}

// Handoff creates a worker terminal, sends message, and blocks (up to
// timeout) for the worker to reach COMPLETED or ERROR, per spec.md §4.G.
func (t *Tools) Handoff(ctx context.Context, p HandoffParams, timeout time.Duration) HandoffResult {
	worker, err := t.spawnWorker(ctx, p)
	if err != nil {
		return HandoffResult{Success: false, Message: err.Error()}
	}
	result := HandoffResult{TerminalID: worker.ID, TmuxWindowID: worker.MuxWindow, AgentProfile: worker.AgentProfile}

	if err := t.svc.SendInput(ctx, worker.ID, p.Message); err != nil {
		result.Message = err.Error()
		return result
	}

	if timeout <= 0 {
		result.Success = false
		result.Message = "handoff timed out before the worker could run"
		return result
	}

	deadline := time.Now().Add(timeout)
	for {
		term, err := t.svc.GetTerminal(ctx, worker.ID)
		if err == nil {
			if result.SubagentID == "" {
				if id := t.scanSessionID(ctx, worker.ID); id != "" {
					result.SubagentID = id
				}
			}
			switch term.Status {
			case model.StatusCompleted:
				output, _ := t.svc.GetOutput(ctx, worker.ID, model.OutputLast, 0)
				result.Success = true
				result.Output = output
				result.Message = "worker completed"
				_ = t.svc.Exit(ctx, worker.ID)
				return result
			case model.StatusError:
				result.Success = false
				result.Message = "worker reported an error"
				_ = t.svc.Exit(ctx, worker.ID)
				return result
			}
		}

		if time.Now().After(deadline) {
			result.Success = false
			result.Message = "handoff timed out waiting for the worker"
			return result
		}
		select {
		case <-ctx.Done():
			result.Success = false
			result.Message = ctx.Err().Error()
			return result
		case <-time.After(pollInterval):
		}
	}
}

// Assign creates a worker terminal, sends message, and returns without
// waiting for completion; the Delivery Scheduler's auto-relay delivers the
// result later.
func (t *Tools) Assign(ctx context.Context, p HandoffParams) HandoffResult {
	worker, err := t.spawnWorker(ctx, p)
	if err != nil {
		return HandoffResult{Success: false, Message: err.Error()}
	}
	result := HandoffResult{Success: true, TerminalID: worker.ID, TmuxWindowID: worker.MuxWindow, AgentProfile: worker.AgentProfile, Message: "worker assigned"}

	if err := t.svc.SendInput(ctx, worker.ID, p.Message); err != nil {
		return HandoffResult{Success: false, Message: err.Error(), TerminalID: worker.ID}
	}

	deadline := time.Now().Add(t.cfg.AssignIDTimeout)
	for time.Now().Before(deadline) {
		if id := t.scanSessionID(ctx, worker.ID); id != "" {
			result.SubagentID = id
			break
		}
		select {
		case <-ctx.Done():
			return result
		case <-time.After(200 * time.Millisecond):
		}
	}
	return result
}

func (t *Tools) scanSessionID(ctx context.Context, terminalID string) string {
	tail, err := t.svc.GetOutput(ctx, terminalID, model.OutputTail, 200)
	if err != nil {
		return ""
	}
	m := sessionIDPattern.FindStringSubmatch(tail)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// SendMessage resolves the sender via caller context and enqueues a
// PENDING inbox message for receiver.
func (t *Tools) SendMessage(ctx context.Context, sessionIDParam, receiver, message string) (bool, string) {
	cc := ResolveCallerContext(sessionIDParam)
	sender := cc.callerID()
	if sender == "" {
		sender = "unknown-caller"
	}
	if _, err := t.inbox.Send(ctx, sender, receiver, message); err != nil {
		return false, err.Error()
	}
	return true, "message enqueued"
}

// CheckInbox lists messages for the given (or current) terminal.
func (t *Tools) CheckInbox(ctx context.Context, sessionIDParam, terminalID string, limit int) ([]*model.InboxMessage, error) {
	if terminalID == "" {
		cc := ResolveCallerContext(sessionIDParam)
		terminalID = cc.callerID()
	}
	if terminalID == "" {
		return nil, orcherrors.InvalidArgument("no terminal id in context or argument")
	}
	return t.inbox.Check(ctx, terminalID, limit)
}

// ListWorkers enumerates terminals whose session equals the caller's
// session.
func (t *Tools) ListWorkers(ctx context.Context, sessionIDParam string) ([]*model.Terminal, error) {
	cc := ResolveCallerContext(sessionIDParam)
	caller, err := resolveCallerTerminal(ctx, t.svc, cc)
	if err != nil || caller == nil {
		return nil, orcherrors.InvalidArgument("caller has no known session")
	}
	return t.svc.ListWorkers(ctx, caller.MuxSession)
}

// Done is the explicit variant of auto-relay: it finds the caller's
// delegating_agent_id and sends message to it, erroring if none is known.
func (t *Tools) Done(ctx context.Context, sessionIDParam, message string) (bool, string, string) {
	cc := ResolveCallerContext(sessionIDParam)
	caller, err := resolveCallerTerminal(ctx, t.svc, cc)
	if err != nil || caller == nil {
		return false, "caller has no known terminal", ""
	}
	if caller.DelegatingAgentID == "" {
		return false, "no supervisor known for this terminal", ""
	}
	if err := t.svc.SendInput(ctx, caller.DelegatingAgentID, message); err != nil {
		return false, err.Error(), caller.DelegatingAgentID
	}
	return true, fmt.Sprintf("delivered to %s", caller.DelegatingAgentID), caller.DelegatingAgentID
}
