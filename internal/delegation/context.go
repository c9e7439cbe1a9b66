package delegation

import (
	"context"
	"os"

	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/terminal"
)

// trackedTerminalEnvVar is read-only from the core's point of view: it is
// set by the multiplexer's create_session/create_window on the spawned
// shell, so a tool call originating inside that shell can identify itself.
const trackedTerminalEnvVar = "CAO_TERMINAL_ID"

// CallerContext identifies who is invoking a delegation tool. Exactly one
// of TerminalID or SessionID is populated when Fresh is false.
type CallerContext struct {
	TerminalID string // context 1: a tracked terminal, read from CAO_TERMINAL_ID
	SessionID  string // context 2: an agent-internal session id, from a query param
	Fresh      bool   // context 3: neither is known, caller gets a new session
}

// ResolveCallerContext implements the three-context precedence from
// spec.md §4.G / §9(iii): a tracked terminal always wins over a supplied
// session id, which wins over treating the caller as fresh.
func ResolveCallerContext(sessionIDParam string) CallerContext {
	if id := os.Getenv(trackedTerminalEnvVar); id != "" {
		return CallerContext{TerminalID: id}
	}
	if sessionIDParam != "" {
		return CallerContext{SessionID: sessionIDParam}
	}
	return CallerContext{Fresh: true}
}

// resolveCallerTerminal resolves a CallerContext to the caller's own
// Terminal record, when one exists. A fresh caller or an unresolvable
// session id has no backing terminal: callers must handle (nil, nil).
func resolveCallerTerminal(ctx context.Context, svc *terminal.Service, cc CallerContext) (*model.Terminal, error) {
	switch {
	case cc.TerminalID != "":
		return svc.GetTerminal(ctx, cc.TerminalID)
	case cc.SessionID != "":
		return svc.GetTerminalByDelegatingAgentID(ctx, cc.SessionID)
	default:
		return nil, nil
	}
}

// callerID returns the id delegated children should record as their
// delegating_agent_id: the caller's own terminal id if tracked, else the
// supplied agent-internal session id, else empty for a fresh caller.
func (cc CallerContext) callerID() string {
	if cc.TerminalID != "" {
		return cc.TerminalID
	}
	return cc.SessionID
}
