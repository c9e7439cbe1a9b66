// Package model defines the core data types shared across the orchestrator:
// Terminal, InboxMessage, and Flow, plus the provider status enum.
package model

import (
	"regexp"
	"time"
)

// TerminalIDPattern matches the 8-char lowercase hex terminal id format
// required by spec.md §6 ("Terminal ids match ^[a-f0-9]{8}$").
var TerminalIDPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// ProviderKind is one of the known closed set of agent CLI adapters.
type ProviderKind string

const (
	ProviderClaude  ProviderKind = "claude"  // TUI-decorated CLI
	ProviderCodex   ProviderKind = "codex"   // JSON-streaming CLI
	ProviderQCLI    ProviderKind = "q-cli"   // HTTP-backed CLI
	ProviderOpenCode ProviderKind = "opencode" // Attached-TUI CLI
)

// Status is the provider-derived execution state of a terminal. It is a
// total function over pane output: every query returns exactly one of
// these five values, never "unknown" (spec.md §8, property 3).
type Status string

const (
	StatusIdle              Status = "IDLE"
	StatusProcessing        Status = "PROCESSING"
	StatusCompleted         Status = "COMPLETED"
	StatusWaitingUserAnswer Status = "WAITING_USER_ANSWER"
	StatusError             Status = "ERROR"
)

// Terminal is one running agent inside one multiplexer window.
type Terminal struct {
	ID                string       `json:"id" db:"id"`
	MuxSession        string       `json:"mux_session" db:"mux_session"`
	MuxWindow         string       `json:"mux_window" db:"mux_window"`
	Provider          ProviderKind `json:"provider" db:"provider"`
	AgentProfile      string       `json:"agent_profile,omitempty" db:"agent_profile"`
	DelegatingAgentID string       `json:"delegating_agent_id,omitempty" db:"delegating_agent_id"`
	InitialMessage    string       `json:"initial_message,omitempty" db:"initial_message"`
	LastActive        time.Time    `json:"last_active" db:"last_active"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`

	// Status is ephemeral: derived live from the provider, never persisted.
	Status Status `json:"status,omitempty" db:"-"`
}

// InboxStatus is the lifecycle state of an InboxMessage. PENDING is the
// only non-absorbing state; DELIVERED and FAILED are terminal.
type InboxStatus string

const (
	InboxPending   InboxStatus = "PENDING"
	InboxDelivered InboxStatus = "DELIVERED"
	InboxFailed    InboxStatus = "FAILED"
)

// InboxMessage is a single queued delivery addressed to a terminal.
type InboxMessage struct {
	ID         int64       `json:"id" db:"id"`
	SenderID   string      `json:"sender_id" db:"sender_id"`
	ReceiverID string      `json:"receiver_id" db:"receiver_id"`
	Message    string      `json:"message" db:"message"`
	Status     InboxStatus `json:"status" db:"status"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// Flow is a scheduled recurrent agent invocation. The core only persists
// and reads flow rows; scheduling/triggering a flow is an external
// collaborator per spec.md §1 and §3.
type Flow struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Cron      string    `json:"cron" db:"cron"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	NextRun   time.Time `json:"next_run" db:"next_run"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OutputMode selects what Terminal Service.GetOutput returns.
type OutputMode string

const (
	OutputFull OutputMode = "full"
	OutputLast OutputMode = "last"
	OutputTail OutputMode = "tail"
)
