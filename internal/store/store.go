// Package store defines the Metadata Store: the persistence boundary for
// terminals, queued inbox messages, and flows. Provider-derived status is
// never persisted here; it is always computed live.
package store

import (
	"context"
	"time"

	"github.com/kandev/agent-orchestrator/internal/model"
)

// Store is the full Metadata Store surface used by the Terminal Service,
// Delivery Scheduler, Inbox service, and Delegation Tools.
type Store interface {
	TerminalStore
	InboxStore
	FlowStore

	Close() error
}

// TerminalStore persists terminal rows.
type TerminalStore interface {
	CreateTerminal(ctx context.Context, t *model.Terminal) error
	GetTerminal(ctx context.Context, id string) (*model.Terminal, error)
	GetTerminalByDelegatingAgentID(ctx context.Context, delegatingAgentID string) (*model.Terminal, error)
	ListTerminals(ctx context.Context) ([]*model.Terminal, error)
	UpdateLastActive(ctx context.Context, id string, at time.Time) error
	DeleteTerminal(ctx context.Context, id string) error
}

// InboxStore persists queued inbox messages, FIFO per receiver.
type InboxStore interface {
	// EnqueueMessage inserts a new PENDING message and returns its id.
	EnqueueMessage(ctx context.Context, senderID, receiverID, message string) (int64, error)
	// ListPending returns up to limit PENDING messages for receiverID
	// ordered oldest first.
	ListPending(ctx context.Context, receiverID string, limit int) ([]*model.InboxMessage, error)
	// ListMessages returns up to limit messages for receiverID in the given
	// status, oldest first; used by the HTTP inbox listing endpoint which
	// accepts any status, not just PENDING.
	ListMessages(ctx context.Context, receiverID string, status model.InboxStatus, limit int) ([]*model.InboxMessage, error)
	// UpdateMessageStatus transitions a message to DELIVERED or FAILED.
	UpdateMessageStatus(ctx context.Context, id int64, status model.InboxStatus) error
}

// FlowStore persists scheduled flow rows.
type FlowStore interface {
	CreateFlow(ctx context.Context, f *model.Flow) error
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	ListFlows(ctx context.Context) ([]*model.Flow, error)
	ListDueFlows(ctx context.Context, now time.Time) ([]*model.Flow, error)
	UpdateFlowNextRun(ctx context.Context, id string, next time.Time) error
	DeleteFlow(ctx context.Context, id string) error
}
