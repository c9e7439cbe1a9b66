// Package inbox wraps the Metadata Store's inbox operations behind the
// semantics the Delivery Scheduler and Delegation Tools share: FIFO
// per-receiver queuing, addressed by terminal id.
package inbox

import (
	"context"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/store"
	"go.uber.org/zap"
)

// Service is the narrow facade the send_message/check_inbox delegation
// tools call; the Delivery Scheduler talks to store.InboxStore directly
// since it also needs UpdateMessageStatus on delivery.
type Service struct {
	store  store.InboxStore
	logger *logger.Logger
}

func New(s store.InboxStore, log *logger.Logger) *Service {
	return &Service{store: s, logger: log.WithFields(zap.String("component", "inbox-service"))}
}

// Send enqueues message as a new PENDING item addressed to receiverID,
// to be delivered by the Delivery Scheduler once receiverID goes idle.
func (s *Service) Send(ctx context.Context, senderID, receiverID, message string) (int64, error) {
	id, err := s.store.EnqueueMessage(ctx, senderID, receiverID, message)
	if err != nil {
		return 0, err
	}
	s.logger.Info("inbox message enqueued",
		zap.Int64("message_id", id), zap.String("sender_id", senderID), zap.String("receiver_id", receiverID))
	return id, nil
}

// Check returns up to limit PENDING messages addressed to receiverID,
// oldest first, without consuming them — delivery only happens via the
// Delivery Scheduler's drain loop.
func (s *Service) Check(ctx context.Context, receiverID string, limit int) ([]*model.InboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListPending(ctx, receiverID, limit)
}

// List returns up to limit messages addressed to receiverID in the given
// status, oldest first; backs the HTTP inbox listing endpoint, which (unlike
// the check_inbox tool) can query DELIVERED and FAILED messages too.
func (s *Service) List(ctx context.Context, receiverID string, status model.InboxStatus, limit int) ([]*model.InboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListMessages(ctx, receiverID, status, limit)
}
