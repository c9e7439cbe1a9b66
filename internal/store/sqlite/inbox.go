package sqlite

import (
	"context"
	"time"

	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
)

func (r *Repository) EnqueueMessage(ctx context.Context, senderID, receiverID, message string) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO inbox_messages (sender_id, receiver_id, message, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), senderID, receiverID, message, model.InboxPending, now)
	if err != nil {
		return 0, orcherrors.Wrap(orcherrors.KindInternal, "enqueuing inbox message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, orcherrors.Wrap(orcherrors.KindInternal, "reading inserted inbox message id", err)
	}
	return id, nil
}

func (r *Repository) ListPending(ctx context.Context, receiverID string, limit int) ([]*model.InboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id, sender_id, receiver_id, message, status, created_at
		FROM inbox_messages
		WHERE receiver_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`), receiverID, model.InboxPending, limit)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "listing pending inbox messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.InboxMessage
	for rows.Next() {
		m := &model.InboxMessage{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Message, &m.Status, &m.CreatedAt); err != nil {
			return nil, orcherrors.Wrap(orcherrors.KindInternal, "scanning inbox message row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) ListMessages(ctx context.Context, receiverID string, status model.InboxStatus, limit int) ([]*model.InboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id, sender_id, receiver_id, message, status, created_at
		FROM inbox_messages
		WHERE receiver_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`), receiverID, status, limit)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "listing inbox messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.InboxMessage
	for rows.Next() {
		m := &model.InboxMessage{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Message, &m.Status, &m.CreatedAt); err != nil {
			return nil, orcherrors.Wrap(orcherrors.KindInternal, "scanning inbox message row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateMessageStatus(ctx context.Context, id int64, status model.InboxStatus) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE inbox_messages SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "updating inbox message status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "checking rows affected", err)
	}
	if n == 0 {
		return orcherrors.NotFound("inbox message %d not found", id)
	}
	return nil
}
