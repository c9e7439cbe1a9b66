package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
)

func (r *Repository) CreateTerminal(ctx context.Context, t *model.Terminal) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.LastActive.IsZero() {
		t.LastActive = t.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO terminals (id, mux_session, mux_window, provider, agent_profile, delegating_agent_id, initial_message, last_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.MuxSession, t.MuxWindow, t.Provider, t.AgentProfile, t.DelegatingAgentID, t.InitialMessage, t.LastActive, t.CreatedAt)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "inserting terminal", err)
	}
	return nil
}

func (r *Repository) scanTerminal(row interface {
	Scan(dest ...any) error
}) (*model.Terminal, error) {
	t := &model.Terminal{}
	err := row.Scan(&t.ID, &t.MuxSession, &t.MuxWindow, &t.Provider, &t.AgentProfile,
		&t.DelegatingAgentID, &t.InitialMessage, &t.LastActive, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Repository) GetTerminal(ctx context.Context, id string) (*model.Terminal, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, mux_session, mux_window, provider, agent_profile, delegating_agent_id, initial_message, last_active, created_at
		FROM terminals WHERE id = ?
	`), id)
	t, err := r.scanTerminal(row)
	if err == sql.ErrNoRows {
		return nil, orcherrors.NotFound("terminal %q not found", id)
	}
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "querying terminal", err)
	}
	return t, nil
}

func (r *Repository) GetTerminalByDelegatingAgentID(ctx context.Context, delegatingAgentID string) (*model.Terminal, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, mux_session, mux_window, provider, agent_profile, delegating_agent_id, initial_message, last_active, created_at
		FROM terminals WHERE delegating_agent_id = ?
		ORDER BY created_at DESC LIMIT 1
	`), delegatingAgentID)
	t, err := r.scanTerminal(row)
	if err == sql.ErrNoRows {
		return nil, orcherrors.NotFound("no terminal delegated by agent %q", delegatingAgentID)
	}
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "querying terminal by delegating agent", err)
	}
	return t, nil
}

func (r *Repository) ListTerminals(ctx context.Context) ([]*model.Terminal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, mux_session, mux_window, provider, agent_profile, delegating_agent_id, initial_message, last_active, created_at
		FROM terminals ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "listing terminals", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Terminal
	for rows.Next() {
		t, err := r.scanTerminal(rows)
		if err != nil {
			return nil, orcherrors.Wrap(orcherrors.KindInternal, "scanning terminal row", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateLastActive(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE terminals SET last_active = ? WHERE id = ?`), at, id)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "updating terminal last_active", err)
	}
	return requireRowsAffected(res, "terminal", id)
}

func (r *Repository) DeleteTerminal(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM terminals WHERE id = ?`), id)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "deleting terminal", err)
	}
	return nil
}

func requireRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "checking rows affected", err)
	}
	if n == 0 {
		return orcherrors.NotFound("%s %q not found", kind, id)
	}
	return nil
}
