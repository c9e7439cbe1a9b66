package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
)

func (r *Repository) CreateFlow(ctx context.Context, f *model.Flow) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO flows (id, name, cron, enabled, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), f.ID, f.Name, f.Cron, f.Enabled, f.NextRun, f.CreatedAt)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "inserting flow", err)
	}
	return nil
}

func (r *Repository) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	f := &model.Flow{}
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, name, cron, enabled, next_run, created_at FROM flows WHERE id = ?
	`), id).Scan(&f.ID, &f.Name, &f.Cron, &f.Enabled, &f.NextRun, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, orcherrors.NotFound("flow %q not found", id)
	}
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "querying flow", err)
	}
	return f, nil
}

func (r *Repository) ListFlows(ctx context.Context) ([]*model.Flow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, cron, enabled, next_run, created_at FROM flows ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "listing flows", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFlows(rows)
}

func (r *Repository) ListDueFlows(ctx context.Context, now time.Time) ([]*model.Flow, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id, name, cron, enabled, next_run, created_at
		FROM flows WHERE enabled = 1 AND next_run <= ?
		ORDER BY next_run ASC
	`), now)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "listing due flows", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFlows(rows)
}

func scanFlows(rows *sql.Rows) ([]*model.Flow, error) {
	var out []*model.Flow
	for rows.Next() {
		f := &model.Flow{}
		if err := rows.Scan(&f.ID, &f.Name, &f.Cron, &f.Enabled, &f.NextRun, &f.CreatedAt); err != nil {
			return nil, orcherrors.Wrap(orcherrors.KindInternal, "scanning flow row", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateFlowNextRun(ctx context.Context, id string, next time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE flows SET next_run = ? WHERE id = ?`), next, id)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "updating flow next_run", err)
	}
	return requireRowsAffected(res, "flow", id)
}

func (r *Repository) DeleteFlow(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM flows WHERE id = ?`), id)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "deleting flow", err)
	}
	return nil
}
