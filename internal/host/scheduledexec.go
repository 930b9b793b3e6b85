package host

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dshills/warden/internal/provider"
)

// DueExecution is a scheduled execution whose time has come.
type DueExecution struct {
	TenantID string
	provider.ScheduledExecution
}

func scanExec(row interface{ Scan(...any) error }) (DueExecution, error) {
	var (
		d     DueExecution
		data  sql.NullString
		runAt int64
	)
	if err := row.Scan(&d.TenantID, &d.ID, &d.TemplateName, &data, &runAt); err != nil {
		return d, err
	}
	v, err := decodeValue(data)
	if err != nil {
		return d, err
	}
	d.Data = v
	d.RunAt = fromUnixNano(runAt)
	return d, nil
}

func (s *Store) execList(ctx context.Context, tenant, id string) ([]provider.ScheduledExecution, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	q := `SELECT tenant_id, id, template_name, data, run_at FROM scheduled_execs WHERE tenant_id = ?`
	args := []any{tenant}
	if id != "" {
		q += ` AND id = ?`
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY run_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled executions: %w", err)
	}
	defer rows.Close()

	var out []provider.ScheduledExecution
	for rows.Next() {
		d, err := scanExec(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d.ScheduledExecution)
	}
	return out, rows.Err()
}

// execAdd stores exec, replacing an execution with the same id.
func (s *Store) execAdd(ctx context.Context, tenant string, exec provider.ScheduledExecution) error {
	if err := s.check(); err != nil {
		return err
	}
	data, err := encodeValue(exec.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_execs (tenant_id, id, template_name, data, run_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			template_name = excluded.template_name,
			data = excluded.data,
			run_at = excluded.run_at
	`, tenant, exec.ID, exec.TemplateName, data, unixNano(exec.RunAt))
	if err != nil {
		return fmt.Errorf("failed to add scheduled execution %q: %w", exec.ID, err)
	}
	return nil
}

func (s *Store) execRemove(ctx context.Context, tenant, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_execs WHERE tenant_id = ? AND id = ?`, tenant, id)
	if err != nil {
		return fmt.Errorf("failed to remove scheduled execution %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("scheduled execution %q not found", id)
	}
	return nil
}

// TakeDue removes and returns every execution due at or before now, oldest
// first. A taken execution is never returned again.
func (s *Store) TakeDue(ctx context.Context, now time.Time) ([]DueExecution, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cutoff := unixNano(now)
	rows, err := tx.QueryContext(ctx, `
		SELECT tenant_id, id, template_name, data, run_at FROM scheduled_execs
		WHERE run_at <= ? ORDER BY run_at, tenant_id, id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query due executions: %w", err)
	}

	var due []DueExecution
	for rows.Next() {
		d, err := scanExec(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(due) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_execs WHERE run_at <= ?`, cutoff); err != nil {
		return nil, fmt.Errorf("failed to remove due executions: %w", err)
	}
	return due, tx.Commit()
}

// ScheduledExec is one tenant's deferred template runs.
type ScheduledExec struct {
	limits
	store  *Store
	tenant string
}

func (e *ScheduledExec) List(ctx context.Context, id string) ([]provider.ScheduledExecution, error) {
	return e.store.execList(ctx, e.tenant, id)
}

func (e *ScheduledExec) Add(ctx context.Context, exec provider.ScheduledExecution) error {
	return e.store.execAdd(ctx, e.tenant, exec)
}

func (e *ScheduledExec) Remove(ctx context.Context, id string) error {
	return e.store.execRemove(ctx, e.tenant, id)
}

var _ provider.ScheduledExecProvider = (*ScheduledExec)(nil)
