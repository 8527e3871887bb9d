package repo

import (
	"context"
	"database/sql"
	"errors"

	"signoff/internal/domain"
)

func (r Repo) InsertWorkflow(ctx context.Context, wf domain.Workflow) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (uid, name, period_type, category_combo, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		wf.UID, wf.Name, wf.PeriodType, wf.CategoryComboUID, wf.CreatedAt); err != nil {
		return err
	}
	for _, lv := range wf.Levels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_levels (workflow_uid, level_uid) VALUES (?, ?)`,
			wf.UID, lv.UID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) GetWorkflow(ctx context.Context, uid string) (domain.Workflow, error) {
	return r.getWorkflow(ctx, r.DB, uid)
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, uid string) (domain.Workflow, error) {
	return r.getWorkflow(ctx, tx, uid)
}

func (r Repo) getWorkflow(ctx context.Context, q querier, uid string) (domain.Workflow, error) {
	var wf domain.Workflow
	err := q.QueryRowContext(ctx,
		`SELECT uid, name, period_type, category_combo, created_at
		 FROM workflows WHERE uid = ?`, uid).
		Scan(&wf.UID, &wf.Name, &wf.PeriodType, &wf.CategoryComboUID, &wf.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Workflow{}, ErrNotFound
	}
	if err != nil {
		return domain.Workflow{}, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT l.uid, l.name, l.level, l.org_unit_level, l.cogs_uid, l.created_at
		 FROM workflow_levels wl
		 JOIN approval_levels l ON l.uid = wl.level_uid
		 WHERE wl.workflow_uid = ?
		 ORDER BY l.level`, uid)
	if err != nil {
		return domain.Workflow{}, err
	}
	defer rows.Close()
	for rows.Next() {
		lv, err := scanLevel(rows)
		if err != nil {
			return domain.Workflow{}, err
		}
		wf.Levels = append(wf.Levels, lv)
	}
	return wf, rows.Err()
}

func (r Repo) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT uid FROM workflows ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Workflow, 0, len(uids))
	for _, uid := range uids {
		wf, err := r.GetWorkflow(ctx, uid)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (r Repo) DeleteWorkflow(ctx context.Context, uid string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflows WHERE uid = ?`, uid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AddWorkflowLevel(ctx context.Context, workflowUID, levelUID string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO workflow_levels (workflow_uid, level_uid) VALUES (?, ?)`,
		workflowUID, levelUID)
	return err
}

func (r Repo) RemoveWorkflowLevel(ctx context.Context, workflowUID, levelUID string) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM workflow_levels WHERE workflow_uid = ? AND level_uid = ?`,
		workflowUID, levelUID)
	return err
}
