package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"signoff/internal/domain"
)

const approvalColumns = `id, level_uid, workflow_uid, period, org_unit_uid, attribute_option_combo, accepted, created_at, created_by`

// IsUniqueViolation reports whether err is the driver's unique index error.
// The modernc driver exposes it only through the message text.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func scanApproval(row interface{ Scan(...any) error }) (domain.Approval, error) {
	var a domain.Approval
	var accepted int
	err := row.Scan(&a.ID, &a.LevelUID, &a.WorkflowUID, &a.Period, &a.OrgUnitUID,
		&a.AttributeOptionComboUID, &accepted, &a.CreatedAt, &a.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Approval{}, ErrNotFound
	}
	if err != nil {
		return domain.Approval{}, err
	}
	a.Accepted = accepted != 0
	return a, nil
}

func (r Repo) InsertApprovalTx(ctx context.Context, tx *sql.Tx, a domain.Approval) (int64, error) {
	accepted := 0
	if a.Accepted {
		accepted = 1
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO approvals (level_uid, workflow_uid, period, org_unit_uid, attribute_option_combo, accepted, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.LevelUID, a.WorkflowUID, a.Period, a.OrgUnitUID,
		a.AttributeOptionComboUID, accepted, a.CreatedAt, a.CreatedBy)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetApproval looks up the single fact matching the full natural key.
func (r Repo) GetApproval(ctx context.Context, levelUID, workflowUID, period, orgUnitUID, combo string) (domain.Approval, error) {
	return r.getApproval(ctx, r.DB, levelUID, workflowUID, period, orgUnitUID, combo)
}

func (r Repo) GetApprovalTx(ctx context.Context, tx *sql.Tx, levelUID, workflowUID, period, orgUnitUID, combo string) (domain.Approval, error) {
	return r.getApproval(ctx, tx, levelUID, workflowUID, period, orgUnitUID, combo)
}

func (r Repo) getApproval(ctx context.Context, q querier, levelUID, workflowUID, period, orgUnitUID, combo string) (domain.Approval, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals
		 WHERE level_uid = ? AND workflow_uid = ? AND period = ? AND org_unit_uid = ? AND attribute_option_combo = ?`,
		levelUID, workflowUID, period, orgUnitUID, combo)
	return scanApproval(row)
}

func (r Repo) SetApprovalAcceptedTx(ctx context.Context, tx *sql.Tx, id int64, accepted bool) error {
	v := 0
	if accepted {
		v = 1
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE approvals SET accepted = ? WHERE id = ?`, v, id)
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

func (r Repo) DeleteApprovalTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM approvals WHERE id = ?`, id)
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

// ApprovalFilter narrows ListApprovals. Zero values match everything.
type ApprovalFilter struct {
	WorkflowUID string
	Period      string
	OrgUnitUID  string
}

func (r Repo) ListApprovals(ctx context.Context, f ApprovalFilter) ([]domain.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE 1=1`
	var args []any
	if f.WorkflowUID != "" {
		query += ` AND workflow_uid = ?`
		args = append(args, f.WorkflowUID)
	}
	if f.Period != "" {
		query += ` AND period = ?`
		args = append(args, f.Period)
	}
	if f.OrgUnitUID != "" {
		query += ` AND org_unit_uid = ?`
		args = append(args, f.OrgUnitUID)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAcceptedForSubtreeTx flips the accepted flag on every fact at a level
// for org units inside the subtree rooted at the unit owning path. Used when
// an unapproval above invalidates the acceptances that enabled it.
func (r Repo) SetAcceptedForSubtreeTx(ctx context.Context, tx *sql.Tx, levelUID, workflowUID, period, combo, path string, accepted bool) error {
	v := 0
	if accepted {
		v = 1
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE approvals SET accepted = ?
		 WHERE level_uid = ? AND workflow_uid = ? AND period = ? AND attribute_option_combo = ?
		   AND org_unit_uid IN (SELECT uid FROM org_units WHERE path LIKE ?)`,
		v, levelUID, workflowUID, period, combo, path+"/%")
	return err
}

// DeleteApprovalsForSubtreeTx removes every stored fact whose org unit sits
// in the subtree rooted at the unit owning path.
func (r Repo) DeleteApprovalsForSubtreeTx(ctx context.Context, tx *sql.Tx, path string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM approvals WHERE org_unit_uid IN
		 (SELECT uid FROM org_units WHERE path = ? OR path LIKE ?)`,
		path, path+"/%")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
