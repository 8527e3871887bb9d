package audit

import (
	"context"
	"database/sql"

	"signoff/internal/domain"
)

// Writer appends and reads the approval audit trail. Appends always happen
// on the transaction that performs the state change, so an audit row exists
// exactly when the change committed.
type Writer struct {
	DB *sql.DB
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, a domain.ApprovalAudit) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO approval_audits (level_uid, workflow_uid, period, org_unit_uid, attribute_option_combo, action, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.LevelUID, a.WorkflowUID, a.Period, a.OrgUnitUID,
		a.AttributeOptionComboUID, string(a.Action), a.CreatedAt, a.CreatedBy)
	return err
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	WorkflowUID string
	OrgUnitUID  string
	Action      domain.AuditAction
}

// List returns audit rows newest first.
func (w Writer) List(ctx context.Context, f Filter) ([]domain.ApprovalAudit, error) {
	query := `SELECT id, level_uid, workflow_uid, period, org_unit_uid, attribute_option_combo, action, created_at, created_by
		 FROM approval_audits WHERE 1=1`
	var args []any
	if f.WorkflowUID != "" {
		query += ` AND workflow_uid = ?`
		args = append(args, f.WorkflowUID)
	}
	if f.OrgUnitUID != "" {
		query += ` AND org_unit_uid = ?`
		args = append(args, f.OrgUnitUID)
	}
	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, string(f.Action))
	}
	query += ` ORDER BY id DESC`
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ApprovalAudit
	for rows.Next() {
		var a domain.ApprovalAudit
		var action string
		if err := rows.Scan(&a.ID, &a.LevelUID, &a.WorkflowUID, &a.Period, &a.OrgUnitUID,
			&a.AttributeOptionComboUID, &action, &a.CreatedAt, &a.CreatedBy); err != nil {
			return nil, err
		}
		a.Action = domain.AuditAction(action)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteForSubtreeTx removes audit rows for every org unit in the subtree
// rooted at the unit owning path. Only org unit deletion calls this; normal
// unapproval keeps its trail.
func (w Writer) DeleteForSubtreeTx(ctx context.Context, tx *sql.Tx, path string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM approval_audits WHERE org_unit_uid IN
		 (SELECT uid FROM org_units WHERE path = ? OR path LIKE ?)`,
		path, path+"/%")
	return err
}
