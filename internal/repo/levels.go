package repo

import (
	"context"
	"database/sql"
	"errors"

	"signoff/internal/domain"
)

const levelColumns = `uid, name, level, org_unit_level, cogs_uid, created_at`

func scanLevel(row interface{ Scan(...any) error }) (domain.ApprovalLevel, error) {
	var lv domain.ApprovalLevel
	var cogs sql.NullString
	err := row.Scan(&lv.UID, &lv.Name, &lv.Level, &lv.OrgUnitLevel, &cogs, &lv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ApprovalLevel{}, ErrNotFound
	}
	if err != nil {
		return domain.ApprovalLevel{}, err
	}
	lv.CategoryOptionGroupSetUID = stringPtr(cogs)
	return lv, nil
}

func (r Repo) InsertLevelTx(ctx context.Context, tx *sql.Tx, lv domain.ApprovalLevel) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO approval_levels (`+levelColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		lv.UID, lv.Name, lv.Level, lv.OrgUnitLevel,
		nullString(lv.CategoryOptionGroupSetUID), lv.CreatedAt)
	return err
}

func (r Repo) GetLevel(ctx context.Context, uid string) (domain.ApprovalLevel, error) {
	return r.getLevel(ctx, r.DB, uid)
}

func (r Repo) GetLevelTx(ctx context.Context, tx *sql.Tx, uid string) (domain.ApprovalLevel, error) {
	return r.getLevel(ctx, tx, uid)
}

func (r Repo) getLevel(ctx context.Context, q querier, uid string) (domain.ApprovalLevel, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+levelColumns+` FROM approval_levels WHERE uid = ?`, uid)
	return scanLevel(row)
}

// GetLevelByOrgUnitLevelTx finds the level bound to a tree depth and category
// option group set, for duplicate detection.
func (r Repo) GetLevelByOrgUnitLevelTx(ctx context.Context, tx *sql.Tx, orgUnitLevel int, cogs *string) (domain.ApprovalLevel, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+levelColumns+` FROM approval_levels
		 WHERE org_unit_level = ? AND cogs_uid IS ?`, orgUnitLevel, nullString(cogs))
	return scanLevel(row)
}

func (r Repo) ListLevels(ctx context.Context) ([]domain.ApprovalLevel, error) {
	return r.listLevels(ctx, r.DB,
		`SELECT `+levelColumns+` FROM approval_levels ORDER BY level`)
}

func (r Repo) ListLevelsTx(ctx context.Context, tx *sql.Tx) ([]domain.ApprovalLevel, error) {
	return r.listLevels(ctx, tx,
		`SELECT `+levelColumns+` FROM approval_levels ORDER BY level`)
}

// ListLevelsByOrgUnitLevel returns every level bound to one tree depth in
// increasing level-number order. Levels split by category option group set
// share a depth.
func (r Repo) ListLevelsByOrgUnitLevel(ctx context.Context, orgUnitLevel int) ([]domain.ApprovalLevel, error) {
	return r.listLevels(ctx, r.DB,
		`SELECT `+levelColumns+` FROM approval_levels WHERE org_unit_level = ? ORDER BY level`,
		orgUnitLevel)
}

func (r Repo) listLevels(ctx context.Context, q querier, query string, args ...any) ([]domain.ApprovalLevel, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ApprovalLevel
	for rows.Next() {
		lv, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lv)
	}
	return out, rows.Err()
}

// OpenLevelSlotTx shifts every level numbered at or above from up by one.
// The two-step negation keeps the unique index on level satisfied while
// rows move.
func (r Repo) OpenLevelSlotTx(ctx context.Context, tx *sql.Tx, from int) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE approval_levels SET level = -(level + 1) WHERE level >= ?`, from); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE approval_levels SET level = -level WHERE level < 0`)
	return err
}

// CloseLevelGapTx shifts every level numbered above the removed slot down
// by one, restoring dense numbering.
func (r Repo) CloseLevelGapTx(ctx context.Context, tx *sql.Tx, removed int) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE approval_levels SET level = -(level - 1) WHERE level > ?`, removed); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE approval_levels SET level = -level WHERE level < 0`)
	return err
}

func (r Repo) SetLevelNumberTx(ctx context.Context, tx *sql.Tx, uid string, level int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE approval_levels SET level = ? WHERE uid = ?`, level, uid)
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

func (r Repo) DeleteLevelTx(ctx context.Context, tx *sql.Tx, uid string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM approval_levels WHERE uid = ?`, uid)
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

// CountApprovalsAtLevelTx counts stored approval facts recorded at a level,
// used to guard level deletion.
func (r Repo) CountApprovalsAtLevelTx(ctx context.Context, tx *sql.Tx, levelUID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE level_uid = ?`, levelUID).Scan(&n)
	return n, err
}
