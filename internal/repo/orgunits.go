package repo

import (
	"context"
	"database/sql"
	"errors"

	"signoff/internal/domain"
)

const orgUnitColumns = `uid, name, parent_uid, path, level, created_at`

func scanOrgUnit(row interface{ Scan(...any) error }) (domain.OrgUnit, error) {
	var ou domain.OrgUnit
	var parent sql.NullString
	err := row.Scan(&ou.UID, &ou.Name, &parent, &ou.Path, &ou.Level, &ou.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrgUnit{}, ErrNotFound
	}
	if err != nil {
		return domain.OrgUnit{}, err
	}
	ou.ParentUID = stringPtr(parent)
	return ou, nil
}

func (r Repo) InsertOrgUnit(ctx context.Context, ou domain.OrgUnit) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO org_units (`+orgUnitColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		ou.UID, ou.Name, nullString(ou.ParentUID), ou.Path, ou.Level, ou.CreatedAt)
	return err
}

func (r Repo) GetOrgUnit(ctx context.Context, uid string) (domain.OrgUnit, error) {
	return r.getOrgUnit(ctx, r.DB, uid)
}

func (r Repo) GetOrgUnitTx(ctx context.Context, tx *sql.Tx, uid string) (domain.OrgUnit, error) {
	return r.getOrgUnit(ctx, tx, uid)
}

func (r Repo) getOrgUnit(ctx context.Context, q querier, uid string) (domain.OrgUnit, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orgUnitColumns+` FROM org_units WHERE uid = ?`, uid)
	return scanOrgUnit(row)
}

func (r Repo) ListOrgUnits(ctx context.Context) ([]domain.OrgUnit, error) {
	return r.listOrgUnits(ctx, r.DB,
		`SELECT `+orgUnitColumns+` FROM org_units ORDER BY path`)
}

// ListOrgUnitsAtLevelUnder returns the org units at tree depth level whose
// path descends from pathPrefix (the subtree rooted at the unit owning that
// path). The unit owning pathPrefix itself is excluded.
func (r Repo) ListOrgUnitsAtLevelUnder(ctx context.Context, pathPrefix string, level int) ([]domain.OrgUnit, error) {
	return r.listOrgUnits(ctx, r.DB,
		`SELECT `+orgUnitColumns+` FROM org_units
		 WHERE level = ? AND path LIKE ? ORDER BY path`,
		level, pathPrefix+"/%")
}

func (r Repo) ListOrgUnitsAtLevelUnderTx(ctx context.Context, tx *sql.Tx, pathPrefix string, level int) ([]domain.OrgUnit, error) {
	return r.listOrgUnits(ctx, tx,
		`SELECT `+orgUnitColumns+` FROM org_units
		 WHERE level = ? AND path LIKE ? ORDER BY path`,
		level, pathPrefix+"/%")
}

func (r Repo) listOrgUnits(ctx context.Context, q querier, query string, args ...any) ([]domain.OrgUnit, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OrgUnit
	for rows.Next() {
		ou, err := scanOrgUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ou)
	}
	return out, rows.Err()
}

// DeleteOrgUnitTx removes an org unit. Children and stored approvals go
// with it through the schema's cascade rules.
func (r Repo) DeleteOrgUnitTx(ctx context.Context, tx *sql.Tx, uid string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM org_units WHERE uid = ?`, uid)
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
