package repo

import (
	"context"
	"database/sql"
	"errors"

	"signoff/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (uid, name, org_unit_uid, created_at) VALUES (?, ?, ?, ?)`,
		u.UID, u.Name, nullString(u.OrgUnitUID), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, uid string) (domain.User, error) {
	var u domain.User
	var ou sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT uid, name, org_unit_uid, created_at FROM users WHERE uid = ?`, uid).
		Scan(&u.UID, &u.Name, &ou, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	u.OrgUnitUID = stringPtr(ou)
	return u, nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT uid, name, org_unit_uid, created_at FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		var ou sql.NullString
		if err := rows.Scan(&u.UID, &u.Name, &ou, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.OrgUnitUID = stringPtr(ou)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r Repo) GrantAuthority(ctx context.Context, userUID, authority string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_authorities (user_uid, authority) VALUES (?, ?)`,
		userUID, authority)
	return err
}

func (r Repo) RevokeAuthority(ctx context.Context, userUID, authority string) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM user_authorities WHERE user_uid = ? AND authority = ?`,
		userUID, authority)
	return err
}

func (r Repo) ListAuthorities(ctx context.Context, userUID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT authority FROM user_authorities WHERE user_uid = ? ORDER BY authority`,
		userUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AssignUserOrgUnit grants a user data access over an org unit subtree.
func (r Repo) AssignUserOrgUnit(ctx context.Context, userUID, orgUnitUID string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_org_units (user_uid, org_unit_uid) VALUES (?, ?)`,
		userUID, orgUnitUID)
	return err
}

// ListUserOrgUnits returns the org units a user was granted data access to,
// with their materialized paths, for subtree checks.
func (r Repo) ListUserOrgUnits(ctx context.Context, userUID string) ([]domain.OrgUnit, error) {
	return r.listOrgUnits(ctx, r.DB,
		`SELECT o.uid, o.name, o.parent_uid, o.path, o.level, o.created_at
		 FROM user_org_units uo
		 JOIN org_units o ON o.uid = uo.org_unit_uid
		 WHERE uo.user_uid = ?
		 ORDER BY o.path`, userUID)
}
