package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"signoff/internal/domain"
	"signoff/internal/repo"
)

// CreateOrgUnit adds a node to the hierarchy, deriving its path and depth
// from the parent.
func (e Engine) CreateOrgUnit(ctx context.Context, name string, parentUID *string) (domain.OrgUnit, error) {
	ou := domain.OrgUnit{
		UID:       uuid.NewString(),
		Name:      name,
		ParentUID: parentUID,
		Level:     1,
		CreatedAt: e.timestamp(),
	}
	if parentUID == nil {
		ou.Path = "/" + ou.UID
	} else {
		parent, err := e.Repo.GetOrgUnit(ctx, *parentUID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.OrgUnit{}, NotFoundError{Kind: "org unit", UID: *parentUID}
		}
		if err != nil {
			return domain.OrgUnit{}, err
		}
		ou.Path = parent.Path + "/" + ou.UID
		ou.Level = parent.Level + 1
	}
	if err := e.Repo.InsertOrgUnit(ctx, ou); err != nil {
		return domain.OrgUnit{}, err
	}
	return ou, nil
}

// DeleteOrgUnit removes a node and its subtree, together with every
// approval fact and audit row the subtree carried.
func (e Engine) DeleteOrgUnit(ctx context.Context, uid string) error {
	ou, err := e.Repo.GetOrgUnit(ctx, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: "org unit", UID: uid}
	}
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Audit.DeleteForSubtreeTx(ctx, tx, ou.Path); err != nil {
		return err
	}
	if _, err := e.Repo.DeleteApprovalsForSubtreeTx(ctx, tx, ou.Path); err != nil {
		return err
	}
	if err := e.Repo.DeleteOrgUnitTx(ctx, tx, uid); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateWorkflow registers a workflow over existing approval levels.
func (e Engine) CreateWorkflow(ctx context.Context, name, periodType string, levelUIDs []string) (domain.Workflow, error) {
	switch periodType {
	case domain.PeriodYearly, domain.PeriodQuarterly, domain.PeriodMonthly, domain.PeriodWeekly, domain.PeriodDaily:
	default:
		return domain.Workflow{}, ConflictError{Reason: fmt.Sprintf("unknown period type %q", periodType)}
	}
	wf := domain.Workflow{
		UID:              uuid.NewString(),
		Name:             name,
		PeriodType:       periodType,
		CategoryComboUID: domain.DefaultOptionCombo,
		CreatedAt:        e.timestamp(),
	}
	for _, luid := range levelUIDs {
		lv, err := e.Repo.GetLevel(ctx, luid)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Workflow{}, NotFoundError{Kind: "approval level", UID: luid}
		}
		if err != nil {
			return domain.Workflow{}, err
		}
		wf.Levels = append(wf.Levels, lv)
	}
	if err := e.Repo.InsertWorkflow(ctx, wf); err != nil {
		return domain.Workflow{}, err
	}
	return wf, nil
}

// Workflow fetches a workflow with its ladder.
func (e Engine) Workflow(ctx context.Context, uid string) (domain.Workflow, error) {
	wf, err := e.Repo.GetWorkflow(ctx, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Workflow{}, NotFoundError{Kind: "workflow", UID: uid}
	}
	return wf, err
}

// CreateUser registers a user with their authorities and accessible org
// units.
func (e Engine) CreateUser(ctx context.Context, name string, orgUnitUID *string, authorities, orgUnitUIDs []string) (domain.User, error) {
	u := domain.User{
		UID:        uuid.NewString(),
		Name:       name,
		OrgUnitUID: orgUnitUID,
		CreatedAt:  e.timestamp(),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	for _, a := range authorities {
		if err := e.Repo.GrantAuthority(ctx, u.UID, a); err != nil {
			return domain.User{}, err
		}
	}
	for _, ouUID := range orgUnitUIDs {
		if err := e.Repo.AssignUserOrgUnit(ctx, u.UID, ouUID); err != nil {
			return domain.User{}, err
		}
	}
	return u, nil
}

// User fetches a user record.
func (e Engine) User(ctx context.Context, uid string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, NotFoundError{Kind: "user", UID: uid}
	}
	return u, err
}

// IssueAPIKey mints a random api key for a user and stores its hash. The
// plaintext key is returned once and never kept.
func (e Engine) IssueAPIKey(ctx context.Context, userUID, label string) (string, error) {
	if _, err := e.User(ctx, userUID); err != nil {
		return "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	key := "sfk_" + hex.EncodeToString(raw)
	if err := e.Repo.InsertAPIKey(ctx, userUID, HashAPIKey(key), label, e.timestamp()); err != nil {
		return "", err
	}
	return key, nil
}

// HashAPIKey is the storage form of an api key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
