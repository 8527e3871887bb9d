package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"signoff/internal/domain"
	"signoff/internal/repo"
)

// AddLevel registers a new approval level bound to an org unit tree depth.
// The registry stays sorted by org unit depth and densely numbered from 1;
// existing levels at or below the insertion point shift down one rung.
func (e Engine) AddLevel(ctx context.Context, name string, orgUnitLevel int, cogs *string) (domain.ApprovalLevel, error) {
	if orgUnitLevel < 1 {
		return domain.ApprovalLevel{}, ConflictError{Reason: "org unit level must be positive"}
	}
	e.levelMu.Lock()
	defer e.levelMu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalLevel{}, err
	}
	defer tx.Rollback()

	if existing, err := e.Repo.GetLevelByOrgUnitLevelTx(ctx, tx, orgUnitLevel, cogs); err == nil {
		return domain.ApprovalLevel{}, DuplicateLevelError{OrgUnitLevel: orgUnitLevel, ExistingUID: existing.UID}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ApprovalLevel{}, err
	}

	levels, err := e.Repo.ListLevelsTx(ctx, tx)
	if err != nil {
		return domain.ApprovalLevel{}, err
	}
	position := len(levels) + 1
	for _, lv := range levels {
		if lv.OrgUnitLevel > orgUnitLevel {
			position = lv.Level
			break
		}
	}

	if err := e.Repo.OpenLevelSlotTx(ctx, tx, position); err != nil {
		return domain.ApprovalLevel{}, err
	}
	lv := domain.ApprovalLevel{
		UID:                       uuid.NewString(),
		Name:                      name,
		Level:                     position,
		OrgUnitLevel:              orgUnitLevel,
		CategoryOptionGroupSetUID: cogs,
		CreatedAt:                 e.timestamp(),
	}
	if err := e.Repo.InsertLevelTx(ctx, tx, lv); err != nil {
		return domain.ApprovalLevel{}, err
	}
	if err := e.assertDenseTx(ctx, tx); err != nil {
		return domain.ApprovalLevel{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalLevel{}, err
	}
	e.Log.Info().Str("level", lv.UID).Int("position", position).Msg("approval level added")
	return lv, nil
}

// DeleteLevel removes a level and renumbers the rest densely. A level that
// still carries approval facts cannot go away; unapprove first.
func (e Engine) DeleteLevel(ctx context.Context, uid string) error {
	e.levelMu.Lock()
	defer e.levelMu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lv, err := e.Repo.GetLevelTx(ctx, tx, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: "approval level", UID: uid}
	}
	if err != nil {
		return err
	}
	n, err := e.Repo.CountApprovalsAtLevelTx(ctx, tx, uid)
	if err != nil {
		return err
	}
	if n > 0 {
		return ConflictError{Reason: fmt.Sprintf("level %s still has %d approvals", uid, n)}
	}
	if err := e.Repo.DeleteLevelTx(ctx, tx, uid); err != nil {
		return err
	}
	if err := e.Repo.CloseLevelGapTx(ctx, tx, lv.Level); err != nil {
		return err
	}
	if err := e.assertDenseTx(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Log.Info().Str("level", uid).Msg("approval level deleted")
	return nil
}

// MoveLevelUp swaps a level with the one directly above it. Moves are only
// meaningful between levels bound to the same org unit depth.
func (e Engine) MoveLevelUp(ctx context.Context, uid string) error {
	return e.swapLevel(ctx, uid, -1)
}

// MoveLevelDown swaps a level with the one directly below it.
func (e Engine) MoveLevelDown(ctx context.Context, uid string) error {
	return e.swapLevel(ctx, uid, +1)
}

func (e Engine) swapLevel(ctx context.Context, uid string, direction int) error {
	e.levelMu.Lock()
	defer e.levelMu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lv, err := e.Repo.GetLevelTx(ctx, tx, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: "approval level", UID: uid}
	}
	if err != nil {
		return err
	}
	levels, err := e.Repo.ListLevelsTx(ctx, tx)
	if err != nil {
		return err
	}
	target := lv.Level + direction
	if target < 1 || target > len(levels) {
		return ConflictError{Reason: fmt.Sprintf("level %d cannot move further", lv.Level)}
	}
	var other domain.ApprovalLevel
	for _, l := range levels {
		if l.Level == target {
			other = l
		}
	}
	if other.OrgUnitLevel != lv.OrgUnitLevel {
		return ConflictError{Reason: "levels bound to different org unit depths keep their order"}
	}

	// three-step swap keeps the unique index on level satisfied
	if err := e.Repo.SetLevelNumberTx(ctx, tx, lv.UID, 0); err != nil {
		return err
	}
	if err := e.Repo.SetLevelNumberTx(ctx, tx, other.UID, lv.Level); err != nil {
		return err
	}
	if err := e.Repo.SetLevelNumberTx(ctx, tx, lv.UID, target); err != nil {
		return err
	}
	if err := e.assertDenseTx(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Levels lists the registry, highest rung first.
func (e Engine) Levels(ctx context.Context) ([]domain.ApprovalLevel, error) {
	return e.Repo.ListLevels(ctx)
}

// LevelsByOrgUnitLevel lists the levels bound to one org unit depth, in
// increasing level-number order.
func (e Engine) LevelsByOrgUnitLevel(ctx context.Context, orgUnitLevel int) ([]domain.ApprovalLevel, error) {
	return e.Repo.ListLevelsByOrgUnitLevel(ctx, orgUnitLevel)
}

// Level fetches one registry entry.
func (e Engine) Level(ctx context.Context, uid string) (domain.ApprovalLevel, error) {
	lv, err := e.Repo.GetLevel(ctx, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ApprovalLevel{}, NotFoundError{Kind: "approval level", UID: uid}
	}
	return lv, err
}

// assertDenseTx verifies the registry is numbered 1..n with no gaps. A gap
// means a renumbering bug, not a caller mistake.
func (e Engine) assertDenseTx(ctx context.Context, tx *sql.Tx) error {
	levels, err := e.Repo.ListLevelsTx(ctx, tx)
	if err != nil {
		return err
	}
	for i, lv := range levels {
		if lv.Level != i+1 {
			err := InvariantError{Reason: fmt.Sprintf("level registry not dense: %s at %d, want %d", lv.UID, lv.Level, i+1)}
			e.Log.Error().Err(err).Msg("level registry corrupt")
			return err
		}
	}
	return nil
}
