package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signoff/internal/domain"
	"signoff/internal/repo"
)

// preparedItem carries everything a mutation needs that can be loaded
// before its transaction: the workflow with its ladder, the target org
// unit, and the caller's authorization snapshot.
type preparedItem struct {
	sel domain.Selection
	wf  domain.Workflow
	ou  domain.OrgUnit
	ac  authContext
}

func (e Engine) prepare(ctx context.Context, user domain.User, sel domain.Selection) (preparedItem, error) {
	if sel.AttributeOptionComboUID == "" {
		sel.AttributeOptionComboUID = domain.DefaultOptionCombo
	}
	wf, err := e.Repo.GetWorkflow(ctx, sel.WorkflowUID)
	if errors.Is(err, repo.ErrNotFound) {
		return preparedItem{}, NotFoundError{Kind: "workflow", UID: sel.WorkflowUID}
	}
	if err != nil {
		return preparedItem{}, err
	}
	pt := domain.PeriodTypeOf(sel.Period)
	if pt == "" {
		return preparedItem{}, ConflictError{Reason: fmt.Sprintf("unrecognized period %q", sel.Period)}
	}
	if pt != wf.PeriodType {
		return preparedItem{}, ConflictError{Reason: fmt.Sprintf("period %s is %s, workflow %s wants %s", sel.Period, pt, wf.UID, wf.PeriodType)}
	}
	ou, err := e.Repo.GetOrgUnit(ctx, sel.OrgUnitUID)
	if errors.Is(err, repo.ErrNotFound) {
		return preparedItem{}, NotFoundError{Kind: "org unit", UID: sel.OrgUnitUID}
	}
	if err != nil {
		return preparedItem{}, err
	}
	ac, err := e.loadAuth(ctx, user, wf.SortedLevels())
	if err != nil {
		return preparedItem{}, err
	}
	return preparedItem{sel: sel, wf: wf, ou: ou, ac: ac}, nil
}

// Approve records an approval fact at the level that applies to the
// selection. The state is re-resolved inside the transaction, so a
// selection approved by a concurrent caller comes back as a Conflict.
func (e Engine) Approve(ctx context.Context, user domain.User, sel domain.Selection) (domain.Approval, error) {
	it, err := e.prepare(ctx, user, sel)
	if err != nil {
		return domain.Approval{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Approval{}, err
	}
	defer tx.Rollback()
	fact, applied, err := e.applyApprove(ctx, tx, it, true)
	if err != nil {
		return domain.Approval{}, err
	}
	if !applied {
		return domain.Approval{}, ConflictError{Reason: "already approved"}
	}
	if err := tx.Commit(); err != nil {
		return domain.Approval{}, err
	}
	e.Log.Info().Str("workflow", it.wf.UID).Str("org_unit", it.ou.UID).
		Str("period", it.sel.Period).Str("user", user.UID).Msg("approved")
	return *fact, nil
}

// ApproveAll approves a batch in one transaction. Selections already
// approved are skipped; any other violation rolls back the whole batch.
// Returns the number of facts recorded.
func (e Engine) ApproveAll(ctx context.Context, user domain.User, sels []domain.Selection) (int, error) {
	return e.applyAll(ctx, user, sels, func(ctx context.Context, tx *sql.Tx, it preparedItem) (bool, error) {
		_, applied, err := e.applyApprove(ctx, tx, it, false)
		return applied, err
	})
}

func (e Engine) applyApprove(ctx context.Context, tx *sql.Tx, it preparedItem, strict bool) (*domain.Approval, bool, error) {
	rd := e.txReader(tx)
	st, err := e.resolveState(ctx, rd, it.wf, it.sel, it.ou)
	if err != nil {
		return nil, false, err
	}
	if st.state.Approved() {
		return nil, false, nil
	}
	if it.sel.LevelUID != "" && (st.actionLevel == nil || st.actionLevel.UID != it.sel.LevelUID) {
		return nil, false, ConflictError{Reason: fmt.Sprintf("approval for %s does not happen at level %s", it.ou.UID, it.sel.LevelUID)}
	}
	if !st.state.Approvable() {
		return nil, false, ConflictError{Reason: fmt.Sprintf("state %s does not allow approval", st.state)}
	}
	perms, err := e.permissionsFor(ctx, rd, it.ac, it.wf, it.ou, st)
	if err != nil {
		return nil, false, err
	}
	if !perms.MayApprove {
		return nil, false, ForbiddenError{Action: "approve", Reason: fmt.Sprintf("user %s may not approve %s at level %d", it.ac.user.UID, it.ou.UID, st.actionLevel.Level)}
	}
	fact := domain.Approval{
		LevelUID:                st.actionLevel.UID,
		WorkflowUID:             it.wf.UID,
		Period:                  it.sel.Period,
		OrgUnitUID:              it.ou.UID,
		AttributeOptionComboUID: it.sel.AttributeOptionComboUID,
		Accepted:                !e.Settings.AcceptanceRequiredForApproval,
		CreatedAt:               e.timestamp(),
		CreatedBy:               it.ac.user.UID,
	}
	id, err := e.Repo.InsertApprovalTx(ctx, tx, fact)
	if repo.IsUniqueViolation(err) {
		return nil, false, ConflictError{Reason: "approved concurrently"}
	}
	if err != nil {
		return nil, false, err
	}
	fact.ID = id
	if err := e.appendAudit(ctx, tx, domain.ActionApprove, fact, it.ac.user.UID); err != nil {
		return nil, false, err
	}
	return &fact, true, nil
}

// Unapprove removes the approval fact governing the selection. Acceptances
// at the level directly below lose their meaning and are withdrawn in the
// same transaction.
func (e Engine) Unapprove(ctx context.Context, user domain.User, sel domain.Selection) error {
	return e.single(ctx, user, sel, "already unapproved", e.applyUnapprove)
}

func (e Engine) UnapproveAll(ctx context.Context, user domain.User, sels []domain.Selection) (int, error) {
	return e.applyAll(ctx, user, sels, e.applyUnapprove)
}

func (e Engine) applyUnapprove(ctx context.Context, tx *sql.Tx, it preparedItem) (bool, error) {
	rd := e.txReader(tx)
	st, err := e.resolveState(ctx, rd, it.wf, it.sel, it.ou)
	if err != nil {
		return false, err
	}
	if !st.state.Approved() {
		return false, nil
	}
	if !st.state.Unapprovable() {
		return false, ConflictError{Reason: fmt.Sprintf("state %s does not allow unapproval", st.state)}
	}
	perms, err := e.permissionsFor(ctx, rd, it.ac, it.wf, it.ou, st)
	if err != nil {
		return false, err
	}
	if !perms.MayUnapprove {
		return false, ForbiddenError{Action: "unapprove", Reason: fmt.Sprintf("user %s may not unapprove %s at level %d", it.ac.user.UID, it.ou.UID, st.approvedLevel.Level)}
	}
	if err := e.Repo.DeleteApprovalTx(ctx, tx, st.fact.ID); err != nil {
		return false, err
	}
	if lower := nextLowerLevel(it.wf, *st.approvedLevel); lower != nil {
		if err := e.Repo.SetAcceptedForSubtreeTx(ctx, tx, lower.UID, it.wf.UID, it.sel.Period, it.sel.AttributeOptionComboUID, st.approvedOrgUnit.Path, false); err != nil {
			return false, err
		}
	}
	return true, e.appendAudit(ctx, tx, domain.ActionUnapprove, *st.fact, it.ac.user.UID)
}

// Accept marks the approval as accepted by the level above.
func (e Engine) Accept(ctx context.Context, user domain.User, sel domain.Selection) error {
	return e.single(ctx, user, sel, "already accepted", e.applyAccept)
}

func (e Engine) AcceptAll(ctx context.Context, user domain.User, sels []domain.Selection) (int, error) {
	return e.applyAll(ctx, user, sels, e.applyAccept)
}

func (e Engine) applyAccept(ctx context.Context, tx *sql.Tx, it preparedItem) (bool, error) {
	rd := e.txReader(tx)
	st, err := e.resolveState(ctx, rd, it.wf, it.sel, it.ou)
	if err != nil {
		return false, err
	}
	if st.state.Accepted() {
		return false, nil
	}
	if !st.state.Acceptable() {
		return false, ConflictError{Reason: fmt.Sprintf("state %s does not allow acceptance", st.state)}
	}
	perms, err := e.permissionsFor(ctx, rd, it.ac, it.wf, it.ou, st)
	if err != nil {
		return false, err
	}
	if !perms.MayAccept {
		return false, ForbiddenError{Action: "accept", Reason: fmt.Sprintf("user %s may not accept for %s", it.ac.user.UID, it.ou.UID)}
	}
	if err := e.Repo.SetApprovalAcceptedTx(ctx, tx, st.fact.ID, true); err != nil {
		return false, err
	}
	return true, e.appendAudit(ctx, tx, domain.ActionAccept, *st.fact, it.ac.user.UID)
}

// Unaccept withdraws an acceptance, returning the fact to plain approved.
func (e Engine) Unaccept(ctx context.Context, user domain.User, sel domain.Selection) error {
	return e.single(ctx, user, sel, "already unaccepted", e.applyUnaccept)
}

func (e Engine) UnacceptAll(ctx context.Context, user domain.User, sels []domain.Selection) (int, error) {
	return e.applyAll(ctx, user, sels, e.applyUnaccept)
}

func (e Engine) applyUnaccept(ctx context.Context, tx *sql.Tx, it preparedItem) (bool, error) {
	rd := e.txReader(tx)
	st, err := e.resolveState(ctx, rd, it.wf, it.sel, it.ou)
	if err != nil {
		return false, err
	}
	if !st.state.Accepted() {
		return false, nil
	}
	if !st.state.Unacceptable() {
		return false, ConflictError{Reason: fmt.Sprintf("state %s does not allow unacceptance", st.state)}
	}
	perms, err := e.permissionsFor(ctx, rd, it.ac, it.wf, it.ou, st)
	if err != nil {
		return false, err
	}
	if !perms.MayUnaccept {
		return false, ForbiddenError{Action: "unaccept", Reason: fmt.Sprintf("user %s may not unaccept for %s", it.ac.user.UID, it.ou.UID)}
	}
	if err := e.Repo.SetApprovalAcceptedTx(ctx, tx, st.fact.ID, false); err != nil {
		return false, err
	}
	return true, e.appendAudit(ctx, tx, domain.ActionUnaccept, *st.fact, it.ac.user.UID)
}

// single runs one item strictly: a skip that a batch would tolerate is a
// Conflict for a direct call.
func (e Engine) single(ctx context.Context, user domain.User, sel domain.Selection, skipReason string, fn func(context.Context, *sql.Tx, preparedItem) (bool, error)) error {
	it, err := e.prepare(ctx, user, sel)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	applied, err := fn(ctx, tx, it)
	if err != nil {
		return err
	}
	if !applied {
		return ConflictError{Reason: skipReason}
	}
	return tx.Commit()
}

// applyAll runs a batch in one transaction: skips are tolerated, every
// other failure rolls the whole batch back.
func (e Engine) applyAll(ctx context.Context, user domain.User, sels []domain.Selection, fn func(context.Context, *sql.Tx, preparedItem) (bool, error)) (int, error) {
	items := make([]preparedItem, 0, len(sels))
	for _, sel := range sels {
		it, err := e.prepare(ctx, user, sel)
		if err != nil {
			return 0, err
		}
		items = append(items, it)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	applied := 0
	for _, it := range items {
		ok, err := fn(ctx, tx, it)
		if err != nil {
			return 0, err
		}
		if ok {
			applied++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return applied, nil
}

func (e Engine) appendAudit(ctx context.Context, tx *sql.Tx, action domain.AuditAction, fact domain.Approval, actorUID string) error {
	return e.Audit.Append(ctx, tx, domain.ApprovalAudit{
		LevelUID:                fact.LevelUID,
		WorkflowUID:             fact.WorkflowUID,
		Period:                  fact.Period,
		OrgUnitUID:              fact.OrgUnitUID,
		AttributeOptionComboUID: fact.AttributeOptionComboUID,
		Action:                  action,
		CreatedAt:               e.timestamp(),
		CreatedBy:               actorUID,
	})
}
