package engine

import (
	"context"
	"errors"

	"signoff/internal/audit"
	"signoff/internal/domain"
	"signoff/internal/repo"
)

// Status resolves the approval state of a selection for one user, with the
// user's action permissions layered on. The status is derived fresh on
// every call; nothing about it is stored.
func (e Engine) Status(ctx context.Context, user domain.User, sel domain.Selection) (domain.DataApprovalStatus, error) {
	it, err := e.prepare(ctx, user, sel)
	if err != nil {
		return domain.DataApprovalStatus{}, err
	}
	rd := e.poolReader()
	st, err := e.resolveState(ctx, rd, it.wf, it.sel, it.ou)
	if err != nil {
		return domain.DataApprovalStatus{}, err
	}
	perms, err := e.permissionsFor(ctx, rd, it.ac, it.wf, it.ou, st)
	if err != nil {
		return domain.DataApprovalStatus{}, err
	}
	out := domain.DataApprovalStatus{
		State:                   st.state,
		ApprovedLevel:           st.approvedLevel,
		ActionLevel:             st.actionLevel,
		OrgUnitUID:              it.ou.UID,
		OrgUnitName:             it.ou.Name,
		AttributeOptionComboUID: it.sel.AttributeOptionComboUID,
		Accepted:                st.state.Accepted(),
		Permissions:             perms,
	}
	if st.approvedOrgUnit != nil {
		out.ApprovedOrgUnitUID = st.approvedOrgUnit.UID
	}
	if st.fact != nil {
		out.CreatedAt = st.fact.CreatedAt
		out.CreatedBy = st.fact.CreatedBy
	}
	return out, nil
}

// IsApproved reports whether a selection is covered by an approval fact,
// here or at an ancestor. No user context; pure existence.
func (e Engine) IsApproved(ctx context.Context, sel domain.Selection) (bool, error) {
	if sel.AttributeOptionComboUID == "" {
		sel.AttributeOptionComboUID = domain.DefaultOptionCombo
	}
	wf, err := e.Repo.GetWorkflow(ctx, sel.WorkflowUID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, NotFoundError{Kind: "workflow", UID: sel.WorkflowUID}
	}
	if err != nil {
		return false, err
	}
	ou, err := e.Repo.GetOrgUnit(ctx, sel.OrgUnitUID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, NotFoundError{Kind: "org unit", UID: sel.OrgUnitUID}
	}
	if err != nil {
		return false, err
	}
	st, err := e.resolveState(ctx, e.poolReader(), wf, sel, ou)
	if err != nil {
		return false, err
	}
	return st.state.Approved(), nil
}

// DeleteApprovalsForOrgUnit removes every approval fact and audit row for
// an org unit and its whole subtree. Called when the unit leaves the
// hierarchy; stale facts must not survive it.
func (e Engine) DeleteApprovalsForOrgUnit(ctx context.Context, orgUnitUID string) (int64, error) {
	ou, err := e.Repo.GetOrgUnit(ctx, orgUnitUID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, NotFoundError{Kind: "org unit", UID: orgUnitUID}
	}
	if err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.Audit.DeleteForSubtreeTx(ctx, tx, ou.Path); err != nil {
		return 0, err
	}
	n, err := e.Repo.DeleteApprovalsForSubtreeTx(ctx, tx, ou.Path)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.Log.Info().Str("org_unit", orgUnitUID).Int64("approvals", n).Msg("approvals deleted for org unit")
	return n, nil
}

// Audits lists the audit trail, newest first.
func (e Engine) Audits(ctx context.Context, f audit.Filter) ([]domain.ApprovalAudit, error) {
	return e.Audit.List(ctx, f)
}
