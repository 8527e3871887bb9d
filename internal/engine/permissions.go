package engine

import (
	"context"
	"errors"
	"strings"

	"signoff/internal/domain"
	"signoff/internal/repo"
)

// authContext is a snapshot of one user's grants and reachable org units,
// taken before the mutating transaction begins. Grants are not part of the
// raced state, so a snapshot is safe.
type authContext struct {
	user        domain.User
	grants      map[string]bool
	accessible  []domain.OrgUnit
	userOrgUnit *domain.OrgUnit
	maxLevel    *domain.ApprovalLevel
}

// loadAuth resolves the caller's authorities, accessible org units (granted
// units plus their own), and maximum approval level against the workflow's
// ladder.
func (e Engine) loadAuth(ctx context.Context, user domain.User, levels []domain.ApprovalLevel) (authContext, error) {
	ac := authContext{user: user, grants: map[string]bool{}}
	auths, err := e.Repo.ListAuthorities(ctx, user.UID)
	if err != nil {
		return authContext{}, err
	}
	for _, a := range auths {
		ac.grants[a] = true
	}
	ac.accessible, err = e.Repo.ListUserOrgUnits(ctx, user.UID)
	if err != nil {
		return authContext{}, err
	}
	if user.OrgUnitUID != nil {
		own, err := e.Repo.GetOrgUnit(ctx, *user.OrgUnitUID)
		if errors.Is(err, repo.ErrNotFound) {
			return authContext{}, NotFoundError{Kind: "org unit", UID: *user.OrgUnitUID}
		}
		if err != nil {
			return authContext{}, err
		}
		ac.userOrgUnit = &own
		ac.accessible = append(ac.accessible, own)
	}
	ac.maxLevel = userMaxApprovalLevel(levels, ac.userOrgUnit)
	return ac, nil
}

// canReach reports whether target sits inside any accessible subtree.
func (ac authContext) canReach(target domain.OrgUnit) bool {
	for _, root := range ac.accessible {
		if target.Path == root.Path || strings.HasPrefix(target.Path, root.Path+"/") {
			return true
		}
	}
	return false
}

// actableAt reports whether the user may take approval actions at a rung:
// their own rung with the approve grant, or any rung below it with the
// lower-levels grant.
func (ac authContext) actableAt(lv domain.ApprovalLevel) bool {
	if ac.maxLevel == nil {
		return false
	}
	if lv.Level == ac.maxLevel.Level {
		return ac.grants[domain.AuthApproveData]
	}
	if lv.Level > ac.maxLevel.Level {
		return ac.grants[domain.AuthApproveLowerLevels]
	}
	return false
}

// permissionsFor computes the five per-user action flags for a resolved
// state.
func (e Engine) permissionsFor(ctx context.Context, rd storeReader, ac authContext, wf domain.Workflow, ou domain.OrgUnit, st stateResult) (domain.DataApprovalPermissions, error) {
	var p domain.DataApprovalPermissions

	if st.state.Approvable() && st.actionLevel != nil {
		p.MayApprove = ac.actableAt(*st.actionLevel) && ac.canReach(ou)
	}
	if st.state.Unapprovable() && st.approvedLevel != nil {
		p.MayUnapprove = ac.actableAt(*st.approvedLevel) && ac.canReach(*st.approvedOrgUnit)
	}

	if (st.state.Acceptable() || st.state.Unacceptable()) && st.approvedLevel != nil {
		ok, err := e.mayAcceptAt(ctx, rd, ac, wf, st)
		if err != nil {
			return domain.DataApprovalPermissions{}, err
		}
		p.MayAccept = st.state.Acceptable() && ok
		p.MayUnaccept = st.state.Unacceptable() && ok
	}

	p.MayReadData = e.mayRead(ac, st)
	return p, nil
}

// mayAcceptAt checks acceptance rights: acceptance is an act of the level
// directly above the fact, so the fact's level must not be the top of the
// ladder, the user must sit above it with the accept grant, and the org
// unit where the level above acts must be reachable.
func (e Engine) mayAcceptAt(ctx context.Context, rd storeReader, ac authContext, wf domain.Workflow, st stateResult) (bool, error) {
	if !ac.grants[domain.AuthAcceptLowerLevels] {
		return false, nil
	}
	if ac.maxLevel == nil || ac.maxLevel.Level >= st.approvedLevel.Level {
		return false, nil
	}
	above := nextHigherLevel(wf, *st.approvedLevel)
	if above == nil {
		return false, nil
	}
	anc, err := ancestorAtLevel(ctx, rd, *st.approvedOrgUnit, above.OrgUnitLevel)
	if err != nil {
		return false, err
	}
	if anc == nil {
		return false, nil
	}
	return ac.canReach(*anc), nil
}

// mayRead hides data that has not yet been signed off up to the caller's
// rung, unless they hold the view-unapproved grant or hiding is disabled.
func (e Engine) mayRead(ac authContext, st stateResult) bool {
	if ac.grants[domain.AuthViewUnapprovedData] || !e.Settings.HideUnapprovedData {
		return true
	}
	if ac.maxLevel == nil {
		return true
	}
	statusLevel := st.approvedLevel
	if statusLevel == nil {
		statusLevel = st.actionLevel
	}
	if statusLevel == nil {
		return true
	}
	return statusLevel.Level <= ac.maxLevel.Level
}
