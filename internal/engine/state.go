package engine

import (
	"context"
	"errors"

	"signoff/internal/domain"
	"signoff/internal/repo"
)

// ReadyBelowFunc decides whether everything below the acting org unit has
// finished its own sign-off, i.e. UNAPPROVED_READY rather than
// UNAPPROVED_WAITING.
type ReadyBelowFunc func(ctx context.Context, rd storeReader, wf domain.Workflow, actingLevel domain.ApprovalLevel, sel domain.Selection, actingOrgUnit domain.OrgUnit) (bool, error)

// stateResult is the raw outcome of state resolution, before permissions
// and presentation are layered on.
type stateResult struct {
	state           domain.DataApprovalState
	approvedLevel   *domain.ApprovalLevel
	approvedOrgUnit *domain.OrgUnit
	actionLevel     *domain.ApprovalLevel
	fact            *domain.Approval
}

// resolveState derives the seven-way approval state for a selection. It
// scans workflow levels from the highest rung down, looking for a stored
// fact at the org unit (or the ancestor) where each level applies; the first
// hit is the approval that governs the selection. With no fact anywhere the
// state falls out of where the lowest applicable level sits.
func (e Engine) resolveState(ctx context.Context, rd storeReader, wf domain.Workflow, sel domain.Selection, ou domain.OrgUnit) (stateResult, error) {
	combo := sel.AttributeOptionComboUID
	if combo == "" {
		combo = domain.DefaultOptionCombo
	}

	for _, lv := range wf.SortedLevels() {
		if lv.OrgUnitLevel > ou.Level {
			continue
		}
		candidate, err := ancestorAtLevel(ctx, rd, ou, lv.OrgUnitLevel)
		if err != nil {
			return stateResult{}, err
		}
		if candidate == nil {
			continue
		}
		fact, err := rd.getApproval(ctx, lv.UID, wf.UID, sel.Period, candidate.UID, combo)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return stateResult{}, err
		}
		// timestamps are RFC3339 UTC, so string order is time order
		if sel.AsOf != "" && fact.CreatedAt > sel.AsOf {
			continue
		}
		res := stateResult{
			approvedLevel:   &lv,
			approvedOrgUnit: candidate,
			actionLevel:     &lv,
			fact:            &fact,
		}
		switch {
		case candidate.UID != ou.UID:
			res.state = domain.StateApprovedAbove
		case fact.Accepted:
			res.state = domain.StateAcceptedHere
		default:
			res.state = domain.StateApprovedHere
		}
		return res, nil
	}

	actingLevel, actingOrgUnit, err := lowestApprovableLevel(ctx, rd, wf, ou)
	if err != nil {
		return stateResult{}, err
	}
	if actingLevel == nil {
		return stateResult{state: domain.StateUnapprovable}, nil
	}
	if actingOrgUnit.UID != ou.UID {
		return stateResult{state: domain.StateUnapprovedAbove, actionLevel: actingLevel}, nil
	}

	readyBelow := e.ReadyBelow
	if readyBelow == nil {
		readyBelow = e.defaultReadyBelow
	}
	ready, err := readyBelow(ctx, rd, wf, *actingLevel, domain.Selection{
		WorkflowUID:             wf.UID,
		Period:                  sel.Period,
		OrgUnitUID:              ou.UID,
		AttributeOptionComboUID: combo,
		AsOf:                    sel.AsOf,
	}, *actingOrgUnit)
	if err != nil {
		return stateResult{}, err
	}
	if ready {
		return stateResult{state: domain.StateUnapprovedReady, actionLevel: actingLevel}, nil
	}
	return stateResult{state: domain.StateUnapprovedWaiting, actionLevel: actingLevel}, nil
}

// defaultReadyBelow requires a fact at the next-lower workflow level for
// every descendant org unit at that level's depth. With nothing below, the
// selection is ready by definition. When acceptance is required before the
// next approval, the facts below must also be accepted.
func (e Engine) defaultReadyBelow(ctx context.Context, rd storeReader, wf domain.Workflow, actingLevel domain.ApprovalLevel, sel domain.Selection, actingOrgUnit domain.OrgUnit) (bool, error) {
	lower := nextLowerLevel(wf, actingLevel)
	if lower == nil {
		return true, nil
	}
	below, err := rd.atLevelUnder(ctx, actingOrgUnit.Path, lower.OrgUnitLevel)
	if err != nil {
		return false, err
	}
	for _, child := range below {
		fact, err := rd.getApproval(ctx, lower.UID, wf.UID, sel.Period, child.UID, sel.AttributeOptionComboUID)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if sel.AsOf != "" && fact.CreatedAt > sel.AsOf {
			return false, nil
		}
		if e.Settings.AcceptanceRequiredForApproval && !fact.Accepted {
			return false, nil
		}
	}
	return true, nil
}
