package engine

import (
	"context"
	"strings"

	"signoff/internal/domain"
)

// pathSegments splits a materialized path into its uid chain, root first.
func pathSegments(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// ancestorAtLevel returns the ancestor of ou sitting at the given tree
// depth, ou itself when depth equals its own, or nil when depth is below ou.
func ancestorAtLevel(ctx context.Context, rd storeReader, ou domain.OrgUnit, depth int) (*domain.OrgUnit, error) {
	switch {
	case depth == ou.Level:
		return &ou, nil
	case depth > ou.Level || depth < 1:
		return nil, nil
	}
	segments := pathSegments(ou.Path)
	if depth > len(segments) {
		return nil, InvariantError{Reason: "org unit path shorter than its level"}
	}
	anc, err := rd.getOrgUnit(ctx, segments[depth-1])
	if err != nil {
		return nil, err
	}
	return &anc, nil
}

// lowestApprovableLevel finds the workflow level nearest the bottom of the
// ladder that still applies at or above ou, together with the org unit where
// approval at that level happens. Both are nil when no level applies.
func lowestApprovableLevel(ctx context.Context, rd storeReader, wf domain.Workflow, ou domain.OrgUnit) (*domain.ApprovalLevel, *domain.OrgUnit, error) {
	levels := wf.SortedLevels()
	for i := len(levels) - 1; i >= 0; i-- {
		lv := levels[i]
		if lv.OrgUnitLevel > ou.Level {
			continue
		}
		candidate, err := ancestorAtLevel(ctx, rd, ou, lv.OrgUnitLevel)
		if err != nil {
			return nil, nil, err
		}
		if candidate != nil {
			return &lv, candidate, nil
		}
	}
	return nil, nil, nil
}

// userMaxApprovalLevel is the highest rung a user can act at, determined by
// the depth of their own org unit: the first level (highest rung first)
// whose org unit level is at or below the user's depth. Nil when the user
// has no org unit or no level applies.
func userMaxApprovalLevel(levels []domain.ApprovalLevel, userOrgUnit *domain.OrgUnit) *domain.ApprovalLevel {
	if userOrgUnit == nil {
		return nil
	}
	for _, lv := range levels {
		if lv.OrgUnitLevel >= userOrgUnit.Level {
			return &lv
		}
	}
	return nil
}

// nextLowerLevel returns the workflow level directly below lv, nil at the
// bottom of the ladder.
func nextLowerLevel(wf domain.Workflow, lv domain.ApprovalLevel) *domain.ApprovalLevel {
	levels := wf.SortedLevels()
	for i, l := range levels {
		if l.UID == lv.UID && i+1 < len(levels) {
			return &levels[i+1]
		}
	}
	return nil
}

// nextHigherLevel returns the workflow level directly above lv, nil at the
// top of the ladder.
func nextHigherLevel(wf domain.Workflow, lv domain.ApprovalLevel) *domain.ApprovalLevel {
	levels := wf.SortedLevels()
	for i, l := range levels {
		if l.UID == lv.UID && i > 0 {
			return &levels[i-1]
		}
	}
	return nil
}
