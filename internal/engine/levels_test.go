package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/migrate"
)

func newRegistryEnv(t *testing.T) Engine {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "signoff.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := migrate.Apply(context.Background(), d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := New(d, config.Settings{}, zerolog.Nop())
	eng.Now = func() time.Time {
		return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	}
	return eng
}

func wantRegistry(t *testing.T, eng Engine, wantOrgUnitLevels ...int) []domain.ApprovalLevel {
	t.Helper()
	levels, err := eng.Levels(context.Background())
	if err != nil {
		t.Fatalf("list levels: %v", err)
	}
	if len(levels) != len(wantOrgUnitLevels) {
		t.Fatalf("registry size = %d, want %d", len(levels), len(wantOrgUnitLevels))
	}
	for i, lv := range levels {
		if lv.Level != i+1 {
			t.Fatalf("registry not dense: position %d holds level %d", i+1, lv.Level)
		}
		if lv.OrgUnitLevel != wantOrgUnitLevels[i] {
			t.Fatalf("position %d bound to org unit level %d, want %d", i+1, lv.OrgUnitLevel, wantOrgUnitLevels[i])
		}
	}
	return levels
}

func TestAddLevelKeepsRegistrySorted(t *testing.T) {
	eng := newRegistryEnv(t)
	ctx := context.Background()

	// out-of-order additions land sorted by org unit depth
	if _, err := eng.AddLevel(ctx, "facility", 4, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := eng.AddLevel(ctx, "national", 1, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := eng.AddLevel(ctx, "district", 3, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := eng.AddLevel(ctx, "region", 2, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	wantRegistry(t, eng, 1, 2, 3, 4)
}

func TestAddDuplicateLevel(t *testing.T) {
	eng := newRegistryEnv(t)
	ctx := context.Background()

	if _, err := eng.AddLevel(ctx, "district", 2, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := eng.AddLevel(ctx, "district again", 2, nil)
	var dup DuplicateLevelError
	if !errorAs(err, &dup) {
		t.Fatalf("duplicate add: got %v, want DuplicateLevelError", err)
	}
	if dup.OrgUnitLevel != 2 {
		t.Fatalf("duplicate reported for org unit level %d, want 2", dup.OrgUnitLevel)
	}

	// a different category option group set is a different level
	cogs := "donor-group-set"
	if _, err := eng.AddLevel(ctx, "district by donor", 2, &cogs); err != nil {
		t.Fatalf("add with cogs: %v", err)
	}
	wantRegistry(t, eng, 2, 2)
}

func TestDeleteLevelRenumbers(t *testing.T) {
	eng := newRegistryEnv(t)
	ctx := context.Background()

	var uids []string
	for depth := 1; depth <= 4; depth++ {
		lv, err := eng.AddLevel(ctx, "level", depth, nil)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		uids = append(uids, lv.UID)
	}
	if err := eng.DeleteLevel(ctx, uids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	wantRegistry(t, eng, 1, 3, 4)

	var nf NotFoundError
	if err := eng.DeleteLevel(ctx, uids[1]); !errorAs(err, &nf) {
		t.Fatalf("delete missing: got %v, want NotFoundError", err)
	}
}

func TestDeleteLevelWithApprovalsConflicts(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")
	err := te.eng.DeleteLevel(ctx, te.levels[3].UID)
	var conf ConflictError
	if !errorAs(err, &conf) {
		t.Fatalf("delete level with facts: got %v, want ConflictError", err)
	}
}

func TestLevelsByOrgUnitLevel(t *testing.T) {
	eng := newRegistryEnv(t)
	ctx := context.Background()

	if _, err := eng.AddLevel(ctx, "national", 1, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	cogsA, cogsB := "by-donor", "by-partner"
	first, err := eng.AddLevel(ctx, "district by donor", 2, &cogsA)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := eng.AddLevel(ctx, "district by partner", 2, &cogsB)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	levels, err := eng.LevelsByOrgUnitLevel(ctx, 2)
	if err != nil {
		t.Fatalf("list by depth: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("levels at depth 2 = %d, want 2", len(levels))
	}
	if levels[0].UID != first.UID || levels[1].UID != second.UID {
		t.Fatal("levels not in increasing level-number order")
	}
	if levels[0].Level >= levels[1].Level {
		t.Fatalf("level numbers out of order: %d, %d", levels[0].Level, levels[1].Level)
	}

	levels, err = eng.LevelsByOrgUnitLevel(ctx, 3)
	if err != nil {
		t.Fatalf("list by depth: %v", err)
	}
	if len(levels) != 0 {
		t.Fatalf("levels at unused depth = %d, want 0", len(levels))
	}
}

func TestMoveLevelWithinSameDepth(t *testing.T) {
	eng := newRegistryEnv(t)
	ctx := context.Background()

	cogsA, cogsB := "by-donor", "by-partner"
	first, err := eng.AddLevel(ctx, "district by donor", 2, &cogsA)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := eng.AddLevel(ctx, "district by partner", 2, &cogsB)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := eng.MoveLevelUp(ctx, second.UID); err != nil {
		t.Fatalf("move up: %v", err)
	}
	levels := wantRegistry(t, eng, 2, 2)
	if levels[0].UID != second.UID || levels[1].UID != first.UID {
		t.Fatal("move up did not swap the levels")
	}

	if err := eng.MoveLevelDown(ctx, second.UID); err != nil {
		t.Fatalf("move down: %v", err)
	}
	levels = wantRegistry(t, eng, 2, 2)
	if levels[0].UID != first.UID {
		t.Fatal("move down did not swap the levels back")
	}
}

func TestMoveLevelBoundaries(t *testing.T) {
	eng := newRegistryEnv(t)
	ctx := context.Background()

	cogs := "by-donor"
	top, err := eng.AddLevel(ctx, "district", 2, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	bottom, err := eng.AddLevel(ctx, "district by donor", 2, &cogs)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	var conf ConflictError
	if err := eng.MoveLevelUp(ctx, top.UID); !errorAs(err, &conf) {
		t.Fatalf("move top up: got %v, want ConflictError", err)
	}
	if err := eng.MoveLevelDown(ctx, bottom.UID); !errorAs(err, &conf) {
		t.Fatalf("move bottom down: got %v, want ConflictError", err)
	}
}

func TestMoveLevelAcrossDepthsConflicts(t *testing.T) {
	eng := newRegistryEnv(t)
	ctx := context.Background()

	if _, err := eng.AddLevel(ctx, "national", 1, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	district, err := eng.AddLevel(ctx, "district", 2, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var conf ConflictError
	if err := eng.MoveLevelUp(ctx, district.UID); !errorAs(err, &conf) {
		t.Fatalf("move across depths: got %v, want ConflictError", err)
	}
}
