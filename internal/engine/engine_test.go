package engine

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signoff/internal/audit"
	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/migrate"
)

func errorAs[T error](err error, target *T) bool {
	return errors.As(err, target)
}

func auditFilterFor(workflowUID string) audit.Filter {
	return audit.Filter{WorkflowUID: workflowUID}
}

// testEnv builds a three-deep hierarchy with a matching ladder:
//
//	national (depth 1)            level 1
//	├── districtA (depth 2)       level 2
//	│   ├── facilityA1 (depth 3)  level 3
//	│   └── facilityA2 (depth 3)
//	└── districtB (depth 2)
//	    └── facilityB1 (depth 3)
//
// Acceptance is required before the next rung approves, so the full cycle
// APPROVED_HERE -> ACCEPTED_HERE -> approval above is exercised.
type testEnv struct {
	t      *testing.T
	eng    Engine
	wf     domain.Workflow
	levels map[int]domain.ApprovalLevel
	ous    map[string]domain.OrgUnit
	users  map[string]domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "signoff.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	ctx := context.Background()
	if err := migrate.Apply(ctx, d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := New(d, config.Settings{
		AcceptanceRequiredForApproval: true,
		HideUnapprovedData:            true,
	}, zerolog.Nop())
	eng.Now = func() time.Time {
		return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	}

	te := &testEnv{
		t:      t,
		eng:    eng,
		levels: map[int]domain.ApprovalLevel{},
		ous:    map[string]domain.OrgUnit{},
		users:  map[string]domain.User{},
	}

	for i, name := range []string{"national", "district", "facility"} {
		lv, err := eng.AddLevel(ctx, name, i+1, nil)
		if err != nil {
			t.Fatalf("add level %s: %v", name, err)
		}
		te.levels[i+1] = lv
	}

	te.addOrgUnit("national", "")
	te.addOrgUnit("districtA", "national")
	te.addOrgUnit("districtB", "national")
	te.addOrgUnit("facilityA1", "districtA")
	te.addOrgUnit("facilityA2", "districtA")
	te.addOrgUnit("facilityB1", "districtB")

	wf, err := eng.CreateWorkflow(ctx, "monthly reporting", domain.PeriodMonthly,
		[]string{te.levels[1].UID, te.levels[2].UID, te.levels[3].UID})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	te.wf = wf

	te.addUser("nationalUser", "national",
		domain.AuthApproveData, domain.AuthApproveLowerLevels,
		domain.AuthAcceptLowerLevels, domain.AuthViewUnapprovedData)
	te.addUser("districtAUser", "districtA",
		domain.AuthApproveData, domain.AuthApproveLowerLevels, domain.AuthAcceptLowerLevels)
	te.addUser("facilityA1User", "facilityA1", domain.AuthApproveData)
	return te
}

func (te *testEnv) addOrgUnit(name, parent string) {
	te.t.Helper()
	var parentPtr *string
	if parent != "" {
		uid := te.ous[parent].UID
		parentPtr = &uid
	}
	ou, err := te.eng.CreateOrgUnit(context.Background(), name, parentPtr)
	if err != nil {
		te.t.Fatalf("create org unit %s: %v", name, err)
	}
	te.ous[name] = ou
}

func (te *testEnv) addUser(name, orgUnit string, authorities ...string) {
	te.t.Helper()
	ouUID := te.ous[orgUnit].UID
	u, err := te.eng.CreateUser(context.Background(), name, &ouUID, authorities, nil)
	if err != nil {
		te.t.Fatalf("create user %s: %v", name, err)
	}
	te.users[name] = u
}

func (te *testEnv) sel(orgUnit string) domain.Selection {
	return domain.Selection{
		WorkflowUID: te.wf.UID,
		Period:      "202401",
		OrgUnitUID:  te.ous[orgUnit].UID,
	}
}

func (te *testEnv) approve(user, orgUnit string) {
	te.t.Helper()
	if _, err := te.eng.Approve(context.Background(), te.users[user], te.sel(orgUnit)); err != nil {
		te.t.Fatalf("approve %s as %s: %v", orgUnit, user, err)
	}
}

func (te *testEnv) accept(user, orgUnit string) {
	te.t.Helper()
	if err := te.eng.Accept(context.Background(), te.users[user], te.sel(orgUnit)); err != nil {
		te.t.Fatalf("accept %s as %s: %v", orgUnit, user, err)
	}
}

func (te *testEnv) status(user, orgUnit string) domain.DataApprovalStatus {
	te.t.Helper()
	st, err := te.eng.Status(context.Background(), te.users[user], te.sel(orgUnit))
	if err != nil {
		te.t.Fatalf("status %s as %s: %v", orgUnit, user, err)
	}
	return st
}

func (te *testEnv) wantState(user, orgUnit string, want domain.DataApprovalState) {
	te.t.Helper()
	if st := te.status(user, orgUnit); st.State != want {
		te.t.Fatalf("state of %s for %s = %s, want %s", orgUnit, user, st.State, want)
	}
}

func TestStateBeforeAnyApproval(t *testing.T) {
	te := newTestEnv(t)

	// facilities are at the bottom of the ladder with nothing below them
	te.wantState("facilityA1User", "facilityA1", domain.StateUnapprovedReady)

	// districts wait for their facilities, national waits for districts
	te.wantState("districtAUser", "districtA", domain.StateUnapprovedWaiting)
	te.wantState("nationalUser", "national", domain.StateUnapprovedWaiting)
}

func TestUnapprovableWhenNoLevelApplies(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	// a workflow whose only level sits at facility depth never applies to
	// the national org unit
	wf, err := te.eng.CreateWorkflow(ctx, "facility only", domain.PeriodMonthly,
		[]string{te.levels[3].UID})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	st, err := te.eng.Status(ctx, te.users["nationalUser"], domain.Selection{
		WorkflowUID: wf.UID,
		Period:      "202401",
		OrgUnitUID:  te.ous["national"].UID,
	})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != domain.StateUnapprovable {
		t.Fatalf("state = %s, want %s", st.State, domain.StateUnapprovable)
	}
	if p := st.Permissions; p.MayApprove || p.MayUnapprove || p.MayAccept || p.MayUnaccept {
		t.Fatalf("no action should be permitted on unapprovable data: %+v", p)
	}
}

func TestApproveAtFacility(t *testing.T) {
	te := newTestEnv(t)

	te.approve("facilityA1User", "facilityA1")
	st := te.status("facilityA1User", "facilityA1")
	if st.State != domain.StateApprovedHere {
		t.Fatalf("state = %s, want %s", st.State, domain.StateApprovedHere)
	}
	if st.ApprovedLevel == nil || st.ApprovedLevel.Level != 3 {
		t.Fatalf("approved level = %+v, want level 3", st.ApprovedLevel)
	}
	if st.ApprovedOrgUnitUID != te.ous["facilityA1"].UID {
		t.Fatalf("approved org unit = %s, want facilityA1", st.ApprovedOrgUnitUID)
	}
	if st.CreatedAt != "2024-01-15T12:00:00Z" {
		t.Fatalf("created at = %s", st.CreatedAt)
	}
	if st.CreatedBy != te.users["facilityA1User"].UID {
		t.Fatalf("created by = %s", st.CreatedBy)
	}

	// sibling facility is untouched
	te.wantState("districtAUser", "facilityA2", domain.StateUnapprovedReady)
}

func TestUnapprovedAboveWhenActingLevelIsHigher(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	// a workflow topping out at district depth: facilities cannot act and
	// must wait for the district rung to decide
	wf, err := te.eng.CreateWorkflow(ctx, "district reporting", domain.PeriodMonthly,
		[]string{te.levels[1].UID, te.levels[2].UID})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	st, err := te.eng.Status(ctx, te.users["facilityA1User"], domain.Selection{
		WorkflowUID: wf.UID,
		Period:      "202401",
		OrgUnitUID:  te.ous["facilityA1"].UID,
	})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != domain.StateUnapprovedAbove {
		t.Fatalf("state = %s, want %s", st.State, domain.StateUnapprovedAbove)
	}
	if st.ActionLevel == nil || st.ActionLevel.Level != 2 {
		t.Fatalf("action level = %+v, want level 2", st.ActionLevel)
	}
	if p := st.Permissions; p.MayApprove || p.MayUnapprove || p.MayAccept || p.MayUnaccept {
		t.Fatalf("facility user must not act on data decided above: %+v", p)
	}
}

func TestDoubleApproveConflicts(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")
	_, err := te.eng.Approve(ctx, te.users["facilityA1User"], te.sel("facilityA1"))
	var conf ConflictError
	if !errorAs(err, &conf) {
		t.Fatalf("second approve: got %v, want ConflictError", err)
	}
}

func TestConcurrentApproveOneWins(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := te.eng.Approve(ctx, te.users["districtAUser"], te.sel("facilityA1"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, conflicted int
	for err := range errs {
		var conf ConflictError
		switch {
		case err == nil:
			won++
		case errorAs(err, &conf):
			conflicted++
		default:
			t.Fatalf("concurrent approve: %v", err)
		}
	}
	if won != 1 || conflicted != 1 {
		t.Fatalf("winners = %d, conflicts = %d, want exactly one of each", won, conflicted)
	}
	te.wantState("districtAUser", "facilityA1", domain.StateApprovedHere)
}

func TestApproveUnapproveRestoresStatus(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	before := te.status("districtAUser", "facilityA1")
	te.approve("facilityA1User", "facilityA1")
	if err := te.eng.Unapprove(ctx, te.users["facilityA1User"], te.sel("facilityA1")); err != nil {
		t.Fatalf("unapprove: %v", err)
	}
	after := te.status("districtAUser", "facilityA1")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("status did not return to its pre-approval value:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestDistrictWaitsForFacilities(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")
	// approved but not yet accepted does not count with acceptance required
	te.wantState("districtAUser", "districtA", domain.StateUnapprovedWaiting)

	te.accept("districtAUser", "facilityA1")
	te.wantState("districtAUser", "districtA", domain.StateUnapprovedWaiting)

	te.approve("districtAUser", "facilityA2")
	te.accept("districtAUser", "facilityA2")
	te.wantState("districtAUser", "districtA", domain.StateUnapprovedReady)

	te.approve("districtAUser", "districtA")
	st, err := te.eng.Status(ctx, te.users["districtAUser"], te.sel("districtA"))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != domain.StateApprovedHere {
		t.Fatalf("district state = %s, want %s", st.State, domain.StateApprovedHere)
	}
}

func TestApprovalAboveLocksBelow(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")
	te.accept("districtAUser", "facilityA1")
	te.approve("districtAUser", "facilityA2")
	te.accept("districtAUser", "facilityA2")
	te.approve("districtAUser", "districtA")

	st := te.status("districtAUser", "facilityA1")
	if st.State != domain.StateApprovedAbove {
		t.Fatalf("facility state = %s, want %s", st.State, domain.StateApprovedAbove)
	}
	if st.ApprovedLevel == nil || st.ApprovedLevel.Level != 2 {
		t.Fatalf("approved level = %+v, want level 2", st.ApprovedLevel)
	}
	if st.ApprovedOrgUnitUID != te.ous["districtA"].UID {
		t.Fatalf("approved org unit = %s, want districtA", st.ApprovedOrgUnitUID)
	}
	if st.Permissions.MayUnapprove {
		t.Fatal("data approved above must not be unapprovable from below")
	}

	// the facility fact is shadowed; unapproving the facility is a conflict
	err := te.eng.Unapprove(ctx, te.users["facilityA1User"], te.sel("facilityA1"))
	var conf ConflictError
	if !errorAs(err, &conf) {
		t.Fatalf("unapprove under approval above: got %v, want ConflictError", err)
	}
}

func TestUnapproveWithdrawsAcceptancesBelow(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")
	te.accept("districtAUser", "facilityA1")
	te.approve("districtAUser", "facilityA2")
	te.accept("districtAUser", "facilityA2")
	te.approve("districtAUser", "districtA")

	if err := te.eng.Unapprove(ctx, te.users["districtAUser"], te.sel("districtA")); err != nil {
		t.Fatalf("unapprove district: %v", err)
	}

	// facility approvals survive but drop back to unaccepted
	st := te.status("districtAUser", "facilityA1")
	if st.State != domain.StateApprovedHere {
		t.Fatalf("facility state = %s, want %s", st.State, domain.StateApprovedHere)
	}
	if st.Accepted {
		t.Fatal("acceptance must be withdrawn when the approval above goes away")
	}
	te.wantState("districtAUser", "districtA", domain.StateUnapprovedWaiting)
}

func TestAcceptanceRoundTrip(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")

	st := te.status("districtAUser", "facilityA1")
	if !st.Permissions.MayAccept {
		t.Fatal("district user should be able to accept a facility approval")
	}
	te.accept("districtAUser", "facilityA1")
	st = te.status("districtAUser", "facilityA1")
	if st.State != domain.StateAcceptedHere {
		t.Fatalf("state = %s, want %s", st.State, domain.StateAcceptedHere)
	}
	if !st.Accepted || !st.Permissions.MayUnaccept || st.Permissions.MayAccept {
		t.Fatalf("accepted status flags wrong: %+v", st.Permissions)
	}

	if err := te.eng.Unaccept(ctx, te.users["districtAUser"], te.sel("facilityA1")); err != nil {
		t.Fatalf("unaccept: %v", err)
	}
	te.wantState("districtAUser", "facilityA1", domain.StateApprovedHere)

	// a second unaccept has nothing to withdraw
	err := te.eng.Unaccept(ctx, te.users["districtAUser"], te.sel("facilityA1"))
	var conf ConflictError
	if !errorAs(err, &conf) {
		t.Fatalf("double unaccept: got %v, want ConflictError", err)
	}
}

func TestFacilityUserCannotAccept(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")
	err := te.eng.Accept(ctx, te.users["facilityA1User"], te.sel("facilityA1"))
	var forb ForbiddenError
	if !errorAs(err, &forb) {
		t.Fatalf("accept by facility user: got %v, want ForbiddenError", err)
	}
}

func TestApproveOutsideReachForbidden(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	// facilityA1User has no access to facilityB1
	_, err := te.eng.Approve(ctx, te.users["facilityA1User"], te.sel("facilityB1"))
	var forb ForbiddenError
	if !errorAs(err, &forb) {
		t.Fatalf("approve outside reach: got %v, want ForbiddenError", err)
	}
}

func TestApproveAboveOwnLevelForbidden(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")
	te.accept("districtAUser", "facilityA1")
	te.approve("districtAUser", "facilityA2")
	te.accept("districtAUser", "facilityA2")

	// the district is ready, but a facility user cannot act one rung up
	_, err := te.eng.Approve(ctx, te.users["facilityA1User"], te.sel("districtA"))
	var forb ForbiddenError
	if !errorAs(err, &forb) {
		t.Fatalf("approve above own level: got %v, want ForbiddenError", err)
	}
}

func TestBatchApproveSkipsDoneItems(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("districtAUser", "facilityA1")
	applied, err := te.eng.ApproveAll(ctx, te.users["districtAUser"], []domain.Selection{
		te.sel("facilityA1"),
		te.sel("facilityA2"),
	})
	if err != nil {
		t.Fatalf("batch approve: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	te.wantState("districtAUser", "facilityA2", domain.StateApprovedHere)
}

func TestBatchRollsBackOnForbidden(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	_, err := te.eng.ApproveAll(ctx, te.users["facilityA1User"], []domain.Selection{
		te.sel("facilityA1"),
		te.sel("facilityB1"),
	})
	var forb ForbiddenError
	if !errorAs(err, &forb) {
		t.Fatalf("batch with forbidden item: got %v, want ForbiddenError", err)
	}
	// nothing from the batch may have landed
	te.wantState("facilityA1User", "facilityA1", domain.StateUnapprovedReady)
}

func TestPeriodTypeGuard(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	sel := te.sel("facilityA1")
	sel.Period = "2024Q1"
	_, err := te.eng.Approve(ctx, te.users["facilityA1User"], sel)
	var conf ConflictError
	if !errorAs(err, &conf) {
		t.Fatalf("quarterly period on monthly workflow: got %v, want ConflictError", err)
	}
}

func TestStatusAsOfIgnoresLaterApprovals(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")

	// resolved as of a moment before the approval, the fact does not exist
	sel := te.sel("facilityA1")
	sel.AsOf = "2024-01-01T00:00:00Z"
	st, err := te.eng.Status(ctx, te.users["facilityA1User"], sel)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != domain.StateUnapprovedReady {
		t.Fatalf("state as of before the approval = %s, want %s", st.State, domain.StateUnapprovedReady)
	}

	sel.AsOf = "2024-02-01T00:00:00Z"
	st, err = te.eng.Status(ctx, te.users["facilityA1User"], sel)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != domain.StateApprovedHere {
		t.Fatalf("state as of after the approval = %s, want %s", st.State, domain.StateApprovedHere)
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	te := newTestEnv(t)

	te.approve("facilityA1User", "facilityA1")
	first := te.status("districtAUser", "facilityA1")
	for i := 0; i < 3; i++ {
		again := te.status("districtAUser", "facilityA1")
		if !reflect.DeepEqual(again, first) {
			t.Fatalf("status changed between reads: %+v vs %+v", first, again)
		}
	}
}

func TestIsApproved(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	ok, err := te.eng.IsApproved(ctx, te.sel("facilityA1"))
	if err != nil || ok {
		t.Fatalf("IsApproved before = %v, %v", ok, err)
	}
	te.approve("facilityA1User", "facilityA1")
	ok, err = te.eng.IsApproved(ctx, te.sel("facilityA1"))
	if err != nil || !ok {
		t.Fatalf("IsApproved after = %v, %v", ok, err)
	}
}

func TestMayReadDataHidesLowerUnapproved(t *testing.T) {
	te := newTestEnv(t)

	// district user has no view-unapproved grant and the facility data has
	// not climbed to their rung yet
	st := te.status("districtAUser", "facilityA1")
	if st.Permissions.MayReadData {
		t.Fatal("unapproved facility data should be hidden from the district user")
	}

	// the facility's own user reads their own unapproved data
	st = te.status("facilityA1User", "facilityA1")
	if !st.Permissions.MayReadData {
		t.Fatal("facility user should read their own unapproved data")
	}

	// the view-unapproved grant overrides hiding
	st = te.status("nationalUser", "facilityA1")
	if !st.Permissions.MayReadData {
		t.Fatal("view-unapproved grant should allow reading")
	}

	// once approved at the district's rung the data becomes readable
	te.approve("facilityA1User", "facilityA1")
	te.accept("districtAUser", "facilityA1")
	te.approve("districtAUser", "facilityA2")
	te.accept("districtAUser", "facilityA2")
	te.approve("districtAUser", "districtA")
	st = te.status("districtAUser", "facilityA1")
	if !st.Permissions.MayReadData {
		t.Fatal("data approved at the district rung should be readable there")
	}
}

func TestAuditTrail(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("facilityA1User", "facilityA1")
	te.accept("districtAUser", "facilityA1")
	if err := te.eng.Unaccept(ctx, te.users["districtAUser"], te.sel("facilityA1")); err != nil {
		t.Fatalf("unaccept: %v", err)
	}
	if err := te.eng.Unapprove(ctx, te.users["facilityA1User"], te.sel("facilityA1")); err != nil {
		t.Fatalf("unapprove: %v", err)
	}

	rows, err := te.eng.Audits(ctx, auditFilterFor(te.wf.UID))
	if err != nil {
		t.Fatalf("audits: %v", err)
	}
	want := []domain.AuditAction{
		domain.ActionUnapprove, domain.ActionUnaccept, domain.ActionAccept, domain.ActionApprove,
	}
	if len(rows) != len(want) {
		t.Fatalf("audit rows = %d, want %d", len(rows), len(want))
	}
	for i, a := range rows {
		if a.Action != want[i] {
			t.Fatalf("audit[%d] = %s, want %s", i, a.Action, want[i])
		}
	}
	if rows[0].CreatedBy != te.users["facilityA1User"].UID {
		t.Fatalf("unapprove audit attributed to %s", rows[0].CreatedBy)
	}
	if rows[1].CreatedBy != te.users["districtAUser"].UID {
		t.Fatalf("unaccept audit attributed to %s", rows[1].CreatedBy)
	}
}

func TestDeleteApprovalsForOrgUnit(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	te.approve("districtAUser", "facilityA1")
	te.approve("districtAUser", "facilityA2")
	n, err := te.eng.DeleteApprovalsForOrgUnit(ctx, te.ous["districtA"].UID)
	if err != nil {
		t.Fatalf("delete approvals: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted = %d, want 2", n)
	}
	te.wantState("districtAUser", "facilityA1", domain.StateUnapprovedReady)

	rows, err := te.eng.Audits(ctx, auditFilterFor(te.wf.UID))
	if err != nil {
		t.Fatalf("audits: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("audit rows after cascade = %d, want 0", len(rows))
	}
}

func TestPreAcceptedWhenAcceptanceNotRequired(t *testing.T) {
	te := newTestEnv(t)
	te.eng.Settings.AcceptanceRequiredForApproval = false

	te.approve("facilityA1User", "facilityA1")
	st := te.status("districtAUser", "facilityA1")
	if st.State != domain.StateAcceptedHere {
		t.Fatalf("state = %s, want %s", st.State, domain.StateAcceptedHere)
	}
}
