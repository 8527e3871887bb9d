package domain

import "testing"

func TestPeriodTypeOf(t *testing.T) {
	cases := map[string]string{
		"2024":     PeriodYearly,
		"202401":   PeriodMonthly,
		"2024Q1":   PeriodQuarterly,
		"2024W05":  PeriodWeekly,
		"2024W5":   PeriodWeekly,
		"20240115": PeriodDaily,
		"jan-2024": "",
		"":         "",
	}
	for iso, want := range cases {
		if got := PeriodTypeOf(iso); got != want {
			t.Errorf("PeriodTypeOf(%q) = %q, want %q", iso, got, want)
		}
	}
}

func TestStateProjections(t *testing.T) {
	// approval and acceptance are mutually staged: a state is acceptable
	// only when approved here, unacceptable only when accepted
	for _, s := range []DataApprovalState{
		StateUnapprovable, StateUnapprovedAbove, StateUnapprovedWaiting,
		StateUnapprovedReady, StateApprovedHere, StateApprovedAbove, StateAcceptedHere,
	} {
		if s.Acceptable() && s.Accepted() {
			t.Errorf("%s cannot be both acceptable and accepted", s)
		}
		if s.Approvable() && s.Approved() {
			t.Errorf("%s cannot be both approvable and approved", s)
		}
		if s.Unapprovable() && !s.Approved() {
			t.Errorf("%s cannot be unapprovable without being approved", s)
		}
	}
	if !StateUnapprovedReady.Approvable() {
		t.Error("UNAPPROVED_READY must be approvable")
	}
	if !StateApprovedHere.Acceptable() || StateApprovedHere.Accepted() {
		t.Error("APPROVED_HERE must be acceptable and not accepted")
	}
	if !StateAcceptedHere.Unacceptable() || !StateAcceptedHere.Accepted() {
		t.Error("ACCEPTED_HERE must be accepted and unacceptable")
	}
}

func TestSortedLevelsDoesNotMutate(t *testing.T) {
	wf := Workflow{Levels: []ApprovalLevel{{UID: "c", Level: 3}, {UID: "a", Level: 1}, {UID: "b", Level: 2}}}
	sorted := wf.SortedLevels()
	for i, want := range []string{"a", "b", "c"} {
		if sorted[i].UID != want {
			t.Fatalf("sorted[%d] = %s, want %s", i, sorted[i].UID, want)
		}
	}
	if wf.Levels[0].UID != "c" {
		t.Fatal("SortedLevels mutated the workflow")
	}
}
