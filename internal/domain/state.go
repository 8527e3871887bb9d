package domain

// DataApprovalState is the derived position of a data selection in the
// sign-off ladder. Exactly one of the seven values holds for any selection.
type DataApprovalState string

const (
	// StateUnapprovable: no approval level applies anywhere at or above the
	// org unit, so the concept of approval does not exist for this selection.
	StateUnapprovable DataApprovalState = "UNAPPROVABLE"

	// StateUnapprovedAbove: not approved here, and the level that applies
	// sits at an ancestor org unit, so approval can only happen above.
	StateUnapprovedAbove DataApprovalState = "UNAPPROVED_ABOVE"

	// StateUnapprovedWaiting: approvable at this org unit but descendants
	// have not finished their own sign-off yet.
	StateUnapprovedWaiting DataApprovalState = "UNAPPROVED_WAITING"

	// StateUnapprovedReady: approvable at this org unit and everything
	// below is done.
	StateUnapprovedReady DataApprovalState = "UNAPPROVED_READY"

	// StateApprovedHere: an approval fact exists at this very org unit.
	StateApprovedHere DataApprovalState = "APPROVED_HERE"

	// StateApprovedAbove: covered by an approval fact at an ancestor.
	StateApprovedAbove DataApprovalState = "APPROVED_ABOVE"

	// StateAcceptedHere: approved at this org unit and accepted by the
	// level above.
	StateAcceptedHere DataApprovalState = "ACCEPTED_HERE"
)

type stateFlags struct {
	approved     bool
	approvable   bool
	unapprovable bool
	accepted     bool
	acceptable   bool
	unacceptable bool
}

var stateTable = map[DataApprovalState]stateFlags{
	StateUnapprovable:      {},
	StateUnapprovedAbove:   {},
	StateUnapprovedWaiting: {},
	StateUnapprovedReady:   {approvable: true},
	StateApprovedHere:      {approved: true, unapprovable: true, acceptable: true},
	StateApprovedAbove:     {approved: true},
	StateAcceptedHere:      {approved: true, unapprovable: true, accepted: true, unacceptable: true},
}

// Approved reports whether the selection is covered by an approval fact,
// here or above.
func (s DataApprovalState) Approved() bool { return stateTable[s].approved }

// Approvable reports whether an approval action is possible in this state.
func (s DataApprovalState) Approvable() bool { return stateTable[s].approvable }

// Unapprovable reports whether an unapprove action is possible in this state.
func (s DataApprovalState) Unapprovable() bool { return stateTable[s].unapprovable }

// Accepted reports whether the approval has been accepted by the level above.
func (s DataApprovalState) Accepted() bool { return stateTable[s].accepted }

// Acceptable reports whether an accept action is possible in this state.
func (s DataApprovalState) Acceptable() bool { return stateTable[s].acceptable }

// Unacceptable reports whether an unaccept action is possible in this state.
func (s DataApprovalState) Unacceptable() bool { return stateTable[s].unacceptable }
