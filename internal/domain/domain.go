package domain

// Authority names consumed by the permission resolver. The engine knows no
// other role or authority strings.
const (
	AuthApproveData        = "F_APPROVE_DATA"
	AuthApproveLowerLevels = "F_APPROVE_DATA_LOWER_LEVELS"
	AuthAcceptLowerLevels  = "F_ACCEPT_DATA_LOWER_LEVELS"
	AuthViewUnapprovedData = "F_VIEW_UNAPPROVED_DATA"
)

// DefaultOptionCombo is the attribute option combo used when a selection
// carries no explicit category dimension.
const DefaultOptionCombo = "default"

// OrgUnit is one node of the organisational hierarchy. Path is the uid chain
// from the root down to this unit, slash-separated with a leading slash, and
// Level is the depth in the tree (1 = root).
type OrgUnit struct {
	UID       string  `json:"uid"`
	Name      string  `json:"name"`
	ParentUID *string `json:"parent_uid,omitempty"`
	Path      string  `json:"path"`
	Level     int     `json:"level"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// ApprovalLevel is a rung of the sign-off hierarchy. Level numbers are dense
// and 1-based within the registry; 1 is the highest rung. OrgUnitLevel binds
// the rung to a depth of the org unit tree.
type ApprovalLevel struct {
	UID                       string  `json:"uid"`
	Name                      string  `json:"name"`
	Level                     int     `json:"level"`
	OrgUnitLevel              int     `json:"org_unit_level"`
	CategoryOptionGroupSetUID *string `json:"category_option_group_set,omitempty"`
	CreatedAt                 string  `json:"created_at" format:"date-time"`
}

// Workflow groups an ordered subset of approval levels with a period type.
// Data sets and programs attach to a workflow to get their data approved.
type Workflow struct {
	UID              string          `json:"uid"`
	Name             string          `json:"name"`
	PeriodType       string          `json:"period_type"`
	CategoryComboUID string          `json:"category_combo"`
	Levels           []ApprovalLevel `json:"levels,omitempty"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
}

// SortedLevels returns the workflow levels ordered by ascending level number
// (highest rung first).
func (w Workflow) SortedLevels() []ApprovalLevel {
	out := make([]ApprovalLevel, len(w.Levels))
	copy(out, w.Levels)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Level > out[j].Level; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Approval is a persisted approval fact: data is locked by sign-off at this
// level for this workflow, period, org unit and category dimension. At most
// one fact exists per natural key (level, workflow, period, org unit, combo).
type Approval struct {
	ID                      int64  `json:"id"`
	LevelUID                string `json:"level_uid"`
	WorkflowUID             string `json:"workflow_uid"`
	Period                  string `json:"period"`
	OrgUnitUID              string `json:"org_unit_uid"`
	AttributeOptionComboUID string `json:"attribute_option_combo"`
	Accepted                bool   `json:"accepted"`
	CreatedAt               string `json:"created_at" format:"date-time"`
	CreatedBy               string `json:"created_by"`
}

// AuditAction is the kind of state transition recorded in the audit trail.
type AuditAction string

const (
	ActionApprove   AuditAction = "APPROVE"
	ActionUnapprove AuditAction = "UNAPPROVE"
	ActionAccept    AuditAction = "ACCEPT"
	ActionUnaccept  AuditAction = "UNACCEPT"
)

// ApprovalAudit is one append-only row per approval state transition.
type ApprovalAudit struct {
	ID                      int64       `json:"id"`
	LevelUID                string      `json:"level_uid"`
	WorkflowUID             string      `json:"workflow_uid"`
	Period                  string      `json:"period"`
	OrgUnitUID              string      `json:"org_unit_uid"`
	AttributeOptionComboUID string      `json:"attribute_option_combo"`
	Action                  AuditAction `json:"action"`
	CreatedAt               string      `json:"created_at" format:"date-time"`
	CreatedBy               string      `json:"created_by"`
}

// Selection identifies the data a caller wants resolved or mutated.
// LevelUID is optional; when empty the engine acts at the level resolved
// from the org unit's position. AsOf restricts status resolution to
// approval facts created at or before that RFC3339 instant; empty means
// now.
type Selection struct {
	WorkflowUID             string `json:"workflow_uid"`
	Period                  string `json:"period"`
	OrgUnitUID              string `json:"org_unit_uid"`
	AttributeOptionComboUID string `json:"attribute_option_combo,omitempty"`
	LevelUID                string `json:"level_uid,omitempty"`
	AsOf                    string `json:"as_of,omitempty"`
}

// User is the minimal identity the engine consumes: a uid, a position in the
// org unit hierarchy, and (via the authorization collaborator) a grant set.
type User struct {
	UID        string  `json:"uid"`
	Name       string  `json:"name"`
	OrgUnitUID *string `json:"org_unit_uid,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// DataApprovalPermissions are the five action flags for one user against one
// resolved status. Never shared across users.
type DataApprovalPermissions struct {
	MayApprove   bool `json:"may_approve"`
	MayUnapprove bool `json:"may_unapprove"`
	MayAccept    bool `json:"may_accept"`
	MayUnaccept  bool `json:"may_unaccept"`
	MayReadData  bool `json:"may_read_data"`
}

// DataApprovalStatus is the derived answer to "is this data locked, and at
// what rung". Constructed fresh per query, never persisted.
type DataApprovalStatus struct {
	State                   DataApprovalState       `json:"state"`
	ApprovedLevel           *ApprovalLevel          `json:"approved_level,omitempty"`
	ApprovedOrgUnitUID      string                  `json:"approved_org_unit_uid,omitempty"`
	ActionLevel             *ApprovalLevel          `json:"action_level,omitempty"`
	OrgUnitUID              string                  `json:"org_unit_uid"`
	OrgUnitName             string                  `json:"org_unit_name"`
	AttributeOptionComboUID string                  `json:"attribute_option_combo"`
	Accepted                bool                    `json:"accepted"`
	Permissions             DataApprovalPermissions `json:"permissions"`
	CreatedAt               string                  `json:"created_at,omitempty" format:"date-time"`
	CreatedBy               string                  `json:"created_by,omitempty"`
}
