package server

import "signoff/internal/domain"

type selectionBody struct {
	WorkflowUID             string `json:"workflow_uid" doc:"Workflow UID"`
	Period                  string `json:"period" doc:"ISO period, e.g. 202401"`
	OrgUnitUID              string `json:"org_unit_uid" doc:"Org unit UID"`
	AttributeOptionComboUID string `json:"attribute_option_combo,omitempty" doc:"Attribute option combo, default when omitted"`
	LevelUID                string `json:"level_uid,omitempty" doc:"Approval level UID, resolved when omitted"`
}

func (b selectionBody) toDomain() domain.Selection {
	return domain.Selection{
		WorkflowUID:             b.WorkflowUID,
		Period:                  b.Period,
		OrgUnitUID:              b.OrgUnitUID,
		AttributeOptionComboUID: b.AttributeOptionComboUID,
		LevelUID:                b.LevelUID,
	}
}

type statusInput struct {
	WorkflowUID string `query:"wf" required:"true" doc:"Workflow UID"`
	Period      string `query:"pe" required:"true" doc:"ISO period"`
	OrgUnitUID  string `query:"ou" required:"true" doc:"Org unit UID"`
	Combo       string `query:"aoc" doc:"Attribute option combo"`
	AsOf        string `query:"ad" doc:"Only count approvals created at or before this RFC3339 instant"`
}

type statusOutput struct {
	Body domain.DataApprovalStatus
}

type approvedOutput struct {
	Body struct {
		Approved bool `json:"approved"`
	}
}

type approveInput struct {
	Body selectionBody
}

type approveOutput struct {
	Body domain.Approval
}

type selectionQueryInput struct {
	WorkflowUID string `query:"wf" required:"true"`
	Period      string `query:"pe" required:"true"`
	OrgUnitUID  string `query:"ou" required:"true"`
	Combo       string `query:"aoc"`
}

func (in selectionQueryInput) toDomain() domain.Selection {
	return domain.Selection{
		WorkflowUID:             in.WorkflowUID,
		Period:                  in.Period,
		OrgUnitUID:              in.OrgUnitUID,
		AttributeOptionComboUID: in.Combo,
	}
}

type batchInput struct {
	Body struct {
		Selections []selectionBody `json:"selections"`
	}
}

type batchOutput struct {
	Body struct {
		Applied int `json:"applied"`
		Skipped int `json:"skipped"`
	}
}

type emptyOutput struct{}

type addLevelInput struct {
	Body struct {
		Name                   string  `json:"name"`
		OrgUnitLevel           int     `json:"org_unit_level"`
		CategoryOptionGroupSet *string `json:"category_option_group_set,omitempty"`
	}
}

type levelOutput struct {
	Body domain.ApprovalLevel
}

type levelsOutput struct {
	Body struct {
		Levels []domain.ApprovalLevel `json:"levels"`
	}
}

type levelUIDInput struct {
	UID string `path:"uid"`
}

type createWorkflowInput struct {
	Body struct {
		Name       string   `json:"name"`
		PeriodType string   `json:"period_type"`
		LevelUIDs  []string `json:"level_uids"`
	}
}

type workflowOutput struct {
	Body domain.Workflow
}

type workflowsOutput struct {
	Body struct {
		Workflows []domain.Workflow `json:"workflows"`
	}
}

type workflowUIDInput struct {
	UID string `path:"uid"`
}

type createOrgUnitInput struct {
	Body struct {
		Name      string  `json:"name"`
		ParentUID *string `json:"parent_uid,omitempty"`
	}
}

type orgUnitOutput struct {
	Body domain.OrgUnit
}

type orgUnitsOutput struct {
	Body struct {
		OrgUnits []domain.OrgUnit `json:"org_units"`
	}
}

type orgUnitUIDInput struct {
	UID string `path:"uid"`
}

type createUserInput struct {
	Body struct {
		Name        string   `json:"name"`
		OrgUnitUID  *string  `json:"org_unit_uid,omitempty"`
		Authorities []string `json:"authorities,omitempty"`
		OrgUnitUIDs []string `json:"org_unit_uids,omitempty"`
	}
}

type userOutput struct {
	Body domain.User
}

type issueKeyInput struct {
	UID  string `path:"uid"`
	Body struct {
		Label string `json:"label,omitempty"`
	}
}

type issueKeyOutput struct {
	Body struct {
		Key string `json:"key" doc:"Plaintext api key, shown once"`
	}
}

type auditsInput struct {
	WorkflowUID string `query:"wf"`
	OrgUnitUID  string `query:"ou"`
	Action      string `query:"action"`
}

type auditsOutput struct {
	Body struct {
		Audits []domain.ApprovalAudit `json:"audits"`
	}
}
