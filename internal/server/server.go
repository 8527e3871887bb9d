package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"signoff/internal/audit"
	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/repo"
)

// Server exposes the approval engine over HTTP. All routes live under /v0
// and require a bearer token or api key.
type Server struct {
	eng    engine.Engine
	secret string
	log    zerolog.Logger
}

func New(eng engine.Engine, secret string, log zerolog.Logger) *Server {
	return &Server{eng: eng, secret: secret, log: log}
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	cfg := huma.DefaultConfig("signoff", "0.1.0")
	cfg.DocsPath = "/v0/docs"
	cfg.OpenAPIPath = "/v0/openapi"
	api := humachi.New(router, cfg)
	api.UseMiddleware(s.authMiddleware(api))

	s.registerApprovals(api)
	s.registerAcceptances(api)
	s.registerLevels(api)
	s.registerWorkflows(api)
	s.registerOrgUnits(api)
	s.registerUsers(api)
	s.registerAudits(api)
	return router
}

// apiError is the wire error envelope. It satisfies huma.StatusError, so
// returning one from a handler sets the response status.
type apiError struct {
	status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string  { return e.Message }
func (e *apiError) GetStatus() int { return e.status }

func newAPIError(status int, code, message string) *apiError {
	return &apiError{status: status, Code: code, Message: message}
}

// handleError maps engine errors onto the wire envelope.
func (s *Server) handleError(err error) error {
	var nf engine.NotFoundError
	var dup engine.DuplicateLevelError
	var forb engine.ForbiddenError
	var conf engine.ConflictError
	var inv engine.InvariantError
	switch {
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", nf.Error())
	case errors.As(err, &dup):
		return newAPIError(http.StatusConflict, "duplicate_level", dup.Error())
	case errors.As(err, &forb):
		return newAPIError(http.StatusForbidden, "forbidden", forb.Error())
	case errors.As(err, &conf):
		return newAPIError(http.StatusConflict, "conflict", conf.Error())
	case errors.As(err, &inv):
		s.log.Error().Err(err).Msg("invariant violation")
		return newAPIError(http.StatusInternalServerError, "invariant_violation", inv.Error())
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	s.log.Error().Err(err).Msg("internal error")
	return newAPIError(http.StatusInternalServerError, "internal", "internal error")
}

func caller(ctx context.Context) (domain.User, error) {
	u, ok := principalFrom(ctx)
	if !ok {
		return domain.User{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	return u, nil
}

func (s *Server) registerApprovals(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-approval-status",
		Method:      http.MethodGet,
		Path:        "/v0/approvals",
		Summary:     "Resolve the approval status of a selection",
	}, func(ctx context.Context, in *statusInput) (*statusOutput, error) {
		user, err := caller(ctx)
		if err != nil {
			return nil, err
		}
		st, err := s.eng.Status(ctx, user, domain.Selection{
			WorkflowUID:             in.WorkflowUID,
			Period:                  in.Period,
			OrgUnitUID:              in.OrgUnitUID,
			AttributeOptionComboUID: in.Combo,
			AsOf:                    in.AsOf,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &statusOutput{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "is-approved",
		Method:      http.MethodGet,
		Path:        "/v0/approvals/approved",
		Summary:     "Check whether a selection is approved",
	}, func(ctx context.Context, in *selectionQueryInput) (*approvedOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		ok, err := s.eng.IsApproved(ctx, in.toDomain())
		if err != nil {
			return nil, s.handleError(err)
		}
		out := &approvedOutput{}
		out.Body.Approved = ok
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "approve",
		Method:        http.MethodPost,
		Path:          "/v0/approvals",
		Summary:       "Approve a selection",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *approveInput) (*approveOutput, error) {
		user, err := caller(ctx)
		if err != nil {
			return nil, err
		}
		fact, err := s.eng.Approve(ctx, user, in.Body.toDomain())
		if err != nil {
			return nil, s.handleError(err)
		}
		return &approveOutput{Body: fact}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unapprove",
		Method:      http.MethodDelete,
		Path:        "/v0/approvals",
		Summary:     "Unapprove a selection",
	}, func(ctx context.Context, in *selectionQueryInput) (*emptyOutput, error) {
		user, err := caller(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.eng.Unapprove(ctx, user, in.toDomain()); err != nil {
			return nil, s.handleError(err)
		}
		return &emptyOutput{}, nil
	})

	s.registerBatch(api, "approve-batch", "/v0/approvals/batch", s.eng.ApproveAll)
	s.registerBatch(api, "unapprove-batch", "/v0/approvals/unapprovals", s.eng.UnapproveAll)
}

func (s *Server) registerAcceptances(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "accept",
		Method:        http.MethodPost,
		Path:          "/v0/acceptances",
		Summary:       "Accept an approval from the level above",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *approveInput) (*emptyOutput, error) {
		user, err := caller(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.eng.Accept(ctx, user, in.Body.toDomain()); err != nil {
			return nil, s.handleError(err)
		}
		return &emptyOutput{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unaccept",
		Method:      http.MethodDelete,
		Path:        "/v0/acceptances",
		Summary:     "Withdraw an acceptance",
	}, func(ctx context.Context, in *selectionQueryInput) (*emptyOutput, error) {
		user, err := caller(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.eng.Unaccept(ctx, user, in.toDomain()); err != nil {
			return nil, s.handleError(err)
		}
		return &emptyOutput{}, nil
	})

	s.registerBatch(api, "accept-batch", "/v0/acceptances/batch", s.eng.AcceptAll)
	s.registerBatch(api, "unaccept-batch", "/v0/acceptances/unacceptances", s.eng.UnacceptAll)
}

func (s *Server) registerBatch(api huma.API, id, path string, fn func(context.Context, domain.User, []domain.Selection) (int, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        path,
		Summary:     fmt.Sprintf("Batch %s", id),
	}, func(ctx context.Context, in *batchInput) (*batchOutput, error) {
		user, err := caller(ctx)
		if err != nil {
			return nil, err
		}
		sels := make([]domain.Selection, 0, len(in.Body.Selections))
		for _, b := range in.Body.Selections {
			sels = append(sels, b.toDomain())
		}
		applied, err := fn(ctx, user, sels)
		if err != nil {
			return nil, s.handleError(err)
		}
		out := &batchOutput{}
		out.Body.Applied = applied
		out.Body.Skipped = len(sels) - applied
		return out, nil
	})
}

func (s *Server) registerLevels(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-levels",
		Method:      http.MethodGet,
		Path:        "/v0/levels",
		Summary:     "List approval levels, highest rung first",
	}, func(ctx context.Context, _ *struct{}) (*levelsOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		levels, err := s.eng.Levels(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		out := &levelsOutput{}
		out.Body.Levels = levels
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-level",
		Method:        http.MethodPost,
		Path:          "/v0/levels",
		Summary:       "Add an approval level",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *addLevelInput) (*levelOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		lv, err := s.eng.AddLevel(ctx, in.Body.Name, in.Body.OrgUnitLevel, in.Body.CategoryOptionGroupSet)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &levelOutput{Body: lv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-level",
		Method:      http.MethodDelete,
		Path:        "/v0/levels/{uid}",
		Summary:     "Delete an approval level",
	}, func(ctx context.Context, in *levelUIDInput) (*emptyOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		if err := s.eng.DeleteLevel(ctx, in.UID); err != nil {
			return nil, s.handleError(err)
		}
		return &emptyOutput{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-level-up",
		Method:      http.MethodPost,
		Path:        "/v0/levels/{uid}/move-up",
		Summary:     "Swap a level with the one above it",
	}, func(ctx context.Context, in *levelUIDInput) (*emptyOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		if err := s.eng.MoveLevelUp(ctx, in.UID); err != nil {
			return nil, s.handleError(err)
		}
		return &emptyOutput{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-level-down",
		Method:      http.MethodPost,
		Path:        "/v0/levels/{uid}/move-down",
		Summary:     "Swap a level with the one below it",
	}, func(ctx context.Context, in *levelUIDInput) (*emptyOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		if err := s.eng.MoveLevelDown(ctx, in.UID); err != nil {
			return nil, s.handleError(err)
		}
		return &emptyOutput{}, nil
	})
}

func (s *Server) registerWorkflows(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/v0/workflows",
		Summary:       "Create an approval workflow",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *createWorkflowInput) (*workflowOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		wf, err := s.eng.CreateWorkflow(ctx, in.Body.Name, in.Body.PeriodType, in.Body.LevelUIDs)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &workflowOutput{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/v0/workflows/{uid}",
		Summary:     "Fetch a workflow with its ladder",
	}, func(ctx context.Context, in *workflowUIDInput) (*workflowOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		wf, err := s.eng.Workflow(ctx, in.UID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &workflowOutput{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/v0/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, _ *struct{}) (*workflowsOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		wfs, err := s.eng.Repo.ListWorkflows(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		out := &workflowsOutput{}
		out.Body.Workflows = wfs
		return out, nil
	})
}

func (s *Server) registerOrgUnits(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org-unit",
		Method:        http.MethodPost,
		Path:          "/v0/orgunits",
		Summary:       "Add an org unit to the hierarchy",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *createOrgUnitInput) (*orgUnitOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		ou, err := s.eng.CreateOrgUnit(ctx, in.Body.Name, in.Body.ParentUID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &orgUnitOutput{Body: ou}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-org-units",
		Method:      http.MethodGet,
		Path:        "/v0/orgunits",
		Summary:     "List the org unit hierarchy",
	}, func(ctx context.Context, _ *struct{}) (*orgUnitsOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		ous, err := s.eng.Repo.ListOrgUnits(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		out := &orgUnitsOutput{}
		out.Body.OrgUnits = ous
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-org-unit",
		Method:      http.MethodDelete,
		Path:        "/v0/orgunits/{uid}",
		Summary:     "Remove an org unit subtree and its approvals",
	}, func(ctx context.Context, in *orgUnitUIDInput) (*emptyOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		if err := s.eng.DeleteOrgUnit(ctx, in.UID); err != nil {
			return nil, s.handleError(err)
		}
		return &emptyOutput{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-org-unit-approvals",
		Method:      http.MethodDelete,
		Path:        "/v0/orgunits/{uid}/approvals",
		Summary:     "Remove the approvals of an org unit subtree",
	}, func(ctx context.Context, in *orgUnitUIDInput) (*emptyOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		if _, err := s.eng.DeleteApprovalsForOrgUnit(ctx, in.UID); err != nil {
			return nil, s.handleError(err)
		}
		return &emptyOutput{}, nil
	})
}

func (s *Server) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/v0/users",
		Summary:       "Register a user with authorities and org units",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *createUserInput) (*userOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		u, err := s.eng.CreateUser(ctx, in.Body.Name, in.Body.OrgUnitUID, in.Body.Authorities, in.Body.OrgUnitUIDs)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &userOutput{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "issue-api-key",
		Method:        http.MethodPost,
		Path:          "/v0/users/{uid}/api-keys",
		Summary:       "Issue an api key for a user",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *issueKeyInput) (*issueKeyOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		key, err := s.eng.IssueAPIKey(ctx, in.UID, in.Body.Label)
		if err != nil {
			return nil, s.handleError(err)
		}
		out := &issueKeyOutput{}
		out.Body.Key = key
		return out, nil
	})
}

func (s *Server) registerAudits(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audits",
		Method:      http.MethodGet,
		Path:        "/v0/audits",
		Summary:     "List the approval audit trail, newest first",
	}, func(ctx context.Context, in *auditsInput) (*auditsOutput, error) {
		if _, err := caller(ctx); err != nil {
			return nil, err
		}
		rows, err := s.eng.Audits(ctx, audit.Filter{
			WorkflowUID: in.WorkflowUID,
			OrgUnitUID:  in.OrgUnitUID,
			Action:      domain.AuditAction(in.Action),
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		out := &auditsOutput{}
		out.Body.Audits = rows
		return out, nil
	})
}
