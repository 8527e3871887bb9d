package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/migrate"
)

const testSecret = "server-test-secret"

type serverEnv struct {
	t       *testing.T
	eng     engine.Engine
	baseURL string
	wf      domain.Workflow
	root    domain.OrgUnit
	admin   domain.User
	viewer  domain.User
}

func newServerEnv(t *testing.T) *serverEnv {
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
	eng := engine.New(d, config.Settings{AcceptanceRequiredForApproval: true}, zerolog.Nop())
	eng.Now = func() time.Time {
		return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	}

	lv, err := eng.AddLevel(ctx, "national", 1, nil)
	if err != nil {
		t.Fatalf("add level: %v", err)
	}
	root, err := eng.CreateOrgUnit(ctx, "national", nil)
	if err != nil {
		t.Fatalf("create org unit: %v", err)
	}
	wf, err := eng.CreateWorkflow(ctx, "monthly reporting", domain.PeriodMonthly, []string{lv.UID})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	admin, err := eng.CreateUser(ctx, "admin", &root.UID, []string{
		domain.AuthApproveData, domain.AuthApproveLowerLevels,
		domain.AuthAcceptLowerLevels, domain.AuthViewUnapprovedData,
	}, nil)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	viewer, err := eng.CreateUser(ctx, "viewer", &root.UID, nil, nil)
	if err != nil {
		t.Fatalf("create viewer: %v", err)
	}

	ts := httptest.NewServer(New(eng, testSecret, zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)
	return &serverEnv{t: t, eng: eng, baseURL: ts.URL, wf: wf, root: root, admin: admin, viewer: viewer}
}

func (se *serverEnv) token(user domain.User) string {
	se.t.Helper()
	tok, err := MintToken(testSecret, user.UID, time.Hour)
	if err != nil {
		se.t.Fatalf("mint token: %v", err)
	}
	return tok
}

// doJSON fires a request and decodes the response body into out when the
// pointer is non-nil. Returns the status code.
func (se *serverEnv) doJSON(method, path, token string, body, out any) int {
	se.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			se.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, se.baseURL+path, rd)
	if err != nil {
		se.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		se.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			se.t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func (se *serverEnv) statusPath() string {
	return "/v0/approvals?wf=" + se.wf.UID + "&pe=202401&ou=" + se.root.UID
}

func TestRequiresAuthentication(t *testing.T) {
	se := newServerEnv(t)
	if code := se.doJSON(http.MethodGet, se.statusPath(), "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", code)
	}
	if code := se.doJSON(http.MethodGet, se.statusPath(), "not-a-token", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d, want 401", code)
	}
}

func TestStatusAndApprove(t *testing.T) {
	se := newServerEnv(t)
	tok := se.token(se.admin)

	var st domain.DataApprovalStatus
	if code := se.doJSON(http.MethodGet, se.statusPath(), tok, nil, &st); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if st.State != domain.StateUnapprovedReady {
		t.Fatalf("state = %s, want %s", st.State, domain.StateUnapprovedReady)
	}
	if !st.Permissions.MayApprove {
		t.Fatal("admin should be able to approve")
	}

	body := map[string]string{
		"workflow_uid": se.wf.UID,
		"period":       "202401",
		"org_unit_uid": se.root.UID,
	}
	var fact domain.Approval
	if code := se.doJSON(http.MethodPost, "/v0/approvals", tok, body, &fact); code != http.StatusCreated {
		t.Fatalf("approve = %d, want 201", code)
	}
	if fact.OrgUnitUID != se.root.UID {
		t.Fatalf("fact org unit = %s", fact.OrgUnitUID)
	}

	if code := se.doJSON(http.MethodGet, se.statusPath(), tok, nil, &st); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if st.State != domain.StateApprovedHere {
		t.Fatalf("state after approve = %s, want %s", st.State, domain.StateApprovedHere)
	}

	// approving again conflicts
	var envelope struct {
		Code string `json:"code"`
	}
	if code := se.doJSON(http.MethodPost, "/v0/approvals", tok, body, &envelope); code != http.StatusConflict {
		t.Fatalf("double approve = %d, want 409", code)
	}
	if envelope.Code != "conflict" {
		t.Fatalf("error code = %q, want conflict", envelope.Code)
	}

	// and can be undone over DELETE
	if code := se.doJSON(http.MethodDelete, se.statusPath(), tok, nil, nil); code != http.StatusNoContent {
		t.Fatalf("unapprove = %d, want 204", code)
	}
}

func TestApproveWithoutGrantForbidden(t *testing.T) {
	se := newServerEnv(t)
	body := map[string]string{
		"workflow_uid": se.wf.UID,
		"period":       "202401",
		"org_unit_uid": se.root.UID,
	}
	var envelope struct {
		Code string `json:"code"`
	}
	if code := se.doJSON(http.MethodPost, "/v0/approvals", se.token(se.viewer), body, &envelope); code != http.StatusForbidden {
		t.Fatalf("approve as viewer = %d, want 403", code)
	}
	if envelope.Code != "forbidden" {
		t.Fatalf("error code = %q, want forbidden", envelope.Code)
	}
}

func TestUnknownWorkflowNotFound(t *testing.T) {
	se := newServerEnv(t)
	path := "/v0/approvals?wf=missing&pe=202401&ou=" + se.root.UID
	if code := se.doJSON(http.MethodGet, path, se.token(se.admin), nil, nil); code != http.StatusNotFound {
		t.Fatalf("status for unknown workflow = %d, want 404", code)
	}
}

func TestDuplicateLevelOverAPI(t *testing.T) {
	se := newServerEnv(t)
	tok := se.token(se.admin)
	body := map[string]any{"name": "national again", "org_unit_level": 1}
	var envelope struct {
		Code string `json:"code"`
	}
	if code := se.doJSON(http.MethodPost, "/v0/levels", tok, body, &envelope); code != http.StatusConflict {
		t.Fatalf("duplicate level = %d, want 409", code)
	}
	if envelope.Code != "duplicate_level" {
		t.Fatalf("error code = %q, want duplicate_level", envelope.Code)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	se := newServerEnv(t)
	key, err := se.eng.IssueAPIKey(context.Background(), se.admin.UID, "test")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	req, err := http.NewRequest(http.MethodGet, se.baseURL+se.statusPath(), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Api-Key", key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with api key = %d, want 200", resp.StatusCode)
	}
}

func TestBatchApproveOverAPI(t *testing.T) {
	se := newServerEnv(t)
	tok := se.token(se.admin)
	body := map[string]any{
		"selections": []map[string]string{{
			"workflow_uid": se.wf.UID,
			"period":       "202401",
			"org_unit_uid": se.root.UID,
		}},
	}
	var out struct {
		Applied int `json:"applied"`
		Skipped int `json:"skipped"`
	}
	if code := se.doJSON(http.MethodPost, "/v0/approvals/batch", tok, body, &out); code != http.StatusOK {
		t.Fatalf("batch = %d, want 200", code)
	}
	if out.Applied != 1 || out.Skipped != 0 {
		t.Fatalf("batch result = %+v", out)
	}

	// the same batch again is all skips
	if code := se.doJSON(http.MethodPost, "/v0/approvals/batch", tok, body, &out); code != http.StatusOK {
		t.Fatalf("batch = %d, want 200", code)
	}
	if out.Applied != 0 || out.Skipped != 1 {
		t.Fatalf("second batch result = %+v", out)
	}
}
