// Package signoff is a minimal typed client for the signoff HTTP API.
package signoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client talks to a running `sf serve`. Set either Token (bearer JWT) or
// APIKey.
type Client struct {
	BaseURL    string
	Token      string
	APIKey     string
	HTTPClient *http.Client
}

// Selection identifies the data to resolve or act on. AsOf only affects
// status queries: approvals created after that instant are ignored.
type Selection struct {
	WorkflowUID             string `json:"workflow_uid"`
	Period                  string `json:"period"`
	OrgUnitUID              string `json:"org_unit_uid"`
	AttributeOptionComboUID string `json:"attribute_option_combo,omitempty"`
	AsOf                    string `json:"as_of,omitempty"`
}

// Permissions are the caller's action flags on a status.
type Permissions struct {
	MayApprove   bool `json:"may_approve"`
	MayUnapprove bool `json:"may_unapprove"`
	MayAccept    bool `json:"may_accept"`
	MayUnaccept  bool `json:"may_unaccept"`
	MayReadData  bool `json:"may_read_data"`
}

// Level is one rung of the approval ladder.
type Level struct {
	UID          string `json:"uid"`
	Name         string `json:"name"`
	Level        int    `json:"level"`
	OrgUnitLevel int    `json:"org_unit_level"`
}

// Status is the resolved approval state of a selection.
type Status struct {
	State              string      `json:"state"`
	ApprovedLevel      *Level      `json:"approved_level,omitempty"`
	ApprovedOrgUnitUID string      `json:"approved_org_unit_uid,omitempty"`
	ActionLevel        *Level      `json:"action_level,omitempty"`
	OrgUnitUID         string      `json:"org_unit_uid"`
	OrgUnitName        string      `json:"org_unit_name"`
	Accepted           bool        `json:"accepted"`
	Permissions        Permissions `json:"permissions"`
}

// APIError is the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func selectionQuery(sel Selection) url.Values {
	q := url.Values{}
	q.Set("wf", sel.WorkflowUID)
	q.Set("pe", sel.Period)
	q.Set("ou", sel.OrgUnitUID)
	if sel.AttributeOptionComboUID != "" {
		q.Set("aoc", sel.AttributeOptionComboUID)
	}
	if sel.AsOf != "" {
		q.Set("ad", sel.AsOf)
	}
	return q
}

// Status resolves the approval state of a selection for the calling user.
func (c *Client) Status(ctx context.Context, sel Selection) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/v0/approvals", selectionQuery(sel), nil, &st)
	return st, err
}

// IsApproved reports whether the selection is covered by an approval.
func (c *Client) IsApproved(ctx context.Context, sel Selection) (bool, error) {
	var out struct {
		Approved bool `json:"approved"`
	}
	err := c.do(ctx, http.MethodGet, "/v0/approvals/approved", selectionQuery(sel), nil, &out)
	return out.Approved, err
}

// Approve records an approval for the selection.
func (c *Client) Approve(ctx context.Context, sel Selection) error {
	return c.do(ctx, http.MethodPost, "/v0/approvals", nil, sel, nil)
}

// Unapprove removes the approval covering the selection.
func (c *Client) Unapprove(ctx context.Context, sel Selection) error {
	return c.do(ctx, http.MethodDelete, "/v0/approvals", selectionQuery(sel), nil, nil)
}

// Accept marks the selection's approval as accepted.
func (c *Client) Accept(ctx context.Context, sel Selection) error {
	return c.do(ctx, http.MethodPost, "/v0/acceptances", nil, sel, nil)
}

// Unaccept withdraws an acceptance.
func (c *Client) Unaccept(ctx context.Context, sel Selection) error {
	return c.do(ctx, http.MethodDelete, "/v0/acceptances", selectionQuery(sel), nil, nil)
}
