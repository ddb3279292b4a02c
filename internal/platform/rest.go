package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"facet/internal/descriptor"
	"facet/internal/naming"
)

// REST talks to the platform's declarative workspace API over HTTP.
type REST struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewREST builds a REST client with a per-call timeout.
func NewREST(baseURL, token string, timeout time.Duration) *REST {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &REST{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (r *REST) Host() string { return r.BaseURL }

func (r *REST) Exists(ctx context.Context, id naming.WorkspaceID) (bool, error) {
	err := r.do(ctx, "exists", http.MethodGet, r.workspacePath(id, ""), nil, nil)
	if err != nil {
		if IsClass(err, ClassNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *REST) Create(ctx context.Context, id naming.WorkspaceID, name string) error {
	body := map[string]string{"id": string(id), "name": name}
	return r.do(ctx, "create", http.MethodPost, "/api/v1/workspaces", body, nil)
}

func (r *REST) Delete(ctx context.Context, id naming.WorkspaceID) error {
	return r.do(ctx, "delete", http.MethodDelete, r.workspacePath(id, ""), nil, nil)
}

func (r *REST) ImportLayout(ctx context.Context, id naming.WorkspaceID, layout descriptor.Layout) error {
	return r.do(ctx, "import-layout", http.MethodPut, r.workspacePath(id, "layout"), layout, nil)
}

func (r *REST) ExportLayout(ctx context.Context, id naming.WorkspaceID) (descriptor.Layout, error) {
	var layout descriptor.Layout
	if err := r.do(ctx, "export-layout", http.MethodGet, r.workspacePath(id, "layout"), nil, &layout); err != nil {
		return nil, err
	}
	return layout, nil
}

func (r *REST) ListGrants(ctx context.Context, id naming.WorkspaceID) ([]Grant, error) {
	var out struct {
		Grants []Grant `json:"grants"`
	}
	if err := r.do(ctx, "list-grants", http.MethodGet, r.workspacePath(id, "permissions"), nil, &out); err != nil {
		return nil, err
	}
	return out.Grants, nil
}

func (r *REST) Grant(ctx context.Context, id naming.WorkspaceID, g Grant) error {
	return r.do(ctx, "grant", http.MethodPost, r.workspacePath(id, "permissions"), g, nil)
}

func (r *REST) Revoke(ctx context.Context, id naming.WorkspaceID, g Grant) error {
	path := r.workspacePath(id, "permissions/"+url.PathEscape(g.Identity)) + "?role=" + url.QueryEscape(g.Role)
	return r.do(ctx, "revoke", http.MethodDelete, path, nil, nil)
}

func (r *REST) ListFilters(ctx context.Context, id naming.WorkspaceID) ([]descriptor.UserDataFilter, error) {
	var out struct {
		Filters []descriptor.UserDataFilter `json:"filters"`
	}
	if err := r.do(ctx, "list-filters", http.MethodGet, r.workspacePath(id, "filters"), nil, &out); err != nil {
		return nil, err
	}
	return out.Filters, nil
}

func (r *REST) PutFilter(ctx context.Context, id naming.WorkspaceID, f descriptor.UserDataFilter) error {
	return r.do(ctx, "put-filter", http.MethodPut, r.workspacePath(id, "filters/"+url.PathEscape(f.ID)), f, nil)
}

func (r *REST) DeleteFilter(ctx context.Context, id naming.WorkspaceID, filterID string) error {
	return r.do(ctx, "delete-filter", http.MethodDelete, r.workspacePath(id, "filters/"+url.PathEscape(filterID)), nil, nil)
}

func (r *REST) workspacePath(id naming.WorkspaceID, sub string) string {
	p := "/api/v1/workspaces/" + url.PathEscape(string(id))
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (r *REST) do(ctx context.Context, op, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.Token)
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable by the caller.
		return &RemoteError{Op: op, Class: ClassTransient, Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RemoteError{Op: op, Class: classify(resp.StatusCode), Status: resp.StatusCode, Msg: strings.TrimSpace(string(b))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &RemoteError{Op: op, Class: ClassTransient, Status: resp.StatusCode, Msg: "decode response: " + err.Error()}
		}
	}
	return nil
}

func classify(status int) ErrorClass {
	switch {
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusConflict:
		return ClassConflict
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	default:
		return ClassTransient
	}
}
