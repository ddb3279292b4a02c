package facetsdk

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
)

// Client is a minimal Facet HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// ProvisioningRequest carries a descriptor (YAML document) and the id
// of the component to act on.
type ProvisioningRequest struct {
	Descriptor  string `json:"descriptor"`
	ComponentID string `json:"componentIdToProvision"`
	Async       bool   `json:"async,omitempty"`
	RemoveData  bool   `json:"removeData,omitempty"`
}

// ValidationResult reports whether a descriptor is provisionable.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// StepOutcome is the per-step record of a reconciliation run.
type StepOutcome struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ProvisioningDetail describes what a provision or unprovision run did.
type ProvisioningDetail struct {
	WorkspaceID  string        `json:"workspaceId"`
	WorkspaceURL string        `json:"workspaceUrl,omitempty"`
	Adopted      bool          `json:"adopted,omitempty"`
	Steps        []StepOutcome `json:"steps"`
}

// ProvisioningStatus is the response of provision and unprovision. In
// async mode only Status and Token are set.
type ProvisioningStatus struct {
	Status string              `json:"status"`
	Result string              `json:"result,omitempty"`
	Token  string              `json:"token,omitempty"`
	Detail *ProvisioningDetail `json:"detail,omitempty"`
	Info   map[string]any      `json:"info,omitempty"`
}

// TaskStatus answers a status poll for an async token.
type TaskStatus struct {
	Token  string          `json:"token"`
	Op     string          `json:"op"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ReverseProvisioningStatus returns descriptor fragment updates keyed
// by descriptor path.
type ReverseProvisioningStatus struct {
	Status  string         `json:"status"`
	Result  string         `json:"result,omitempty"`
	Updates map[string]any `json:"updates,omitempty"`
}

// ACLOutcome is a single entry of an ACL synchronization result.
type ACLOutcome struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
	Action   string `json:"action"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// UpdateACLResult lists every grantee's outcome.
type UpdateACLResult struct {
	Status  string       `json:"status"`
	Results []ACLOutcome `json:"results"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Validate checks a descriptor without touching the remote platform.
func (c *Client) Validate(ctx context.Context, req ProvisioningRequest) (ValidationResult, error) {
	var resp ValidationResult
	err := c.do(ctx, http.MethodPost, "v1/validate", req, &resp)
	return resp, err
}

// Provision converges the workspace toward the descriptor. With
// req.Async set, the returned status carries a token to poll.
func (c *Client) Provision(ctx context.Context, req ProvisioningRequest) (ProvisioningStatus, error) {
	var resp ProvisioningStatus
	err := c.do(ctx, http.MethodPost, "v1/provision", req, &resp)
	return resp, err
}

// Unprovision deletes the workspace the descriptor resolves to.
func (c *Client) Unprovision(ctx context.Context, req ProvisioningRequest) (ProvisioningStatus, error) {
	var resp ProvisioningStatus
	err := c.do(ctx, http.MethodPost, "v1/unprovision", req, &resp)
	return resp, err
}

// Status polls an async task token.
func (c *Client) Status(ctx context.Context, token string) (TaskStatus, error) {
	var resp TaskStatus
	endpoint := fmt.Sprintf("v1/provision/%s/status", url.PathEscape(token))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReverseProvision exports live workspace state into descriptor form.
// Params must carry an "environment" matching the service and a
// "workspaceId" naming the workspace to export.
func (c *Client) ReverseProvision(ctx context.Context, environment string, params map[string]any) (ReverseProvisioningStatus, error) {
	body := map[string]any{
		"environment": environment,
		"params":      params,
	}
	var resp ReverseProvisioningStatus
	err := c.do(ctx, http.MethodPost, "v1/reverse-provisioning", body, &resp)
	return resp, err
}

// UpdateACL converges workspace access toward the given grantee refs.
func (c *Client) UpdateACL(ctx context.Context, descriptor, componentID string, refs []string) (UpdateACLResult, error) {
	body := map[string]any{
		"descriptor":             descriptor,
		"componentIdToProvision": componentID,
		"refs":                   refs,
	}
	var resp UpdateACLResult
	err := c.do(ctx, http.MethodPost, "v1/updateacl", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
