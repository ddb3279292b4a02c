package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"facet/internal/config"
	"facet/internal/db"
	"facet/internal/migrate"
	"facet/internal/platform"
	"facet/internal/provisioner"
)

const testDescriptor = `
id: urn:dmb:dp:healthcare:vaccinations:0
name: vaccinations
domain: healthcare
version: 0.1.0
dataProductOwner: user:alice
devGroup: group:healthcare-dev
components:
  - id: urn:dmb:cmp:healthcare:vaccinations:0:workspace
    name: workspace
    kind: outputport
    specific:
      workspaceName: Vaccinations
      workspaceLayout:
        ldm:
          datasets: []
`

const testComponentID = "urn:dmb:cmp:healthcare:vaccinations:0:workspace"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	stateDir := t.TempDir()
	conn, err := db.Open(db.Config{StateDir: stateDir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := provisioner.New(conn, platform.NewMem(), config.Dev(stateDir))
	handler, err := New(Config{Engine: e, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func provisionBody() map[string]any {
	return map[string]any{
		"descriptor":             testDescriptor,
		"componentIdToProvision": testComponentID,
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/validate", provisionBody())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var out ValidationResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Valid || len(out.Errors) != 0 {
		t.Fatalf("expected valid descriptor: %+v", out)
	}
}

func TestValidateEndpointReportsErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/validate", map[string]any{
		"descriptor":             testDescriptor,
		"componentIdToProvision": "urn:dmb:cmp:unknown",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var out ValidationResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Valid || len(out.Errors) == 0 {
		t.Fatalf("expected invalid verdict with errors: %+v", out)
	}
}

func TestProvisionSync(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/provision", provisionBody())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("provision status %d: %s", res.StatusCode, string(data))
	}
	var out ProvisioningStatus
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s (%s)", out.Status, string(data))
	}
	if out.Detail == nil || string(out.Detail.WorkspaceID) != "healthcare_vaccinations_0" {
		t.Fatalf("detail missing or wrong workspace: %s", string(data))
	}
	if out.Info == nil {
		t.Fatalf("expected public info link: %s", string(data))
	}

	// Unprovision reverses it.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/unprovision", provisionBody())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unprovision status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED unprovision, got %s", out.Status)
	}
}

func TestProvisionAsync(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	body := provisionBody()
	body["async"] = true
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/provision", body)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.StatusCode, string(data))
	}
	var out ProvisioningStatus
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Token == "" || out.Status != "PENDING" {
		t.Fatalf("expected pending token, got %+v", out)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/provision/"+out.Token+"/status", nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status poll %d: %s", res.StatusCode, string(data))
		}
		var st TaskStatusResponse
		if err := json.Unmarshal(data, &st); err != nil {
			t.Fatalf("unmarshal status: %v", err)
		}
		if st.Status == "COMPLETED" {
			break
		}
		if st.Status == "FAILED" {
			t.Fatalf("async provision failed: %s", st.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never completed, last state %s", st.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusUnknownToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/provision/no-such-token/status", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q (%s)", envelope.Error.Code, string(data))
	}
}

func TestProvisionRejectsInvalidDescriptor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/provision", map[string]any{
		"descriptor":             testDescriptor,
		"componentIdToProvision": "urn:dmb:cmp:unknown",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestReverseProvisioning(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/provision", provisionBody()); res.StatusCode != http.StatusOK {
		t.Fatalf("provision: %d %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reverse-provisioning", map[string]any{
		"environment": "development",
		"params":      map[string]any{"workspaceId": "healthcare_vaccinations_0"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reverse status %d: %s", res.StatusCode, string(data))
	}
	var out ReverseProvisioningStatus
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Updates["spec.mesh.specific.workspaceId"] != "healthcare_vaccinations_0" {
		t.Fatalf("updates should pin the workspace id: %v", out.Updates)
	}
	if _, ok := out.Updates["spec.mesh.specific.workspaceLayout"]; !ok {
		t.Fatalf("updates should carry the layout: %v", out.Updates)
	}
}

func TestReverseProvisioningUnknownWorkspace(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reverse-provisioning", map[string]any{
		"environment": "development",
		"params":      map[string]any{"workspaceId": "no_such_workspace"},
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUpdateACL(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/provision", provisionBody()); res.StatusCode != http.StatusOK {
		t.Fatalf("provision: %d %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/updateacl", map[string]any{
		"descriptor":             testDescriptor,
		"componentIdToProvision": testComponentID,
		"refs":                   []string{"user:bob"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("updateacl status %d: %s", res.StatusCode, string(data))
	}
	var out UpdateACLResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s (%s)", out.Status, string(data))
	}
	found := false
	for _, o := range out.Results {
		if o.Identity == "user:bob" && o.Action == "grant" {
			found = true
		}
	}
	if !found {
		t.Fatalf("bob should be granted: %s", string(data))
	}
}

func TestUpdateACLMissingWorkspace(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/updateacl", map[string]any{
		"descriptor":             testDescriptor,
		"componentIdToProvision": testComponentID,
		"refs":                   []string{"user:bob"},
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}
