package provisioner

import (
	"context"
	"errors"
	"testing"

	"facet/internal/config"
	"facet/internal/db"
	"facet/internal/descriptor"
	"facet/internal/migrate"
	"facet/internal/naming"
	"facet/internal/platform"
)

func newTestEngine(t *testing.T) (Engine, *platform.Mem) {
	t.Helper()
	mem := platform.NewMem()
	return newEngineWithClient(t, mem), mem
}

func newEngineWithClient(t *testing.T, client platform.Client) Engine {
	t.Helper()
	stateDir := t.TempDir()
	conn, err := db.Open(db.Config{StateDir: stateDir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn, client, config.Dev(stateDir))
}

func testIntent(t *testing.T) descriptor.Intent {
	t.Helper()
	dp := descriptor.DataProduct{
		ID:               "urn:dmb:dp:healthcare:vaccinations:0",
		Name:             "vaccinations",
		Domain:           "healthcare",
		Version:          "0.1.0",
		DataProductOwner: "user:alice",
		DevGroup:         "group:healthcare-dev",
		Components: []descriptor.Component{
			{
				ID:   "urn:dmb:cmp:healthcare:vaccinations:0:workspace",
				Name: "workspace",
				Kind: descriptor.KindOutputPort,
			},
		},
	}
	req := descriptor.ProvisioningRequest{DataProduct: dp, ComponentID: dp.Components[0].ID}
	intent, err := req.Validate()
	if err != nil {
		t.Fatalf("build intent: %v", err)
	}
	return intent
}

func TestProvisionCreatesWorkspace(t *testing.T) {
	e, mem := newTestEngine(t)
	intent := testIntent(t)
	ctx := context.Background()

	res, err := e.Provision(ctx, intent)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if res.Adopted {
		t.Fatal("first provision should create, not adopt")
	}
	if string(res.WorkspaceID) != "healthcare_vaccinations_0" {
		t.Fatalf("workspace id: got %s", res.WorkspaceID)
	}
	exists, err := mem.Exists(ctx, res.WorkspaceID)
	if err != nil || !exists {
		t.Fatalf("workspace should exist after provision: exists=%v err=%v", exists, err)
	}
	grants, err := mem.ListGrants(ctx, res.WorkspaceID)
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	roles := map[string]string{}
	for _, g := range grants {
		roles[g.Identity] = g.Role
	}
	if roles["user:alice"] != platform.RoleManage || roles["group:healthcare-dev"] != platform.RoleManage {
		t.Fatalf("owner and dev group should hold %s: %v", platform.RoleManage, roles)
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	intent := testIntent(t)
	ctx := context.Background()

	if _, err := e.Provision(ctx, intent); err != nil {
		t.Fatalf("first provision: %v", err)
	}
	res, err := e.Provision(ctx, intent)
	if err != nil {
		t.Fatalf("second provision: %v", err)
	}
	if !res.Adopted {
		t.Fatal("second provision should adopt the existing workspace")
	}
}

func TestProvisionImportsLayoutAndFilters(t *testing.T) {
	e, mem := newTestEngine(t)
	intent := testIntent(t)
	intent.Component.Specific.WorkspaceLayout = descriptor.Layout{
		"ldm": map[string]any{"datasets": []any{map[string]any{"id": "vaccinations"}}},
	}
	intent.Component.Specific.UserDataFilters = []descriptor.UserDataFilter{
		{ID: "udf-1", User: "user:bob", Label: "region", Value: "north", Title: "Region North"},
	}
	ctx := context.Background()

	if _, err := e.Provision(ctx, intent); err != nil {
		t.Fatalf("provision: %v", err)
	}
	layout, err := mem.ExportLayout(ctx, intent.Workspace)
	if err != nil {
		t.Fatalf("export layout: %v", err)
	}
	ldm, ok := layout["ldm"].(map[string]any)
	if !ok {
		t.Fatalf("ldm section missing: %v", layout)
	}
	datasets, ok := ldm["datasets"].([]any)
	if !ok || len(datasets) != 1 {
		t.Fatalf("declared dataset not imported: %v", ldm)
	}
	// Undeclared sections survive the additive merge.
	if _, ok := layout["dashboards"]; !ok {
		t.Fatalf("dashboards section lost on import: %v", layout)
	}
	filters, err := mem.ListFilters(ctx, intent.Workspace)
	if err != nil {
		t.Fatalf("list filters: %v", err)
	}
	if len(filters) != 1 || filters[0].ID != "udf-1" {
		t.Fatalf("filters not converged: %v", filters)
	}
}

func TestProvisionConvergesStaleFilters(t *testing.T) {
	e, mem := newTestEngine(t)
	intent := testIntent(t)
	intent.Component.Specific.UserDataFilters = []descriptor.UserDataFilter{
		{ID: "udf-keep", User: "user:bob", Label: "region", Value: "north", Title: "Region North"},
	}
	ctx := context.Background()

	if _, err := e.Provision(ctx, intent); err != nil {
		t.Fatalf("first provision: %v", err)
	}
	stale := descriptor.UserDataFilter{ID: "udf-stale", User: "user:eve", Label: "region", Value: "south", Title: "Region South"}
	if err := mem.PutFilter(ctx, intent.Workspace, stale); err != nil {
		t.Fatalf("seed stale filter: %v", err)
	}
	if _, err := e.Provision(ctx, intent); err != nil {
		t.Fatalf("re-provision: %v", err)
	}
	filters, err := mem.ListFilters(ctx, intent.Workspace)
	if err != nil {
		t.Fatalf("list filters: %v", err)
	}
	if len(filters) != 1 || filters[0].ID != "udf-keep" {
		t.Fatalf("stale filter should not survive re-provision: %v", filters)
	}
}

// staleExists reports every workspace as absent, modeling a concurrent
// create landing between the existence check and the create call.
type staleExists struct {
	*platform.Mem
}

func (c staleExists) Exists(context.Context, naming.WorkspaceID) (bool, error) {
	return false, nil
}

func TestProvisionAdoptsWhenCreateConflicts(t *testing.T) {
	mem := platform.NewMem()
	intent := testIntent(t)
	ctx := context.Background()
	if err := mem.Create(ctx, intent.Workspace, "Vaccinations"); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	e := newEngineWithClient(t, staleExists{mem})

	res, err := e.Provision(ctx, intent)
	if err != nil {
		t.Fatalf("provision should treat the create conflict as adoption: %v", err)
	}
	if !res.Adopted {
		t.Fatal("workspace should be adopted when create conflicts")
	}
	grants, err := mem.ListGrants(ctx, intent.Workspace)
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("permissions should still be applied after adoption: %v", grants)
	}
}

func TestProvisionPinnedWorkspaceMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	intent := testIntent(t)
	intent.Component.Specific.WorkspaceID = "some_other_workspace"

	_, err := e.Provision(context.Background(), intent)
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepCreate {
		t.Fatalf("expected create step error, got %v", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestProvisionPartialFailureNamesStep(t *testing.T) {
	e, mem := newTestEngine(t)
	mem.FailOps = map[string]error{
		"grant": &platform.RemoteError{Op: "grant", Class: platform.ClassTransient, Msg: "upstream busy"},
	}
	intent := testIntent(t)

	res, err := e.Provision(context.Background(), intent)
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected step error, got %v", err)
	}
	if se.Step != StepPermissions {
		t.Fatalf("failure should be tagged with the permission step, got %s", se.Step)
	}
	last := res.Steps[len(res.Steps)-1]
	if last.Step != StepPermissions || last.Status != "failed" {
		t.Fatalf("result should record the failed step: %+v", res.Steps)
	}
	// The create step completed before the failure.
	if res.Steps[0].Step != StepCreate || res.Steps[0].Status != "completed" {
		t.Fatalf("create step should be recorded as completed: %+v", res.Steps)
	}
}

func TestUnprovisionDeletes(t *testing.T) {
	e, mem := newTestEngine(t)
	intent := testIntent(t)
	ctx := context.Background()

	if _, err := e.Provision(ctx, intent); err != nil {
		t.Fatalf("provision: %v", err)
	}
	res, err := e.Unprovision(ctx, intent)
	if err != nil {
		t.Fatalf("unprovision: %v", err)
	}
	if len(res.Steps) != 1 || res.Steps[0].Status != "completed" {
		t.Fatalf("expected completed delete step: %+v", res.Steps)
	}
	exists, err := mem.Exists(ctx, intent.Workspace)
	if err != nil || exists {
		t.Fatalf("workspace should be gone: exists=%v err=%v", exists, err)
	}
}

func TestUnprovisionAbsentWorkspaceSucceeds(t *testing.T) {
	e, _ := newTestEngine(t)
	intent := testIntent(t)

	res, err := e.Unprovision(context.Background(), intent)
	if err != nil {
		t.Fatalf("unprovision of absent workspace should succeed: %v", err)
	}
	if len(res.Steps) != 1 || res.Steps[0].Status != "skipped" {
		t.Fatalf("expected skipped delete step: %+v", res.Steps)
	}
}
