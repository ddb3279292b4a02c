package provisioner

import (
	"context"
	"fmt"

	"facet/internal/descriptor"
	"facet/internal/events"
	"facet/internal/naming"
	"facet/internal/platform"
)

// Step names the sub-operations of a reconciliation. Failures are
// tagged with the step they occurred in.
type Step string

const (
	StepCreate      Step = "create"
	StepPermissions Step = "permission"
	StepImport      Step = "import"
	StepFilters     Step = "filters"
	StepDelete      Step = "delete"
)

// StepOutcome records what happened to one step.
type StepOutcome struct {
	Step   Step   `json:"step"`
	Status string `json:"status"` // completed, failed, skipped
	Detail string `json:"detail,omitempty"`
}

// Result is the aggregate outcome of a provision or unprovision run.
type Result struct {
	WorkspaceID  naming.WorkspaceID `json:"workspaceId"`
	WorkspaceURL string             `json:"workspaceUrl,omitempty"`
	Adopted      bool               `json:"adopted,omitempty"`
	Steps        []StepOutcome      `json:"steps"`
}

func (r *Result) completed(step Step, detail string) {
	r.Steps = append(r.Steps, StepOutcome{Step: step, Status: "completed", Detail: detail})
}

func (r *Result) skipped(step Step, detail string) {
	r.Steps = append(r.Steps, StepOutcome{Step: step, Status: "skipped", Detail: detail})
}

func (r *Result) failed(step Step, err error) (Result, error) {
	r.Steps = append(r.Steps, StepOutcome{Step: step, Status: "failed", Detail: err.Error()})
	return *r, &StepError{Step: step, Err: err}
}

// Provision converges the remote workspace toward the intent: ensure it
// exists (create or adopt), apply owner/dev-group permissions, import
// the declared layout, and converge user data filters. Idempotent with
// respect to workspace existence; permissions are reapplied on every
// run so drift self-heals.
func (e Engine) Provision(ctx context.Context, intent descriptor.Intent) (Result, error) {
	id := intent.Workspace
	spec := intent.Component.Specific
	res := Result{WorkspaceID: id, WorkspaceURL: workspaceURL(e.Client.Host(), id)}

	// A descriptor pinning a different workspace id than its own
	// identity resolves to is a configuration error, not something to
	// silently repair.
	if spec.WorkspaceID != "" && spec.WorkspaceID != string(id) {
		return res.failed(StepCreate, &ConflictError{
			Msg: fmt.Sprintf("descriptor pins workspaceId %q but product identity resolves to %q", spec.WorkspaceID, id),
		})
	}

	e.audit(ctx, "provision.started", string(id), "component", intent.Component.ID, nil)

	adopted, err := e.ensureWorkspace(ctx, id, workspaceName(intent))
	if err != nil {
		return res.failed(StepCreate, err)
	}
	res.Adopted = adopted
	if adopted {
		res.completed(StepCreate, "adopted existing workspace")
	} else {
		res.completed(StepCreate, "workspace created")
	}

	// Always reapply, even on adoption.
	for _, identity := range []string{intent.Owner, intent.DevGroup} {
		if err := e.Client.Grant(ctx, id, platform.Grant{Identity: identity, Role: platform.RoleManage}); err != nil {
			return res.failed(StepPermissions, err)
		}
	}
	res.completed(StepPermissions, "owner and dev group granted "+platform.RoleManage)

	if spec.WorkspaceLayout != nil {
		if err := e.Client.ImportLayout(ctx, id, spec.WorkspaceLayout); err != nil {
			return res.failed(StepImport, err)
		}
		res.completed(StepImport, "layout imported")
	} else {
		res.skipped(StepImport, "no workspaceLayout declared")
	}

	if err := e.convergeFilters(ctx, id, spec.UserDataFilters); err != nil {
		return res.failed(StepFilters, err)
	}
	res.completed(StepFilters, fmt.Sprintf("%d user data filters applied", len(spec.UserDataFilters)))

	e.audit(ctx, "provision.completed", string(id), "component", intent.Component.ID, events.EventPayload{"adopted": adopted})
	return res, nil
}

// ensureWorkspace makes the workspace exist and reports whether it was
// adopted rather than created. The existence check is an optimization;
// correctness comes from treating a create conflict as adoption, since
// two provision calls for the same identity may race.
func (e Engine) ensureWorkspace(ctx context.Context, id naming.WorkspaceID, name string) (adopted bool, err error) {
	exists, err := e.Client.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	if err := e.Client.Create(ctx, id, name); err != nil {
		if platform.IsClass(err, platform.ClassConflict) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// convergeFilters removes filters the platform holds and reapplies the
// declared set, so stale filters never survive a re-provision.
func (e Engine) convergeFilters(ctx context.Context, id naming.WorkspaceID, declared []descriptor.UserDataFilter) error {
	existing, err := e.Client.ListFilters(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range existing {
		if err := e.Client.DeleteFilter(ctx, id, f.ID); err != nil {
			return err
		}
	}
	for _, f := range declared {
		if err := e.Client.PutFilter(ctx, id, f); err != nil {
			return err
		}
	}
	return nil
}

// Unprovision deletes the workspace. A missing workspace is success:
// the desired state (absence) already holds.
func (e Engine) Unprovision(ctx context.Context, intent descriptor.Intent) (Result, error) {
	id := intent.Workspace
	res := Result{WorkspaceID: id}

	exists, err := e.Client.Exists(ctx, id)
	if err != nil {
		return res.failed(StepDelete, err)
	}
	if !exists {
		res.skipped(StepDelete, "workspace does not exist, nothing to be done")
		return res, nil
	}
	if err := e.Client.Delete(ctx, id); err != nil {
		if platform.IsClass(err, platform.ClassNotFound) {
			res.skipped(StepDelete, "workspace already deleted")
			return res, nil
		}
		return res.failed(StepDelete, err)
	}
	res.completed(StepDelete, "workspace deleted")
	e.audit(ctx, "unprovision.completed", string(id), "component", intent.Component.ID, nil)
	return res, nil
}

func workspaceName(intent descriptor.Intent) string {
	if n := intent.Component.Specific.WorkspaceName; n != "" {
		return n
	}
	return intent.Product.Domain + " - " + intent.Product.Name
}

func workspaceURL(host string, id naming.WorkspaceID) string {
	if host == "" {
		return ""
	}
	return host + "/dashboards/#/workspace/" + string(id) + "/"
}
