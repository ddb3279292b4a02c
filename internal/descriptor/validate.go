package descriptor

import (
	"fmt"
	"strings"

	"facet/internal/naming"
)

// ProvisioningRequest pairs a descriptor with the component to act on.
type ProvisioningRequest struct {
	DataProduct DataProduct
	ComponentID string
}

// Intent is the normalized outcome of a successful validation: the
// resolved component, its resolved dependencies and the workspace
// identity it provisions to.
type Intent struct {
	Product      DataProduct
	Component    Component
	Dependencies []Component
	Workspace    naming.WorkspaceID
	Owner        string
	DevGroup     string
}

// ValidationError aggregates every problem found in a request. It is
// never retried; the caller fixes the descriptor and resubmits.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "descriptor validation failed: " + strings.Join(e.Errors, "; ")
}

// Validate checks the request and returns either a normalized intent or
// a non-empty validation error, never both. It has no side effects and
// is deterministic.
func (r ProvisioningRequest) Validate() (Intent, error) {
	var errs []string

	dp := r.DataProduct
	if dp.Domain == "" {
		errs = append(errs, "dataProduct.domain is required")
	}
	if dp.Name == "" {
		errs = append(errs, "dataProduct.name is required")
	}
	if dp.DataProductOwner == "" {
		errs = append(errs, "dataProduct.dataProductOwner is required")
	}
	if dp.DevGroup == "" {
		errs = append(errs, "dataProduct.devGroup is required")
	}
	major, err := dp.MajorVersion()
	if err != nil {
		errs = append(errs, "dataProduct.version: "+err.Error())
	}

	if r.ComponentID == "" {
		errs = append(errs, "componentIdToProvision is required")
		return Intent{}, &ValidationError{Errors: errs}
	}
	component, ok := dp.ComponentByID(r.ComponentID)
	if !ok {
		errs = append(errs, fmt.Sprintf("component %s not found in descriptor", r.ComponentID))
		return Intent{}, &ValidationError{Errors: errs}
	}
	if component.Kind != KindOutputPort {
		errs = append(errs, fmt.Sprintf("component %s has kind %q, expected %q", component.ID, component.Kind, KindOutputPort))
	}
	errs = append(errs, validateSpecific(component)...)

	// Every dependsOn entry must name another component of the same
	// descriptor.
	var deps []Component
	for _, depID := range component.DependsOn {
		dep, ok := dp.ComponentByID(depID)
		if !ok {
			errs = append(errs, fmt.Sprintf("component %s depends on %s which is not in the descriptor", component.ID, depID))
			continue
		}
		deps = append(deps, dep)
	}

	if len(errs) > 0 {
		return Intent{}, &ValidationError{Errors: errs}
	}
	return Intent{
		Product:      dp,
		Component:    component,
		Dependencies: deps,
		Workspace:    naming.Resolve(dp.Domain, dp.Name, major),
		Owner:        dp.DataProductOwner,
		DevGroup:     dp.DevGroup,
	}, nil
}

func validateSpecific(c Component) []string {
	var errs []string
	spec := c.Specific
	if spec.WorkspaceLayout != nil {
		if err := spec.WorkspaceLayout.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("component %s: workspaceLayout: %v", c.ID, err))
		}
	}
	for i, udf := range spec.UserDataFilters {
		if udf.ID == "" || udf.User == "" || udf.Label == "" || udf.Value == "" || udf.Title == "" {
			errs = append(errs, fmt.Sprintf("component %s: userDataFilters[%d]: id, user, label, value and title are required", c.ID, i))
		}
	}
	return errs
}

// ValidateReverseRequest checks the parameters of a reverse provisioning
// request: environment and a workspace identity must be present.
func ValidateReverseRequest(environment string, params map[string]any) (string, error) {
	var errs []string
	if environment == "" {
		errs = append(errs, "environment is required")
	}
	if params == nil {
		errs = append(errs, "missing parameters object in reverse provisioning request")
		return "", &ValidationError{Errors: errs}
	}
	workspaceID, _ := params["workspaceId"].(string)
	if workspaceID == "" {
		errs = append(errs, "missing workspaceId in reverse provisioning request")
	}
	if len(errs) > 0 {
		return "", &ValidationError{Errors: errs}
	}
	return workspaceID, nil
}
