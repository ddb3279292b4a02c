package provisioner

import (
	"context"
	"fmt"

	"facet/internal/descriptor"
	"facet/internal/naming"
)

// ReverseResult carries the descriptor fragment updates derived from
// live remote state. Keys are descriptor paths, values the fresh
// content to substitute.
type ReverseResult struct {
	WorkspaceID naming.WorkspaceID `json:"workspaceId"`
	Updates     map[string]any     `json:"updates"`
}

// Reverse exports the current workspace layout and returns it as a
// descriptor fragment update. Read-only on the remote side.
func (e Engine) Reverse(ctx context.Context, environment string, params map[string]any) (ReverseResult, error) {
	workspaceID, err := descriptor.ValidateReverseRequest(environment, params)
	if err != nil {
		return ReverseResult{}, err
	}
	if environment != e.Config.Environment {
		return ReverseResult{}, &descriptor.ValidationError{
			Errors: []string{fmt.Sprintf("environment %q does not match this provisioner's environment %q", environment, e.Config.Environment)},
		}
	}
	id := naming.WorkspaceID(workspaceID)

	exists, err := e.Client.Exists(ctx, id)
	if err != nil {
		return ReverseResult{}, err
	}
	if !exists {
		return ReverseResult{}, &descriptor.ValidationError{
			Errors: []string{fmt.Sprintf("workspace %s does not exist", workspaceID)},
		}
	}

	layout, err := e.Client.ExportLayout(ctx, id)
	if err != nil {
		return ReverseResult{}, err
	}
	e.audit(ctx, "reverse.completed", workspaceID, "workspace", workspaceID, nil)
	return ReverseResult{
		WorkspaceID: id,
		Updates: map[string]any{
			"spec.mesh.specific.workspaceLayout": layout,
			"spec.mesh.specific.workspaceId":     workspaceID,
		},
	}, nil
}
