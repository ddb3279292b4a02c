package provisioner

import (
	"context"
	"fmt"
	"strings"

	"facet/internal/descriptor"
	"facet/internal/events"
	"facet/internal/platform"
	"facet/internal/repo"
)

// ACLOutcome is the per-entry result of an ACL synchronization. A
// failing entry never aborts the remaining ones.
type ACLOutcome struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
	Action   string `json:"action"` // grant, revoke, keep
	Status   string `json:"status"` // completed, failed
	Error    string `json:"error,omitempty"`
}

// UpdateACL converges the workspace grants toward the desired set:
// owner and dev group keep the administrative role, every consumer ref
// gets the viewer role. Grants are applied before revokes. Entries
// outside the managed namespace (no user:/group: prefix, e.g. platform
// service accounts) are never revoked.
func (e Engine) UpdateACL(ctx context.Context, intent descriptor.Intent, refs []string) ([]ACLOutcome, error) {
	id := intent.Workspace

	exists, err := e.Client.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("workspace %s: %w", id, repo.ErrNotFound)
	}

	desired := map[string]string{
		intent.Owner:    platform.RoleManage,
		intent.DevGroup: platform.RoleManage,
	}
	for _, ref := range refs {
		if _, ok := desired[ref]; !ok {
			desired[ref] = platform.RoleView
		}
	}

	current, err := e.Client.ListGrants(ctx, id)
	if err != nil {
		return nil, err
	}
	currentRoles := make(map[string]string, len(current))
	for _, g := range current {
		currentRoles[g.Identity] = g.Role
	}

	var outcomes []ACLOutcome

	// Grants first: keep the managed entries ordered as the descriptor
	// lists them (owner, dev group, then consumers).
	for _, identity := range orderedIdentities(intent, refs) {
		role := desired[identity]
		if have, ok := currentRoles[identity]; ok && have == role {
			outcomes = append(outcomes, ACLOutcome{Identity: identity, Role: role, Action: "keep", Status: "completed"})
			continue
		}
		out := ACLOutcome{Identity: identity, Role: role, Action: "grant", Status: "completed"}
		if err := e.Client.Grant(ctx, id, platform.Grant{Identity: identity, Role: role}); err != nil {
			out.Status = "failed"
			out.Error = err.Error()
		}
		outcomes = append(outcomes, out)
	}

	for _, g := range current {
		if _, wanted := desired[g.Identity]; wanted {
			continue
		}
		if !Managed(g.Identity) {
			continue
		}
		out := ACLOutcome{Identity: g.Identity, Role: g.Role, Action: "revoke", Status: "completed"}
		if err := e.Client.Revoke(ctx, id, g); err != nil {
			out.Status = "failed"
			out.Error = err.Error()
		}
		outcomes = append(outcomes, out)
	}

	e.audit(ctx, "acl.synced", string(id), "workspace", string(id), events.EventPayload{"entries": len(outcomes)})
	return outcomes, nil
}

// Managed reports whether an identity reference belongs to the
// namespace this provisioner owns.
func Managed(identity string) bool {
	return strings.HasPrefix(identity, "user:") || strings.HasPrefix(identity, "group:")
}

func orderedIdentities(intent descriptor.Intent, refs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, identity := range append([]string{intent.Owner, intent.DevGroup}, refs...) {
		if identity == "" || seen[identity] {
			continue
		}
		seen[identity] = true
		out = append(out, identity)
	}
	return out
}
