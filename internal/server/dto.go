package server

import (
	"encoding/json"

	"facet/internal/provisioner"
)

// ProvisioningRequestBody is the orchestrator-facing request shape: the
// data product descriptor travels as a YAML document plus the id of the
// component to act on.
type ProvisioningRequestBody struct {
	Descriptor  string `json:"descriptor" doc:"Data product descriptor as a YAML document"`
	ComponentID string `json:"componentIdToProvision" doc:"Id of the component to provision"`
	Async       bool   `json:"async,omitempty" doc:"Return a task token instead of blocking"`
	RemoveData  bool   `json:"removeData,omitempty" doc:"Accepted for orchestrator compatibility; unprovision always deletes the workspace"`
}

// ValidationResult mirrors the validate operation contract: ok, or a
// non-empty error list, never both.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ProvisioningStatus is the terminal (or accepted) view of a
// provisioning operation.
type ProvisioningStatus struct {
	Status string              `json:"status"` // PENDING, RUNNING, COMPLETED, FAILED
	Result string              `json:"result,omitempty"`
	Token  string              `json:"token,omitempty"`
	Detail *provisioner.Result `json:"detail,omitempty"`
	Info   *Info               `json:"info,omitempty"`
}

// Info carries orchestrator-visible links about a provisioned resource.
type Info struct {
	PublicInfo  map[string]any `json:"publicInfo"`
	PrivateInfo map[string]any `json:"privateInfo"`
}

// TaskStatusResponse answers a status poll.
type TaskStatusResponse struct {
	Token  string          `json:"token"`
	Op     string          `json:"op"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ReverseProvisioningRequestBody asks for live state to be exported
// back into descriptor form.
type ReverseProvisioningRequestBody struct {
	Environment string         `json:"environment"`
	Params      map[string]any `json:"params,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// ReverseProvisioningStatus returns descriptor fragment updates.
type ReverseProvisioningStatus struct {
	Status  string         `json:"status"`
	Result  string         `json:"result,omitempty"`
	Updates map[string]any `json:"updates,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// UpdateACLRequestBody carries the desired grantee refs.
type UpdateACLRequestBody struct {
	Descriptor  string   `json:"descriptor"`
	ComponentID string   `json:"componentIdToProvision"`
	Refs        []string `json:"refs" doc:"Grantee identity refs (user:<name> or group:<name>)"`
}

// UpdateACLResponse lists every entry's outcome individually.
type UpdateACLResponse struct {
	Status  string                   `json:"status"`
	Results []provisioner.ACLOutcome `json:"results"`
}

func publicLink(name, href string) *Info {
	if href == "" {
		return nil
	}
	return &Info{
		PublicInfo: map[string]any{
			"link": map[string]any{
				"type":  "string",
				"label": "Link",
				"value": "Go to \"" + name + "\" workspace",
				"href":  href,
			},
		},
		PrivateInfo: map[string]any{},
	}
}
