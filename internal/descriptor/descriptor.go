// Package descriptor models the data product descriptor consumed by the
// provisioner and validates provisioning requests against it.
package descriptor

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// KindOutputPort is the component kind this provisioner handles.
const KindOutputPort = "outputport"

// Layout section names accepted at the top level of a workspace layout.
var layoutSections = []string{"ldm", "analytics", "dashboards", "filters"}

// DataProduct is the product-level descriptor: identity plus the ordered
// component list. Immutable per request.
type DataProduct struct {
	ID               string      `yaml:"id" json:"id"`
	Name             string      `yaml:"name" json:"name"`
	Domain           string      `yaml:"domain" json:"domain"`
	Version          string      `yaml:"version" json:"version"`
	Environment      string      `yaml:"environment,omitempty" json:"environment,omitempty"`
	DataProductOwner string      `yaml:"dataProductOwner" json:"dataProductOwner"`
	DevGroup         string      `yaml:"devGroup" json:"devGroup"`
	Components       []Component `yaml:"components" json:"components"`
}

// Component is one entry of the product's component list.
type Component struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Kind      string   `yaml:"kind" json:"kind"`
	DependsOn []string `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Specific  Specific `yaml:"specific" json:"specific"`
}

// Specific is the provisioner-specific payload of an output port
// component. Workspace identity fields are optional: they are absent on
// first provision and filled in by reverse provisioning afterwards.
type Specific struct {
	WorkspaceID     string           `yaml:"workspaceId,omitempty" json:"workspaceId,omitempty"`
	WorkspaceName   string           `yaml:"workspaceName,omitempty" json:"workspaceName,omitempty"`
	WorkspaceLayout Layout           `yaml:"workspaceLayout,omitempty" json:"workspaceLayout,omitempty"`
	UserDataFilters []UserDataFilter `yaml:"userDataFilters,omitempty" json:"userDataFilters,omitempty"`
}

// Layout is the declarative workspace content. It is an opaque blob
// exchanged with the remote platform as-is; only the top-level section
// names are recognized.
type Layout map[string]any

// UserDataFilter restricts workspace data visibility for one user.
type UserDataFilter struct {
	ID       string `yaml:"id" json:"id"`
	User     string `yaml:"user" json:"user"`
	Label    string `yaml:"label" json:"label"`
	Value    string `yaml:"value" json:"value"`
	Title    string `yaml:"title" json:"title"`
	Operator string `yaml:"operator,omitempty" json:"operator,omitempty"`
}

// Parse decodes a data product descriptor from YAML.
func Parse(data []byte) (DataProduct, error) {
	var dp DataProduct
	if err := yaml.Unmarshal(data, &dp); err != nil {
		return DataProduct{}, fmt.Errorf("invalid descriptor yaml: %w", err)
	}
	return dp, nil
}

// ComponentByID returns the component with the given id, if present.
func (dp DataProduct) ComponentByID(id string) (Component, bool) {
	for _, c := range dp.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// MajorVersion returns the leading segment of the product version.
func (dp DataProduct) MajorVersion() (string, error) {
	return MajorVersion(dp.Version)
}

// MajorVersion extracts the major segment of a semantic version string.
func MajorVersion(version string) (string, error) {
	v := strings.TrimSpace(version)
	if v == "" {
		return "", fmt.Errorf("version is empty")
	}
	major, _, _ := strings.Cut(v, ".")
	if major == "" {
		return "", fmt.Errorf("version %q has no major segment", version)
	}
	return major, nil
}

// Validate checks that a layout is a well-formed object graph: every
// top-level key is a known section and maps to an object (or null).
func (l Layout) Validate() error {
	for key, val := range l {
		if !isLayoutSection(key) {
			return fmt.Errorf("unknown layout section %q (expected one of %s)", key, strings.Join(layoutSections, ", "))
		}
		switch val.(type) {
		case map[string]any, nil:
		default:
			return fmt.Errorf("layout section %q must be an object", key)
		}
	}
	return nil
}

func isLayoutSection(key string) bool {
	for _, s := range layoutSections {
		if key == s {
			return true
		}
	}
	return false
}
