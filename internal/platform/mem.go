package platform

import (
	"context"
	"encoding/json"
	"sync"

	"facet/internal/descriptor"
	"facet/internal/naming"
)

// EmptyLayout is the content of a workspace with nothing imported.
var EmptyLayout = descriptor.Layout{
	"ldm":        map[string]any{"datasets": []any{}, "dateInstances": []any{}},
	"analytics":  map[string]any{"metrics": []any{}, "visualizationObjects": []any{}},
	"dashboards": map[string]any{"analyticalDashboards": []any{}},
	"filters":    map[string]any{"filterContexts": []any{}},
}

// Mem is an in-memory Client used by tests and `facet serve --dev`.
type Mem struct {
	mu         sync.Mutex
	workspaces map[naming.WorkspaceID]*memWorkspace

	// FailOps makes the named operations return the given error, for
	// exercising partial-failure paths in tests.
	FailOps map[string]error
}

type memWorkspace struct {
	name    string
	layout  descriptor.Layout
	grants  []Grant
	filters []descriptor.UserDataFilter
}

func NewMem() *Mem {
	return &Mem{workspaces: map[naming.WorkspaceID]*memWorkspace{}}
}

func (m *Mem) Host() string { return "mem://platform" }

func (m *Mem) fail(op string) error {
	if err, ok := m.FailOps[op]; ok {
		return err
	}
	return nil
}

func (m *Mem) Exists(_ context.Context, id naming.WorkspaceID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("exists"); err != nil {
		return false, err
	}
	_, ok := m.workspaces[id]
	return ok, nil
}

func (m *Mem) Create(_ context.Context, id naming.WorkspaceID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("create"); err != nil {
		return err
	}
	if _, ok := m.workspaces[id]; ok {
		return &RemoteError{Op: "create", Class: ClassConflict, Msg: "workspace " + string(id) + " already exists"}
	}
	m.workspaces[id] = &memWorkspace{name: name, layout: cloneLayout(EmptyLayout)}
	return nil
}

func (m *Mem) Delete(_ context.Context, id naming.WorkspaceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete"); err != nil {
		return err
	}
	if _, ok := m.workspaces[id]; !ok {
		return &RemoteError{Op: "delete", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	delete(m.workspaces, id)
	return nil
}

func (m *Mem) ImportLayout(_ context.Context, id naming.WorkspaceID, layout descriptor.Layout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("import-layout"); err != nil {
		return err
	}
	ws, ok := m.workspaces[id]
	if !ok {
		return &RemoteError{Op: "import-layout", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	// Additive merge: declared sections replace, others stay.
	for section, val := range cloneLayout(layout) {
		ws.layout[section] = val
	}
	return nil
}

func (m *Mem) ExportLayout(_ context.Context, id naming.WorkspaceID) (descriptor.Layout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("export-layout"); err != nil {
		return nil, err
	}
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, &RemoteError{Op: "export-layout", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	return cloneLayout(ws.layout), nil
}

func (m *Mem) ListGrants(_ context.Context, id naming.WorkspaceID) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("list-grants"); err != nil {
		return nil, err
	}
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, &RemoteError{Op: "list-grants", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	out := make([]Grant, len(ws.grants))
	copy(out, ws.grants)
	return out, nil
}

func (m *Mem) Grant(_ context.Context, id naming.WorkspaceID, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("grant"); err != nil {
		return err
	}
	ws, ok := m.workspaces[id]
	if !ok {
		return &RemoteError{Op: "grant", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	for i, existing := range ws.grants {
		if existing.Identity == g.Identity {
			ws.grants[i].Role = g.Role
			return nil
		}
	}
	ws.grants = append(ws.grants, g)
	return nil
}

func (m *Mem) Revoke(_ context.Context, id naming.WorkspaceID, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("revoke"); err != nil {
		return err
	}
	ws, ok := m.workspaces[id]
	if !ok {
		return &RemoteError{Op: "revoke", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	kept := ws.grants[:0]
	for _, existing := range ws.grants {
		if existing.Identity != g.Identity || existing.Role != g.Role {
			kept = append(kept, existing)
		}
	}
	ws.grants = kept
	return nil
}

func (m *Mem) ListFilters(_ context.Context, id naming.WorkspaceID) ([]descriptor.UserDataFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("list-filters"); err != nil {
		return nil, err
	}
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, &RemoteError{Op: "list-filters", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	out := make([]descriptor.UserDataFilter, len(ws.filters))
	copy(out, ws.filters)
	return out, nil
}

func (m *Mem) PutFilter(_ context.Context, id naming.WorkspaceID, f descriptor.UserDataFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("put-filter"); err != nil {
		return err
	}
	ws, ok := m.workspaces[id]
	if !ok {
		return &RemoteError{Op: "put-filter", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	for i, existing := range ws.filters {
		if existing.ID == f.ID {
			ws.filters[i] = f
			return nil
		}
	}
	ws.filters = append(ws.filters, f)
	return nil
}

func (m *Mem) DeleteFilter(_ context.Context, id naming.WorkspaceID, filterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete-filter"); err != nil {
		return err
	}
	ws, ok := m.workspaces[id]
	if !ok {
		return &RemoteError{Op: "delete-filter", Class: ClassNotFound, Msg: "workspace " + string(id) + " not found"}
	}
	kept := ws.filters[:0]
	for _, existing := range ws.filters {
		if existing.ID != filterID {
			kept = append(kept, existing)
		}
	}
	ws.filters = kept
	return nil
}

func cloneLayout(l descriptor.Layout) descriptor.Layout {
	if l == nil {
		return nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		out := descriptor.Layout{}
		for k, v := range l {
			out[k] = v
		}
		return out
	}
	var out descriptor.Layout
	if err := json.Unmarshal(b, &out); err != nil {
		return l
	}
	return out
}
