// Package platform is the adapter to the remote analytics platform. The
// core talks to the Client interface; the REST implementation speaks the
// platform's HTTP API and Mem backs tests and dev mode.
package platform

import (
	"context"
	"errors"
	"fmt"

	"facet/internal/descriptor"
	"facet/internal/naming"
)

// Role levels applied to workspace grants.
const (
	RoleManage = "MANAGE"
	RoleView   = "VIEW"
)

// Grant is one access-control entry on a workspace: an identity
// reference (user:<name> or group:<name>) and its role.
type Grant struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// Client is the remote workspace contract the core depends on. Every
// call is bounded by the caller's context; failures carry a RemoteError
// classifying the platform's response.
type Client interface {
	Exists(ctx context.Context, id naming.WorkspaceID) (bool, error)
	Create(ctx context.Context, id naming.WorkspaceID, name string) error
	Delete(ctx context.Context, id naming.WorkspaceID) error

	ImportLayout(ctx context.Context, id naming.WorkspaceID, layout descriptor.Layout) error
	ExportLayout(ctx context.Context, id naming.WorkspaceID) (descriptor.Layout, error)

	ListGrants(ctx context.Context, id naming.WorkspaceID) ([]Grant, error)
	Grant(ctx context.Context, id naming.WorkspaceID, g Grant) error
	Revoke(ctx context.Context, id naming.WorkspaceID, g Grant) error

	ListFilters(ctx context.Context, id naming.WorkspaceID) ([]descriptor.UserDataFilter, error)
	PutFilter(ctx context.Context, id naming.WorkspaceID, f descriptor.UserDataFilter) error
	DeleteFilter(ctx context.Context, id naming.WorkspaceID, filterID string) error

	// Host returns the platform base URL, used to build workspace links.
	Host() string
}

// ErrorClass buckets remote failures for the core's error taxonomy.
type ErrorClass string

const (
	ClassNotFound  ErrorClass = "not_found"
	ClassConflict  ErrorClass = "conflict"
	ClassAuth      ErrorClass = "unauthorized"
	ClassTransient ErrorClass = "transient"
)

// RemoteError is a classified failure from the remote platform.
type RemoteError struct {
	Op     string
	Class  ErrorClass
	Status int
	Msg    string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("platform %s: %s (status %d): %s", e.Op, e.Class, e.Status, e.Msg)
	}
	return fmt.Sprintf("platform %s: %s: %s", e.Op, e.Class, e.Msg)
}

// IsClass reports whether err is a RemoteError of the given class.
func IsClass(err error, class ErrorClass) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Class == class
}
