// Package provisioner is the reconciliation engine: it converges the
// remote analytics platform toward the state a data product descriptor
// declares, and back (reverse provisioning).
package provisioner

import (
	"context"
	"database/sql"
	"time"

	"facet/internal/config"
	"facet/internal/descriptor"
	"facet/internal/events"
	"facet/internal/platform"
	"facet/internal/repo"
	"facet/internal/tracker"
)

type Engine struct {
	Client platform.Client
	Repo   repo.Repo
	Events events.Writer
	Tasks  *tracker.Tracker
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, client platform.Client, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		Client: client,
		Repo:   r,
		Events: events.Writer{DB: db},
		Tasks:  tracker.New(r, cfg.Tasks.Retention),
		Config: cfg,
		Now:    time.Now,
	}
}

// Validate checks a provisioning request without touching the remote
// platform. Same input, same verdict.
func (e Engine) Validate(req descriptor.ProvisioningRequest) (descriptor.Intent, error) {
	return req.Validate()
}

func (e Engine) audit(ctx context.Context, evtType, workspaceID, entityKind, entityID string, payload events.EventPayload) {
	// The audit log is best-effort; a write failure must not fail the
	// operation being audited.
	_ = e.Events.Append(ctx, evtType, workspaceID, entityKind, entityID, payload)
}
