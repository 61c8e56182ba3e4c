package service

import (
	"context"
)

// SeedStep names one provisioning seed unit. Steps map 1:1 onto the guarded
// transitions that consume them.
type SeedStep string

// Seed steps, in provisioning order.
const (
	StepAgency     SeedStep = "agency"
	StepLinks      SeedStep = "links"
	StepFieldKeys  SeedStep = "field_keys"
	StepProperties SeedStep = "properties"
)

// SeedProvider writes the default content for one step onto the website's
// shard. Implementations must be idempotent per (website, step): the
// orchestrator probes before and after seeding and may call a step again
// after a partial failure.
type SeedProvider interface {
	Seed(ctx context.Context, step SeedStep, site Website) error
}

// ChecklistSource re-reads provisioning facts from the control-plane and
// shard databases. The orchestrator never trusts seeding return values; the
// checklist is the only evidence a step is complete.
type ChecklistSource interface {
	Checklist(ctx context.Context, site Website) (Checklist, error)
}

// Notifier delivers the verification mail for a finished provisioning run.
// Delivery is best-effort: a failure is logged and the token stays valid, so
// the mail can be re-sent out of band.
type Notifier interface {
	SendVerification(ctx context.Context, site Website, token string) error
}
