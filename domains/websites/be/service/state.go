package service

import (
	"fmt"
)

// State labels one stop in the provisioning lifecycle. States only ever move
// forward along the chain below, or sideways into failed; the checklist guards
// keep the label from diverging from the data it summarises.
type State string

// Provisioning states, in lifecycle order.
const (
	StatePending            State = "pending"
	StateSubdomainAllocated State = "subdomain_allocated"
	StateOwnerAssigned      State = "owner_assigned"
	StateAgencyCreated      State = "agency_created"
	StateLinksCreated       State = "links_created"
	StateFieldKeysCreated   State = "field_keys_created"
	StatePropertiesSeeded   State = "properties_seeded"
	StateReady              State = "ready"
	StateLockedPendingEmail State = "locked_pending_email_verification"
	StateLive               State = "live"
	StateFailed             State = "failed"
)

// Checklist thresholds.
const (
	MinLinks     = 3
	MinFieldKeys = 5
)

// Checklist captures the verified facts behind the state label, re-read from
// the database rather than trusted from seeding return values.
type Checklist struct {
	HasSubdomain  bool
	HasOwner      bool
	HasAgency     bool
	LinkCount     int
	FieldKeyCount int
	PropertyCount int
	// PropertiesSkipped marks a provisioning run that deliberately left the
	// sample-property step out; the properties guard passes without data.
	PropertiesSkipped bool
}

// HasLinks reports whether the navigation link set is complete.
func (c Checklist) HasLinks() bool { return c.LinkCount >= MinLinks }

// HasFieldKeys reports whether enough property field keys exist.
func (c Checklist) HasFieldKeys() bool { return c.FieldKeyCount >= MinFieldKeys }

// HasProperties reports whether sample properties exist or were skipped.
func (c Checklist) HasProperties() bool { return c.PropertyCount > 0 || c.PropertiesSkipped }

func (c Checklist) String() string {
	return fmt.Sprintf("subdomain=%t owner=%t agency=%t links=%d field_keys=%d properties=%d skipped=%t",
		c.HasSubdomain, c.HasOwner, c.HasAgency, c.LinkCount, c.FieldKeyCount, c.PropertyCount, c.PropertiesSkipped)
}

type transition struct {
	From    State
	To      State
	Guard   func(Checklist) bool
	Missing string
}

// transitions is the forward chain. Guards are pure functions over the
// checklist so they can be unit-tested apart from the transition mechanics.
var transitions = []transition{
	{StatePending, StateSubdomainAllocated, func(c Checklist) bool { return c.HasSubdomain }, "allocated subdomain"},
	{StateSubdomainAllocated, StateOwnerAssigned, func(c Checklist) bool { return c.HasOwner }, "owner membership"},
	{StateOwnerAssigned, StateAgencyCreated, func(c Checklist) bool { return c.HasAgency }, "agency record"},
	{StateAgencyCreated, StateLinksCreated, Checklist.HasLinks, fmt.Sprintf("at least %d navigation links", MinLinks)},
	{StateLinksCreated, StateFieldKeysCreated, Checklist.HasFieldKeys, fmt.Sprintf("at least %d field keys", MinFieldKeys)},
	{StateFieldKeysCreated, StatePropertiesSeeded, Checklist.HasProperties, "seeded properties"},
	{StatePropertiesSeeded, StateReady, fullChecklist, "complete checklist"},
	{StateReady, StateLockedPendingEmail, fullChecklist, "complete checklist"},
	{StateLockedPendingEmail, StateLive, func(Checklist) bool { return true }, ""},
}

func fullChecklist(c Checklist) bool {
	return c.HasSubdomain && c.HasOwner && c.HasAgency && c.HasLinks() && c.HasFieldKeys() && c.HasProperties()
}

// InvalidTransitionError reports a guard rejection. It carries the checklist
// so operators can see exactly which fact is missing.
type InvalidTransitionError struct {
	From      State
	To        State
	Missing   string
	Checklist Checklist
}

func (e *InvalidTransitionError) Error() string {
	if e.Missing == "" {
		return fmt.Sprintf("cannot transition from %s to %s (checklist: %s)", e.From, e.To, e.Checklist)
	}
	return fmt.Sprintf("cannot transition from %s to %s: missing %s (checklist: %s)", e.From, e.To, e.Missing, e.Checklist)
}

// nextTransition returns the forward transition leaving the given state, or
// false when the state is terminal (live, failed) or unknown.
func nextTransition(from State) (transition, bool) {
	for _, t := range transitions {
		if t.From == from {
			return t, true
		}
	}
	return transition{}, false
}

// CheckTransition validates one hop against the table and the checklist. It
// never mutates anything; persistence happens only after it succeeds.
func CheckTransition(from, to State, c Checklist) error {
	t, ok := nextTransition(from)
	if !ok || t.To != to {
		return &InvalidTransitionError{From: from, To: to, Missing: "a legal transition", Checklist: c}
	}
	if !t.Guard(c) {
		return &InvalidTransitionError{From: from, To: to, Missing: t.Missing, Checklist: c}
	}
	return nil
}

// StateForChecklist walks the chain from pending and returns the furthest
// state the checklist supports, capped at properties_seeded. Explicit retry
// uses it to re-enter the machine where work actually remains.
func StateForChecklist(c Checklist) State {
	state := StatePending
	for {
		t, ok := nextTransition(state)
		if !ok || !t.Guard(c) {
			return state
		}
		state = t.To
		if state == StatePropertiesSeeded {
			return state
		}
	}
}
