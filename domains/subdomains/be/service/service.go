package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Errors returned by the pool service.
var (
	// ErrPoolEmpty means the pool table holds no rows at all; a bootstrap or
	// operational failure rather than a capacity one.
	ErrPoolEmpty = errors.New("subdomain pool has no entries")
	// ErrPoolExhausted means rows exist but none are available to reserve.
	ErrPoolExhausted = errors.New("subdomain pool has no available entries")
	// ErrNotFound means the named pool entry does not exist.
	ErrNotFound = errors.New("subdomain not found")
)

// Pool entry states, mirrored from the persistence layer for callers.
const (
	StateAvailable = "available"
	StateReserved  = "reserved"
	StateAllocated = "allocated"
)

// Subdomain is the domain view of one pool entry.
type Subdomain struct {
	ID                   int64
	Name                 string
	State                string
	ReservedByEmail      *string
	ReservationExpiresAt *time.Time
	WebsiteID            *int64
}

// Validation is the structured outcome of custom-name validation. It is a
// result, never an error: a bad name is expected input, not a failure.
type Validation struct {
	Valid      bool
	Errors     []string
	Normalized string
}

// Stats summarises pool occupancy for diagnostics.
type Stats struct {
	Total     int64
	Available int64
}

// Repository abstracts pool persistence.
type Repository interface {
	// Claim atomically reserves one available entry for email; claimed is
	// false when no entry could be claimed.
	Claim(ctx context.Context, email string, expiresAt time.Time) (sub Subdomain, claimed bool, err error)
	ActiveReservation(ctx context.Context, email string, now time.Time) (Subdomain, bool, error)
	InsertReserved(ctx context.Context, name, email string, expiresAt time.Time) (Subdomain, error)
	InsertAvailable(ctx context.Context, names []string) (int64, error)
	Get(ctx context.Context, name string) (Subdomain, bool, error)
	Allocate(ctx context.Context, name string, websiteID int64) (Subdomain, error)
	NameTaken(ctx context.Context, name string) (bool, error)
	WebsiteSubdomainExists(ctx context.Context, name string) (bool, error)
	Counts(ctx context.Context) (total, available int64, err error)
	ReclaimExpired(ctx context.Context, now time.Time) (int64, error)
}

var namePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

const (
	nameMinLen = 3
	nameMaxLen = 40
)

// reservedNames are hostnames the platform keeps for itself.
var reservedNames = map[string]struct{}{
	"www": {}, "api": {}, "admin": {}, "mail": {}, "blog": {}, "app": {},
	"staging": {}, "assets": {}, "cdn": {}, "help": {}, "support": {},
	"status": {}, "dev": {}, "test": {}, "demo": {}, "shop": {}, "store": {},
	"news": {}, "m": {}, "ftp": {},
}

// Service manages the shared subdomain pool: generation, reservation,
// validation, allocation and replenishment.
type Service struct {
	repo   Repository
	logger *zap.Logger

	now        func() time.Time
	randomName func() string
}

// New constructs a Service with required dependencies.
func New(repo Repository, logger *zap.Logger) *Service {
	if repo == nil {
		panic("subdomain repo is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{repo: repo, logger: logger, now: time.Now, randomName: randomName}
}

// Generate draws candidate names until one is free against both the pool and
// already-allocated website subdomains. Collisions are rare, so the loop is
// expected to exit on the first draw; ctx bounds the pathological case.
func (s *Service) Generate(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("generate subdomain: %w", err)
		}
		name := s.randomName()
		taken, err := s.repo.NameTaken(ctx, name)
		if err != nil {
			return "", fmt.Errorf("check generated name: %w", err)
		}
		if !taken {
			return name, nil
		}
	}
}

// ReserveForEmail hands one pool entry to a signup for the given duration.
// A still-active reservation held by the same email is returned unchanged so
// an interrupted signup can resume. When the pool table is completely empty
// a fresh name is generated and reserved directly; when rows exist but none
// are available the pool is exhausted and the signup fails.
func (s *Service) ReserveForEmail(ctx context.Context, email string, duration time.Duration) (Subdomain, error) {
	now := s.now()

	if existing, ok, err := s.repo.ActiveReservation(ctx, email, now); err != nil {
		return Subdomain{}, err
	} else if ok {
		return existing, nil
	}

	expiresAt := now.Add(duration)
	claimed, ok, err := s.repo.Claim(ctx, email, expiresAt)
	if err != nil {
		return Subdomain{}, err
	}
	if ok {
		return claimed, nil
	}

	total, _, err := s.repo.Counts(ctx)
	if err != nil {
		return Subdomain{}, err
	}
	if total > 0 {
		return Subdomain{}, ErrPoolExhausted
	}

	name, err := s.Generate(ctx)
	if err != nil {
		return Subdomain{}, fmt.Errorf("%w: %v", ErrPoolEmpty, err)
	}
	fresh, err := s.repo.InsertReserved(ctx, name, email, expiresAt)
	if err != nil {
		return Subdomain{}, fmt.Errorf("%w: %v", ErrPoolEmpty, err)
	}
	s.logger.Info("reserved freshly generated subdomain on empty pool",
		zap.String("name", fresh.Name), zap.String("email", email))
	return fresh, nil
}

// ValidateCustomName normalizes and checks a user-chosen name. reservedByEmail
// lets an in-progress signup keep the name it already holds; pass "" when no
// signup context exists.
func (s *Service) ValidateCustomName(ctx context.Context, name, reservedByEmail string) (Validation, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	v := Validation{Normalized: normalized}

	if len(normalized) < nameMinLen || len(normalized) > nameMaxLen {
		v.Errors = append(v.Errors, fmt.Sprintf("must be between %d and %d characters", nameMinLen, nameMaxLen))
	}
	if normalized != "" && !namePattern.MatchString(normalized) {
		v.Errors = append(v.Errors, "may only contain lowercase letters, digits and hyphens, and must start and end with a letter or digit")
	}
	if _, reserved := reservedNames[normalized]; reserved {
		v.Errors = append(v.Errors, "is reserved by the platform")
	}
	if len(v.Errors) > 0 {
		return v, nil
	}

	entry, found, err := s.repo.Get(ctx, normalized)
	if err != nil {
		return Validation{}, err
	}
	if found {
		switch entry.State {
		case StateAllocated:
			v.Errors = append(v.Errors, "is already taken")
		case StateReserved:
			sameEmail := reservedByEmail != "" &&
				entry.ReservedByEmail != nil &&
				strings.EqualFold(*entry.ReservedByEmail, reservedByEmail)
			if !sameEmail {
				v.Errors = append(v.Errors, "is reserved by another signup")
			}
		}
	}

	taken, err := s.repo.WebsiteSubdomainExists(ctx, normalized)
	if err != nil {
		return Validation{}, err
	}
	if taken {
		v.Errors = append(v.Errors, "is already taken")
	}

	v.Valid = len(v.Errors) == 0
	v.Errors = dedupe(v.Errors)
	return v, nil
}

// Allocate binds a name to a website. A reserved or available pool entry
// transitions in place; a validated custom name with no pool row is created
// as allocated. Allocated is terminal so a second allocation fails.
func (s *Service) Allocate(ctx context.Context, name string, websiteID int64) (Subdomain, error) {
	return s.repo.Allocate(ctx, name, websiteID)
}

// EnsurePoolMinimum tops up the available count to at least minimum. It runs
// from the janitor and the CLI, never on the request path.
func (s *Service) EnsurePoolMinimum(ctx context.Context, minimum int64) (int64, error) {
	_, available, err := s.repo.Counts(ctx)
	if err != nil {
		return 0, err
	}
	if available >= minimum {
		return 0, nil
	}

	missing := minimum - available
	names := make([]string, 0, missing)
	drawn := make(map[string]struct{}, missing)
	for int64(len(names)) < missing {
		name, err := s.Generate(ctx)
		if err != nil {
			return 0, err
		}
		// Generate only checks the store, so one batch can draw the same
		// name twice; skip repeats to insert the full shortfall.
		if _, dup := drawn[name]; dup {
			continue
		}
		drawn[name] = struct{}{}
		names = append(names, name)
	}

	added, err := s.repo.InsertAvailable(ctx, names)
	if err != nil {
		return added, err
	}
	s.logger.Info("replenished subdomain pool", zap.Int64("added", added), zap.Int64("minimum", minimum))
	return added, nil
}

// ReclaimExpired returns lapsed reservations to the available state.
func (s *Service) ReclaimExpired(ctx context.Context) (int64, error) {
	reclaimed, err := s.repo.ReclaimExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		s.logger.Info("reclaimed expired subdomain reservations", zap.Int64("count", reclaimed))
	}
	return reclaimed, nil
}

// PoolStats reports occupancy for operators.
func (s *Service) PoolStats(ctx context.Context) (Stats, error) {
	total, available, err := s.repo.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Total: total, Available: available}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
