package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	subdomainsvc "github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/service"
)

// Errors returned by the websites service.
var (
	// ErrDuplicateSignup means the email already owns a website.
	ErrDuplicateSignup = errors.New("email already owns a website")
	// ErrNotFound means the website or signup does not exist.
	ErrNotFound = errors.New("website not found")
	// ErrInvalidToken means no website holds the presented verification token.
	ErrInvalidToken = errors.New("invalid verification token")
	// ErrNotFailed means retry was requested for a website that is not failed.
	ErrNotFailed = errors.New("website is not in the failed state")
)

// Site types supported by the platform.
const (
	SiteTypeAgency         = "agency"
	SiteTypePortal         = "portal"
	SiteTypeSingleProperty = "single_property"
)

// DefaultSeedPack is applied when a signup does not pick one.
const DefaultSeedPack = "default"

var siteTypes = map[string]struct{}{
	SiteTypeAgency:         {},
	SiteTypePortal:         {},
	SiteTypeSingleProperty: {},
}

// ValidationError reports rejected input. It is returned before any write
// happens, so a failing request never leaves partial rows behind.
type ValidationError struct {
	Field  string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, strings.Join(e.Errors, "; "))
}

// User is one account on the control plane.
type User struct {
	ID       uuid.UUID
	Email    string
	FullName *string
}

// Website is the domain view of one tenant site.
type Website struct {
	ID           int64
	Subdomain    string
	ShardName    string
	SiteType     string
	State        State
	StateError   *string
	SeedPackName string
	OwnerEmail   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Signup is the outcome of a started signup: a lead user holding a subdomain
// reservation.
type Signup struct {
	User                 User
	Subdomain            string
	ReservationExpiresAt time.Time
}

// ProvisionOptions tune one provisioning run.
type ProvisionOptions struct {
	// SkipProperties leaves the sample-property step out; the guard passes
	// without data and the site launches empty.
	SkipProperties bool
	// OnProgress, when set, is called after every committed transition.
	OnProgress func(step SeedStep, state State)
}

// ProvisionResult summarises one provisioning run.
type ProvisionResult struct {
	WebsiteID    int64
	State        State
	SeededSteps  []SeedStep
	SkippedSteps []SeedStep
}

// SubdomainPool is the slice of the subdomain pool service the orchestrator
// uses during signup.
type SubdomainPool interface {
	ReserveForEmail(ctx context.Context, email string, duration time.Duration) (subdomainsvc.Subdomain, error)
	ValidateCustomName(ctx context.Context, name, reservedByEmail string) (subdomainsvc.Validation, error)
}

// ConfigureTx is the set of writes available inside the site-configuration
// transaction. Either all of them commit or none do.
type ConfigureTx interface {
	CreateWebsite(ctx context.Context, site Website) (Website, error)
	AllocateSubdomain(ctx context.Context, name string, websiteID int64) error
	CreateOwnerMembership(ctx context.Context, websiteID int64, userID uuid.UUID) error
	TransitionState(ctx context.Context, id int64, from, to State) (bool, error)
}

// Repository abstracts control-plane persistence for websites and signups.
type Repository interface {
	GetUserByEmail(ctx context.Context, email string) (User, bool, error)
	CreateUser(ctx context.Context, email string) (User, error)
	OwnedWebsiteID(ctx context.Context, userID uuid.UUID) (int64, bool, error)

	// ConfigureInTx runs fn inside one transaction on the control-plane
	// database; any error from fn rolls every write back.
	ConfigureInTx(ctx context.Context, fn func(tx ConfigureTx) error) error

	Get(ctx context.Context, id int64) (Website, error)
	GetByVerificationToken(ctx context.Context, token string) (Website, error)
	// TransitionState compare-and-swaps provisioning_state; false means the
	// row was no longer in `from`.
	TransitionState(ctx context.Context, id int64, from, to State) (bool, error)
	SetState(ctx context.Context, id int64, state State) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	SetVerificationToken(ctx context.Context, id int64, token string) error
}

// Config carries the orchestrator's operational settings.
type Config struct {
	// DefaultShard is where new websites are placed.
	DefaultShard string
	// ReservationTTL bounds how long a signup may sit on a reserved subdomain.
	ReservationTTL time.Duration
}

// Service is the provisioning orchestrator: signup, site configuration, the
// seeding state machine, retry and email verification.
type Service struct {
	repo       Repository
	pool       SubdomainPool
	checklists ChecklistSource
	seeds      SeedProvider
	notifier   Notifier
	logger     *zap.Logger
	cfg        Config

	newToken func() string
}

// New constructs a Service with required dependencies.
func New(repo Repository, pool SubdomainPool, checklists ChecklistSource, seeds SeedProvider, notifier Notifier, logger *zap.Logger, cfg Config) *Service {
	if repo == nil {
		panic("websites repo is required")
	}
	if pool == nil {
		panic("subdomain pool is required")
	}
	if checklists == nil {
		panic("checklist source is required")
	}
	if seeds == nil {
		panic("seed provider is required")
	}
	if notifier == nil {
		panic("notifier is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg.DefaultShard == "" {
		panic("default shard is required")
	}
	if cfg.ReservationTTL <= 0 {
		panic("reservation ttl must be positive")
	}
	return &Service{
		repo:       repo,
		pool:       pool,
		checklists: checklists,
		seeds:      seeds,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
		newToken:   uuid.NewString,
	}
}

// StartSignup registers a lead user and hands it a subdomain reservation. An
// email that already owns a website is rejected; a lead that never finished
// configuration reuses its user row and, through the pool, any reservation it
// still holds.
func (s *Service) StartSignup(ctx context.Context, email string) (Signup, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return Signup{}, &ValidationError{Field: "email", Errors: []string{"must be a valid email address"}}
	}

	user, found, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return Signup{}, err
	}
	if found {
		if _, owns, err := s.repo.OwnedWebsiteID(ctx, user.ID); err != nil {
			return Signup{}, err
		} else if owns {
			return Signup{}, ErrDuplicateSignup
		}
	}

	// Reserve before creating the lead user: a pool failure must never leave
	// behind a user row without a reservation. An orphan reservation from the
	// opposite ordering simply lapses through its TTL.
	sub, err := s.pool.ReserveForEmail(ctx, email, s.cfg.ReservationTTL)
	if err != nil {
		return Signup{}, err
	}

	if !found {
		user, err = s.repo.CreateUser(ctx, email)
		if err != nil {
			return Signup{}, err
		}
	}

	signup := Signup{User: user, Subdomain: sub.Name}
	if sub.ReservationExpiresAt != nil {
		signup.ReservationExpiresAt = *sub.ReservationExpiresAt
	}
	s.logger.Info("signup started",
		zap.String("email", email), zap.String("subdomain", sub.Name))
	return signup, nil
}

// ConfigureSite turns a signup into a pending website: one transaction
// creating the website row, allocating the subdomain, recording the owner
// membership and advancing the state machine to owner_assigned. All input is
// validated before the transaction opens.
func (s *Service) ConfigureSite(ctx context.Context, email, name, siteType, seedPack string) (Website, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, ok := siteTypes[siteType]; !ok {
		return Website{}, &ValidationError{Field: "site_type",
			Errors: []string{fmt.Sprintf("must be one of %s, %s or %s", SiteTypeAgency, SiteTypePortal, SiteTypeSingleProperty)}}
	}
	if seedPack == "" {
		seedPack = DefaultSeedPack
	}

	v, err := s.pool.ValidateCustomName(ctx, name, email)
	if err != nil {
		return Website{}, err
	}
	if !v.Valid {
		return Website{}, &ValidationError{Field: "subdomain", Errors: v.Errors}
	}

	user, found, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return Website{}, err
	}
	if !found {
		return Website{}, fmt.Errorf("signup for %s: %w", email, ErrNotFound)
	}
	if _, owns, err := s.repo.OwnedWebsiteID(ctx, user.ID); err != nil {
		return Website{}, err
	} else if owns {
		return Website{}, ErrDuplicateSignup
	}

	var site Website
	err = s.repo.ConfigureInTx(ctx, func(tx ConfigureTx) error {
		site, err = tx.CreateWebsite(ctx, Website{
			Subdomain:    v.Normalized,
			ShardName:    s.cfg.DefaultShard,
			SiteType:     siteType,
			State:        StatePending,
			SeedPackName: seedPack,
			OwnerEmail:   email,
		})
		if err != nil {
			return err
		}

		if err := tx.AllocateSubdomain(ctx, v.Normalized, site.ID); err != nil {
			return err
		}
		if err := s.advanceInTx(ctx, tx, site.ID, StatePending, Checklist{HasSubdomain: true}); err != nil {
			return err
		}

		if err := tx.CreateOwnerMembership(ctx, site.ID, user.ID); err != nil {
			return err
		}
		if err := s.advanceInTx(ctx, tx, site.ID, StateSubdomainAllocated, Checklist{HasSubdomain: true, HasOwner: true}); err != nil {
			return err
		}

		site.State = StateOwnerAssigned
		return nil
	})
	if err != nil {
		return Website{}, err
	}

	s.logger.Info("site configured",
		zap.Int64("website_id", site.ID),
		zap.String("subdomain", site.Subdomain),
		zap.String("site_type", site.SiteType),
		zap.String("shard", site.ShardName))
	return site, nil
}

// advanceInTx runs one guard-checked transition inside the configuration
// transaction.
func (s *Service) advanceInTx(ctx context.Context, tx ConfigureTx, id int64, from State, c Checklist) error {
	t, ok := nextTransition(from)
	if !ok {
		return &InvalidTransitionError{From: from, To: from, Missing: "a legal transition", Checklist: c}
	}
	if err := CheckTransition(from, t.To, c); err != nil {
		return err
	}
	moved, err := tx.TransitionState(ctx, id, from, t.To)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("website %d left state %s concurrently", id, from)
	}
	return nil
}

// Provision drives the website through the seeding steps up to
// locked_pending_email_verification. Every step probes the checklist first,
// seeds only what is missing, re-probes, and advances through a guarded
// transition; a run interrupted at any point can simply be called again.
func (s *Service) Provision(ctx context.Context, websiteID int64, opts ProvisionOptions) (ProvisionResult, error) {
	site, err := s.repo.Get(ctx, websiteID)
	if err != nil {
		return ProvisionResult{}, err
	}

	result := ProvisionResult{WebsiteID: site.ID, State: site.State}

	switch site.State {
	case StateLockedPendingEmail, StateLive:
		return result, nil
	case StateFailed:
		return result, fmt.Errorf("website %d: %w; use retry", site.ID, errProvisioningFailed(site))
	case StatePending, StateSubdomainAllocated:
		return result, fmt.Errorf("website %d is %s: configuration is not finished", site.ID, site.State)
	}

	state := site.State
	for state != StateLockedPendingEmail {
		t, ok := nextTransition(state)
		if !ok {
			return result, fmt.Errorf("website %d: no transition out of %s", site.ID, state)
		}

		checklist, err := s.probe(ctx, site, opts)
		if err != nil {
			return s.fail(ctx, result, site.ID, err)
		}

		if step, seeded := stepForState(state); seeded {
			switch {
			case step == StepProperties && opts.SkipProperties && checklist.PropertyCount == 0:
				result.SkippedSteps = append(result.SkippedSteps, step)
			case !t.Guard(checklist):
				if err := s.seeds.Seed(ctx, step, site); err != nil {
					return s.fail(ctx, result, site.ID, fmt.Errorf("seed %s: %w", step, err))
				}
				result.SeededSteps = append(result.SeededSteps, step)
				checklist, err = s.probe(ctx, site, opts)
				if err != nil {
					return s.fail(ctx, result, site.ID, err)
				}
			}
		}

		if err := CheckTransition(state, t.To, checklist); err != nil {
			return s.fail(ctx, result, site.ID, err)
		}

		moved, err := s.repo.TransitionState(ctx, site.ID, state, t.To)
		if err != nil {
			return s.fail(ctx, result, site.ID, err)
		}
		if !moved {
			// Another runner advanced the site; pick up from where it is now.
			site, err = s.repo.Get(ctx, site.ID)
			if err != nil {
				return result, err
			}
			state = site.State
			result.State = state
			switch state {
			case StateFailed:
				return result, errProvisioningFailed(site)
			case StateLockedPendingEmail, StateLive:
				// The other runner finished and issued the verification
				// token; do not mint a second one.
				return result, nil
			}
			continue
		}

		state = t.To
		result.State = state
		if opts.OnProgress != nil {
			step, _ := stepForState(t.From)
			opts.OnProgress(step, state)
		}
	}

	token := s.newToken()
	if err := s.repo.SetVerificationToken(ctx, site.ID, token); err != nil {
		return result, err
	}
	site.State = state
	if err := s.notifier.SendVerification(ctx, site, token); err != nil {
		s.logger.Warn("verification mail delivery failed",
			zap.Int64("website_id", site.ID), zap.Error(err))
	}

	s.logger.Info("provisioning finished",
		zap.Int64("website_id", site.ID),
		zap.String("state", string(state)),
		zap.Int("seeded_steps", len(result.SeededSteps)))
	return result, nil
}

// RetryProvisioning re-enters the state machine after a failure. The website
// must be failed; its state is reset to the furthest point the checklist
// supports and provisioning runs again from there.
func (s *Service) RetryProvisioning(ctx context.Context, websiteID int64, opts ProvisionOptions) (ProvisionResult, error) {
	site, err := s.repo.Get(ctx, websiteID)
	if err != nil {
		return ProvisionResult{}, err
	}
	if site.State != StateFailed {
		return ProvisionResult{}, fmt.Errorf("website %d is %s: %w", site.ID, site.State, ErrNotFailed)
	}

	checklist, err := s.probe(ctx, site, opts)
	if err != nil {
		return ProvisionResult{}, err
	}
	resume := StateForChecklist(checklist)
	if err := s.repo.SetState(ctx, site.ID, resume); err != nil {
		return ProvisionResult{}, err
	}
	s.logger.Info("retrying provisioning",
		zap.Int64("website_id", site.ID), zap.String("resume_state", string(resume)))

	return s.Provision(ctx, websiteID, opts)
}

// VerifyEmail consumes a verification token and moves the website live.
func (s *Service) VerifyEmail(ctx context.Context, token string) (Website, error) {
	site, err := s.repo.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Website{}, ErrInvalidToken
		}
		return Website{}, err
	}

	moved, err := s.repo.TransitionState(ctx, site.ID, StateLockedPendingEmail, StateLive)
	if err != nil {
		return Website{}, err
	}
	if !moved {
		site, err = s.repo.Get(ctx, site.ID)
		if err != nil {
			return Website{}, err
		}
		if site.State == StateLive {
			return site, nil
		}
		return Website{}, fmt.Errorf("website %d is %s: %w", site.ID, site.State, ErrInvalidToken)
	}

	site.State = StateLive
	s.logger.Info("email verified, website live",
		zap.Int64("website_id", site.ID), zap.String("subdomain", site.Subdomain))
	return site, nil
}

// Get fetches one website.
func (s *Service) Get(ctx context.Context, websiteID int64) (Website, error) {
	return s.repo.Get(ctx, websiteID)
}

func (s *Service) probe(ctx context.Context, site Website, opts ProvisionOptions) (Checklist, error) {
	checklist, err := s.checklists.Checklist(ctx, site)
	if err != nil {
		return Checklist{}, fmt.Errorf("probe checklist: %w", err)
	}
	checklist.PropertiesSkipped = opts.SkipProperties
	return checklist, nil
}

// fail parks the website in the failed state with the reason and passes the
// original error through.
func (s *Service) fail(ctx context.Context, result ProvisionResult, websiteID int64, cause error) (ProvisionResult, error) {
	if err := s.repo.MarkFailed(ctx, websiteID, cause.Error()); err != nil {
		s.logger.Error("recording provisioning failure",
			zap.Int64("website_id", websiteID), zap.Error(err))
	} else {
		result.State = StateFailed
	}
	s.logger.Error("provisioning failed",
		zap.Int64("website_id", websiteID), zap.Error(cause))
	return result, cause
}

// stepForState maps a state onto the seed step that unlocks its forward
// transition; seeded is false for transitions that only re-check facts.
func stepForState(state State) (step SeedStep, seeded bool) {
	switch state {
	case StateOwnerAssigned:
		return StepAgency, true
	case StateAgencyCreated:
		return StepLinks, true
	case StateLinksCreated:
		return StepFieldKeys, true
	case StateFieldKeysCreated:
		return StepProperties, true
	default:
		return "", false
	}
}

func errProvisioningFailed(site Website) error {
	if site.StateError != nil && *site.StateError != "" {
		return fmt.Errorf("provisioning previously failed: %s", *site.StateError)
	}
	return errors.New("provisioning previously failed")
}

// validEmail is deliberately loose; the verification mail is the real check.
func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t")
}
