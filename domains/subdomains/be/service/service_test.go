package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryRepo is an in-memory pool store with the same claim semantics as the
// postgres implementation: one reservation per entry, first claimer wins.
type memoryRepo struct {
	mu      sync.Mutex
	entries map[string]Subdomain
	nextID  int64

	websiteNames map[string]bool

	insertReservedErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		entries:      map[string]Subdomain{},
		websiteNames: map[string]bool{},
	}
}

func (r *memoryRepo) addAvailable(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.nextID++
		r.entries[name] = Subdomain{ID: r.nextID, Name: name, State: StateAvailable}
	}
}

func (r *memoryRepo) Claim(_ context.Context, email string, expiresAt time.Time) (Subdomain, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, entry := range r.entries {
		if entry.State != StateAvailable {
			continue
		}
		entry.State = StateReserved
		entry.ReservedByEmail = &email
		entry.ReservationExpiresAt = &expiresAt
		r.entries[name] = entry
		return entry, true, nil
	}
	return Subdomain{}, false, nil
}

func (r *memoryRepo) ActiveReservation(_ context.Context, email string, now time.Time) (Subdomain, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.State == StateReserved &&
			entry.ReservedByEmail != nil && *entry.ReservedByEmail == email &&
			entry.ReservationExpiresAt != nil && entry.ReservationExpiresAt.After(now) {
			return entry, true, nil
		}
	}
	return Subdomain{}, false, nil
}

func (r *memoryRepo) InsertReserved(_ context.Context, name, email string, expiresAt time.Time) (Subdomain, error) {
	if r.insertReservedErr != nil {
		return Subdomain{}, r.insertReservedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return Subdomain{}, fmt.Errorf("subdomain %q already exists", name)
	}
	r.nextID++
	entry := Subdomain{
		ID: r.nextID, Name: name, State: StateReserved,
		ReservedByEmail: &email, ReservationExpiresAt: &expiresAt,
	}
	r.entries[name] = entry
	return entry, nil
}

func (r *memoryRepo) InsertAvailable(_ context.Context, names []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var added int64
	for _, name := range names {
		if _, exists := r.entries[name]; exists {
			continue
		}
		r.nextID++
		r.entries[name] = Subdomain{ID: r.nextID, Name: name, State: StateAvailable}
		added++
	}
	return added, nil
}

func (r *memoryRepo) Get(_ context.Context, name string) (Subdomain, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[name]
	return entry, ok, nil
}

func (r *memoryRepo) Allocate(_ context.Context, name string, websiteID int64) (Subdomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[name]
	if !ok {
		r.nextID++
		entry = Subdomain{ID: r.nextID, Name: name}
	}
	if entry.State == StateAllocated {
		return Subdomain{}, fmt.Errorf("subdomain %q is already allocated", name)
	}
	entry.State = StateAllocated
	entry.WebsiteID = &websiteID
	entry.ReservedByEmail = nil
	entry.ReservationExpiresAt = nil
	r.entries[name] = entry
	return entry, nil
}

func (r *memoryRepo) NameTaken(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return true, nil
	}
	return r.websiteNames[name], nil
}

func (r *memoryRepo) WebsiteSubdomainExists(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.websiteNames[name], nil
}

func (r *memoryRepo) Counts(_ context.Context) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var available int64
	for _, entry := range r.entries {
		if entry.State == StateAvailable {
			available++
		}
	}
	return int64(len(r.entries)), available, nil
}

func (r *memoryRepo) ReclaimExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reclaimed int64
	for name, entry := range r.entries {
		if entry.State != StateReserved {
			continue
		}
		if entry.ReservationExpiresAt != nil && !entry.ReservationExpiresAt.After(now) {
			entry.State = StateAvailable
			entry.ReservedByEmail = nil
			entry.ReservationExpiresAt = nil
			r.entries[name] = entry
			reclaimed++
		}
	}
	return reclaimed, nil
}

func newPoolService(repo Repository) *Service {
	return New(repo, zap.NewNop())
}

func TestReserveForEmailIsExclusive(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.addAvailable("sunny-harbor-42")
	svc := newPoolService(repo)

	first, err := svc.ReserveForEmail(context.Background(), "a@example.com", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "sunny-harbor-42", first.Name)
	require.Equal(t, StateReserved, first.State)
	require.NotNil(t, first.ReservationExpiresAt)

	// The single entry is taken; a second signup must not steal it.
	_, err = svc.ReserveForEmail(context.Background(), "b@example.com", 10*time.Minute)
	require.ErrorIs(t, err, ErrPoolExhausted)

	entry, found, err := repo.Get(context.Background(), "sunny-harbor-42")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, entry.ReservedByEmail)
	require.Equal(t, "a@example.com", *entry.ReservedByEmail)
}

func TestReserveForEmailReusesActiveReservation(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.addAvailable("sunny-harbor-42", "misty-grove-17")
	svc := newPoolService(repo)

	first, err := svc.ReserveForEmail(context.Background(), "a@example.com", 10*time.Minute)
	require.NoError(t, err)

	again, err := svc.ReserveForEmail(context.Background(), "a@example.com", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, first.Name, again.Name)

	// Only one of the two entries may be reserved.
	_, available, err := repo.Counts(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, available)
}

func TestReserveOnEmptyPoolGeneratesFresh(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	svc := newPoolService(repo)

	sub, err := svc.ReserveForEmail(context.Background(), "a@example.com", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, StateReserved, sub.State)
	require.Regexp(t, `^[a-z]+-[a-z]+-\d{2}$`, sub.Name)

	total, _, err := repo.Counts(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestReserveOnEmptyPoolWrapsInsertFailure(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.insertReservedErr = errors.New("connection refused")
	svc := newPoolService(repo)

	_, err := svc.ReserveForEmail(context.Background(), "a@example.com", 10*time.Minute)
	require.ErrorIs(t, err, ErrPoolEmpty)
}

func TestReclaimExpiredReturnsReservationsToPool(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.addAvailable("sunny-harbor-42")
	svc := newPoolService(repo)

	current := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	_, err := svc.ReserveForEmail(context.Background(), "a@example.com", 10*time.Minute)
	require.NoError(t, err)

	// Nothing lapses before the TTL runs out.
	reclaimed, err := svc.ReclaimExpired(context.Background())
	require.NoError(t, err)
	require.Zero(t, reclaimed)

	current = current.Add(11 * time.Minute)
	reclaimed, err = svc.ReclaimExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, reclaimed)

	// The lapsed entry is claimable by someone else now.
	sub, err := svc.ReserveForEmail(context.Background(), "b@example.com", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "sunny-harbor-42", sub.Name)
}

func TestValidateCustomName(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.addAvailable("misty-grove-17")
	repo.websiteNames["taken-already"] = true
	svc := newPoolService(repo)

	reserved, err := svc.ReserveForEmail(context.Background(), "holder@example.com", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "misty-grove-17", reserved.Name)

	cases := []struct {
		name      string
		input     string
		email     string
		valid     bool
		errSubstr string
	}{
		{"too short", "ab", "", false, "between 3 and 40 characters"},
		{"too long", "a-very-long-name-that-keeps-going-and-going-and-going", "", false, "between 3 and 40 characters"},
		{"bad characters", "My Agency!", "", false, "lowercase letters"},
		{"leading hyphen", "-agency", "", false, "start and end"},
		{"platform reserved", "admin", "", false, "reserved by the platform"},
		{"uppercase and whitespace are normalized", "  My-Agency  ", "", true, ""},
		{"website name taken", "taken-already", "", false, "already taken"},
		{"reserved by another signup", "misty-grove-17", "other@example.com", false, "reserved by another signup"},
		{"reserved by the same signup", "misty-grove-17", "holder@example.com", true, ""},
		{"free name", "my-agency", "", true, ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v, err := svc.ValidateCustomName(context.Background(), tc.input, tc.email)
			require.NoError(t, err)
			require.Equal(t, tc.valid, v.Valid)
			if tc.errSubstr != "" {
				require.NotEmpty(t, v.Errors)
				found := false
				for _, msg := range v.Errors {
					if strings.Contains(msg, tc.errSubstr) {
						found = true
					}
				}
				require.True(t, found, "expected an error containing %q, got %v", tc.errSubstr, v.Errors)
			}
		})
	}
}

func TestValidateAcceptsAllocatedAsTaken(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.addAvailable("sunny-harbor-42")
	svc := newPoolService(repo)

	_, err := svc.Allocate(context.Background(), "sunny-harbor-42", 7)
	require.NoError(t, err)

	v, err := svc.ValidateCustomName(context.Background(), "sunny-harbor-42", "")
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Contains(t, v.Errors, "is already taken")
}

func TestGeneratedNamesValidateCleanly(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	svc := newPoolService(repo)

	for i := 0; i < 20; i++ {
		name, err := svc.Generate(context.Background())
		require.NoError(t, err)

		v, err := svc.ValidateCustomName(context.Background(), name, "")
		require.NoError(t, err)
		require.True(t, v.Valid, "generated name %q failed validation: %v", name, v.Errors)
	}
}

func TestAllocateIsTerminal(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.addAvailable("sunny-harbor-42")
	svc := newPoolService(repo)

	sub, err := svc.Allocate(context.Background(), "sunny-harbor-42", 7)
	require.NoError(t, err)
	require.Equal(t, StateAllocated, sub.State)
	require.NotNil(t, sub.WebsiteID)
	require.EqualValues(t, 7, *sub.WebsiteID)

	_, err = svc.Allocate(context.Background(), "sunny-harbor-42", 8)
	require.Error(t, err)
}

func TestAllocateCustomNameOutsidePool(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	svc := newPoolService(repo)

	// A validated custom name never enters the pool before configuration;
	// allocation binds it anyway.
	sub, err := svc.Allocate(context.Background(), "my-agency", 7)
	require.NoError(t, err)
	require.Equal(t, StateAllocated, sub.State)
	require.NotNil(t, sub.WebsiteID)
	require.EqualValues(t, 7, *sub.WebsiteID)

	_, err = svc.Allocate(context.Background(), "my-agency", 8)
	require.Error(t, err)
}

func TestEnsurePoolMinimum(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	svc := newPoolService(repo)

	added, err := svc.EnsurePoolMinimum(context.Background(), 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, added)

	total, available, err := repo.Counts(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.EqualValues(t, 5, available)

	// Already at the minimum, a second run is a no-op.
	added, err = svc.EnsurePoolMinimum(context.Background(), 5)
	require.NoError(t, err)
	require.Zero(t, added)
}

func TestEnsurePoolMinimumSkipsDuplicateDraws(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	svc := newPoolService(repo)

	// The generator repeats itself within one batch; the run must still
	// insert the full shortfall of distinct names.
	draws := []string{"sunny-harbor-42", "sunny-harbor-42", "misty-grove-17", "sunny-harbor-42", "amber-bay-33"}
	var i int
	svc.randomName = func() string {
		name := draws[i%len(draws)]
		i++
		return name
	}

	added, err := svc.EnsurePoolMinimum(context.Background(), 3)
	require.NoError(t, err)
	require.EqualValues(t, 3, added)

	total, available, err := repo.Counts(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.EqualValues(t, 3, available)
}
