package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClaimAvailableIsExclusive(t *testing.T) {
	t.Parallel()

	pool := mustControlPlanePool(t)
	ctx := context.Background()
	store := NewSubdomainStore()

	_, err := store.InsertAvailable(ctx, pool, []string{"sunny-harbor-42"})
	require.NoError(t, err)

	// Many concurrent signups race for the single entry; exactly one wins.
	const claimers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		won    []string
		misses int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := fmt.Sprintf("claimer-%d@example.com", i)
			rec, err := store.ClaimAvailable(ctx, pool, email, time.Now().Add(10*time.Minute))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won = append(won, *rec.ReservedByEmail)
				return
			}
			if errors.Is(err, ErrNoAvailableSubdomain) {
				misses++
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, won, 1)
	require.Equal(t, claimers-1, misses)

	rec, err := store.GetByName(ctx, pool, "sunny-harbor-42")
	require.NoError(t, err)
	require.Equal(t, SubdomainReserved, rec.State)
	require.Equal(t, won[0], *rec.ReservedByEmail)
}

func TestReclaimExpiredRestoresAvailability(t *testing.T) {
	t.Parallel()

	pool := mustControlPlanePool(t)
	ctx := context.Background()
	store := NewSubdomainStore()

	_, err := store.InsertAvailable(ctx, pool, []string{"misty-grove-17"})
	require.NoError(t, err)

	_, err = store.ClaimAvailable(ctx, pool, "a@example.com", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	// The reservation is already past its expiry; the active lookup skips it.
	_, err = store.ActiveReservation(ctx, pool, "a@example.com", time.Now())
	require.ErrorIs(t, err, ErrNotFound)

	reclaimed, err := store.ReclaimExpired(ctx, pool, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, reclaimed)

	rec, err := store.GetByName(ctx, pool, "misty-grove-17")
	require.NoError(t, err)
	require.Equal(t, SubdomainAvailable, rec.State)
	require.Nil(t, rec.ReservedByEmail)
	require.Nil(t, rec.ReservationExpiresAt)
}

func TestAllocateIsTerminal(t *testing.T) {
	t.Parallel()

	pool := mustControlPlanePool(t)
	ctx := context.Background()
	subdomains := NewSubdomainStore()
	websites := NewWebsiteStore()

	site, err := websites.Create(ctx, pool, WebsiteRecord{
		Subdomain:         "sunny-harbor-42",
		ShardName:         "shard1",
		SiteType:          "agency",
		ProvisioningState: "pending",
		SeedPackName:      "default",
		OwnerEmail:        "owner@example.com",
	})
	require.NoError(t, err)

	_, err = subdomains.InsertReserved(ctx, pool, "sunny-harbor-42", "owner@example.com", time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	rec, err := subdomains.Allocate(ctx, pool, "sunny-harbor-42", site.ID)
	require.NoError(t, err)
	require.Equal(t, SubdomainAllocated, rec.State)
	require.NotNil(t, rec.WebsiteID)
	require.Equal(t, site.ID, *rec.WebsiteID)
	require.Nil(t, rec.ReservationExpiresAt)

	_, err = subdomains.Allocate(ctx, pool, "sunny-harbor-42", site.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "allocated")
}

func TestAllocateInsertsUnpooledCustomName(t *testing.T) {
	t.Parallel()

	pool := mustControlPlanePool(t)
	ctx := context.Background()
	subdomains := NewSubdomainStore()
	websites := NewWebsiteStore()

	site, err := websites.Create(ctx, pool, WebsiteRecord{
		Subdomain:         "my-custom-agency",
		ShardName:         "shard1",
		SiteType:          "agency",
		ProvisioningState: "pending",
		SeedPackName:      "default",
		OwnerEmail:        "owner@example.com",
	})
	require.NoError(t, err)

	// A user-chosen name that passed validation has no pool row; allocation
	// must create one rather than report it missing.
	rec, err := subdomains.Allocate(ctx, pool, "my-custom-agency", site.ID)
	require.NoError(t, err)
	require.Equal(t, SubdomainAllocated, rec.State)
	require.NotNil(t, rec.WebsiteID)
	require.Equal(t, site.ID, *rec.WebsiteID)

	taken, err := subdomains.NameTaken(ctx, pool, "my-custom-agency")
	require.NoError(t, err)
	require.True(t, taken)

	_, err = subdomains.Allocate(ctx, pool, "my-custom-agency", site.ID+1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "allocated")
}

func TestNameTakenCoversPoolAndWebsites(t *testing.T) {
	t.Parallel()

	pool := mustControlPlanePool(t)
	ctx := context.Background()
	subdomains := NewSubdomainStore()
	websites := NewWebsiteStore()

	_, err := subdomains.InsertAvailable(ctx, pool, []string{"pool-name"})
	require.NoError(t, err)
	_, err = websites.Create(ctx, pool, WebsiteRecord{
		Subdomain:         "site-name",
		ShardName:         "shard1",
		SiteType:          "agency",
		ProvisioningState: "pending",
		SeedPackName:      "default",
		OwnerEmail:        "owner@example.com",
	})
	require.NoError(t, err)

	for name, want := range map[string]bool{
		"pool-name": true,
		"site-name": true,
		"free-name": false,
	} {
		taken, err := subdomains.NameTaken(ctx, pool, name)
		require.NoError(t, err)
		require.Equal(t, want, taken, "name %q", name)
	}
}

func TestInsertAvailableSkipsExistingNames(t *testing.T) {
	t.Parallel()

	pool := mustControlPlanePool(t)
	ctx := context.Background()
	store := NewSubdomainStore()

	inserted, err := store.InsertAvailable(ctx, pool, []string{"one", "two"})
	require.NoError(t, err)
	require.EqualValues(t, 2, inserted)

	inserted, err = store.InsertAvailable(ctx, pool, []string{"two", "three"})
	require.NoError(t, err)
	require.EqualValues(t, 1, inserted)

	total, available, err := store.Counts(ctx, pool)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.EqualValues(t, 3, available)
}
