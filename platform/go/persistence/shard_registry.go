package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ShardRegistry maps logical shard names to their connection pools. It is the
// single source of truth for "is shard X configured"; every shard-aware
// component (health checks, the migrator, seeding) resolves pools through it.
//
// The mapping is static after construction; only pool lifecycle is managed at
// runtime. Reads take an RLock so concurrent signups and migrations never
// contend on registry lookups.
type ShardRegistry struct {
	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
}

// ShardNotConfiguredError is returned when a logical shard name has no DSN.
type ShardNotConfiguredError struct {
	Shard string
}

func (e *ShardNotConfiguredError) Error() string {
	return fmt.Sprintf("shard %q is not configured", e.Shard)
}

// NewShardRegistry opens a pool per configured shard DSN and verifies
// connectivity eagerly. On any failure all already-opened pools are closed.
func NewShardRegistry(ctx context.Context, dsns map[string]string) (*ShardRegistry, error) {
	if len(dsns) == 0 {
		return nil, fmt.Errorf("at least one shard must be configured")
	}

	pools := make(map[string]*pgxpool.Pool, len(dsns))
	for name, dsn := range dsns {
		pool, err := NewPool(ctx, PoolConfig{ConnString: dsn})
		if err != nil {
			for _, p := range pools {
				p.Close()
			}
			return nil, fmt.Errorf("open shard %q: %w", name, err)
		}
		pools[name] = pool
	}

	return &ShardRegistry{pools: pools}, nil
}

// NewShardRegistryFromPools wraps pre-built pools; used by tests and by the
// CLI where pools are constructed lazily.
func NewShardRegistryFromPools(pools map[string]*pgxpool.Pool) *ShardRegistry {
	copied := make(map[string]*pgxpool.Pool, len(pools))
	for name, pool := range pools {
		copied[name] = pool
	}
	return &ShardRegistry{pools: copied}
}

// Pool resolves the pool for a logical shard name.
func (r *ShardRegistry) Pool(name string) (*pgxpool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, ok := r.pools[name]
	if !ok {
		return nil, &ShardNotConfiguredError{Shard: name}
	}
	return pool, nil
}

// IsConfigured reports whether the logical shard name is known.
func (r *ShardRegistry) IsConfigured(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pools[name]
	return ok
}

// Names returns the configured shard names in stable order.
func (r *ShardRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down every shard pool.
func (r *ShardRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pool := range r.pools {
		pool.Close()
	}
	r.pools = map[string]*pgxpool.Pool{}
}
