package poolcmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/repo"
	"github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/service"
	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// Command groups subdomain pool upkeep helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Subdomain pool utilities (replenish/reclaim/stats)",
	}

	cmd.AddCommand(replenishCommand())
	cmd.AddCommand(reclaimCommand())
	cmd.AddCommand(statsCommand())
	return cmd
}

func replenishCommand() *cobra.Command {
	var (
		databaseURL string
		minimum     int64
	)

	c := &cobra.Command{
		Use:   "replenish",
		Short: "Generate available subdomains until the pool holds at least --min entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPoolService(databaseURL, func(ctx context.Context, svc *service.Service) error {
				added, err := svc.EnsurePoolMinimum(ctx, minimum)
				if err != nil {
					return fmt.Errorf("replenish pool: %w", err)
				}
				fmt.Printf("added %d subdomains\n", added)
				return nil
			})
		},
	}

	bindDatabaseURL(c, &databaseURL)
	c.Flags().Int64Var(&minimum, "min", 25, "minimum number of available pool entries")
	return c
}

func reclaimCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "reclaim",
		Short: "Return expired reservations to the available state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPoolService(databaseURL, func(ctx context.Context, svc *service.Service) error {
				reclaimed, err := svc.ReclaimExpired(ctx)
				if err != nil {
					return fmt.Errorf("reclaim reservations: %w", err)
				}
				fmt.Printf("reclaimed %d reservations\n", reclaimed)
				return nil
			})
		},
	}

	bindDatabaseURL(c, &databaseURL)
	return c
}

func statsCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "stats",
		Short: "Print pool occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPoolService(databaseURL, func(ctx context.Context, svc *service.Service) error {
				stats, err := svc.PoolStats(ctx)
				if err != nil {
					return fmt.Errorf("read pool stats: %w", err)
				}
				fmt.Printf("total=%d available=%d\n", stats.Total, stats.Available)
				return nil
			})
		},
	}

	bindDatabaseURL(c, &databaseURL)
	return c
}

func bindDatabaseURL(c *cobra.Command, target *string) {
	c.Flags().StringVar(target, "admin-database-url", os.Getenv("ADMIN_DATABASE_URL"),
		"control-plane database URL (defaults to ADMIN_DATABASE_URL)")
}

func withPoolService(databaseURL string, fn func(ctx context.Context, svc *service.Service) error) error {
	if databaseURL == "" {
		return fmt.Errorf("--admin-database-url or ADMIN_DATABASE_URL is required")
	}

	ctx := context.Background()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return fmt.Errorf("init pool: %w", err)
	}
	defer persistence.ClosePool(pool)

	if err := persistence.ApplyControlPlaneDDL(ctx, pool); err != nil {
		return fmt.Errorf("apply control-plane schema: %w", err)
	}

	svc := service.New(repo.NewPostgresRepository(pool), zap.NewNop())
	return fn(ctx, svc)
}
