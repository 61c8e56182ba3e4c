package shardcmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/domains/sharding/be/service"
	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

// shardEnv carries the connection settings shared by every shard subcommand.
type shardEnv struct {
	AdminDatabaseURL string            `env:"ADMIN_DATABASE_URL,required"`
	ShardDSNs        map[string]string `env:"SHARD_DATABASE_URLS,required" envSeparator:"," envKeyValSeparator:"="`
}

// Command groups shard operations.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shard",
		Short: "Shard utilities (check/distribution/migrate)",
	}

	cmd.AddCommand(checkCommand())
	cmd.AddCommand(distributionCommand())
	cmd.AddCommand(migrateCommand())
	return cmd
}

func checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe every configured shard and print health metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShardDeps(func(ctx context.Context, deps shardDeps) error {
				for _, h := range deps.health.CheckAll(ctx) {
					if !h.Connectable {
						fmt.Printf("%-12s DOWN   %s\n", h.Shard, h.Error)
						continue
					}
					fmt.Printf("%-12s OK     latency=%s size=%dB connections=%d\n",
						h.Shard, h.Latency.Round(time.Microsecond), h.SizeBytes, h.Connections)
				}
				return nil
			})
		},
	}
}

func distributionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "distribution",
		Short: "Print tenant counts and percentages per shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShardDeps(func(ctx context.Context, deps shardDeps) error {
				loads, err := deps.svc.Distribution(ctx)
				if err != nil {
					return fmt.Errorf("read distribution: %w", err)
				}
				for _, load := range loads {
					fmt.Printf("%-12s %6d websites  %5.1f%%\n", load.Shard, load.Websites, load.Percent)
				}
				return nil
			})
		},
	}
}

func migrateCommand() *cobra.Command {
	var (
		websiteID int64
		target    string
		batchSize int
		dryRun    bool
		changedBy string
		notes     string
	)

	c := &cobra.Command{
		Use:   "migrate",
		Short: "Relocate one website's rows to another shard and repoint its routing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if websiteID <= 0 {
				return fmt.Errorf("--website is required")
			}
			if target == "" {
				return fmt.Errorf("--to is required")
			}

			return withShardDeps(func(ctx context.Context, deps shardDeps) error {
				var notesPtr *string
				if notes != "" {
					notesPtr = &notes
				}

				report, err := deps.migrator.Migrate(ctx, websiteID, target, service.MigrateOptions{
					BatchSize: batchSize,
					DryRun:    dryRun,
					ChangedBy: changedBy,
					Notes:     notesPtr,
				})
				if err != nil {
					return err
				}

				verb := "migrated"
				if report.DryRun {
					verb = "would migrate"
				}
				fmt.Printf("%s website %d from %s to %s\n", verb, report.WebsiteID, report.FromShard, report.ToShard)
				for _, tbl := range report.Tables {
					fmt.Printf("  %-20s %6d rows", tbl.Table, tbl.Rows)
					if !report.DryRun {
						fmt.Printf("  %d batches", tbl.Batches)
					}
					fmt.Println()
				}
				return nil
			})
		},
	}

	c.Flags().Int64Var(&websiteID, "website", 0, "website id to migrate")
	c.Flags().StringVar(&target, "to", "", "target shard name")
	c.Flags().IntVar(&batchSize, "batch-size", service.DefaultBatchSize, "rows moved per batch")
	c.Flags().BoolVar(&dryRun, "dry-run", false, "validate and report without moving data")
	c.Flags().StringVar(&changedBy, "changed-by", defaultChangedBy(), "operator recorded on the audit row")
	c.Flags().StringVar(&notes, "notes", "", "free-form note recorded on the audit row")
	return c
}

type shardDeps struct {
	svc      *service.Service
	health   *service.HealthChecker
	migrator *service.Migrator
}

func withShardDeps(fn func(ctx context.Context, deps shardDeps) error) error {
	var cfg shardEnv
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	admin, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.AdminDatabaseURL})
	if err != nil {
		return fmt.Errorf("init admin pool: %w", err)
	}
	defer persistence.ClosePool(admin)

	shards, err := persistence.NewShardRegistry(ctx, cfg.ShardDSNs)
	if err != nil {
		return fmt.Errorf("init shard registry: %w", err)
	}
	defer shards.Close()

	logger := zap.NewNop()
	health := service.NewHealthChecker(shards, logger)

	return fn(ctx, shardDeps{
		svc:      service.New(admin, shards, health, logger),
		health:   health,
		migrator: service.NewMigrator(admin, shards, logger),
	})
}

func defaultChangedBy() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "cli"
}
