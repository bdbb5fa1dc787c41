package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/shopsite/fulfillment/internal/platform/config"
	"github.com/shopsite/fulfillment/internal/platform/observability"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories/postgres"
)

var errMigrateNeedsPostgres = errors.New("migrate: database driver must be postgres")

// migrator is the subset of postgres.Migrator the commands drive.
type migrator interface {
	Up(ctx context.Context) ([]*goose.MigrationResult, error)
	Down(ctx context.Context) (*goose.MigrationResult, error)
	Status(ctx context.Context) ([]*goose.MigrationStatus, error)
	Close() error
}

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the embedded Postgres schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: a.withMigrator(func(cmd *cobra.Command, m migrator) error {
			results, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, result := range results {
				printResult(cmd.OutOrStdout(), result)
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: a.withMigrator(func(cmd *cobra.Command, m migrator) error {
			result, err := m.Down(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: a.withMigrator(func(cmd *cobra.Command, m migrator) error {
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderMigrationStatus(statuses))
			return nil
		}),
	})
	return cmd
}

func (a *app) withMigrator(run func(cmd *cobra.Command, m migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := a.config(ctx)
		if err != nil {
			return err
		}
		if cfg.Database.Driver != config.DriverPostgres {
			return errMigrateNeedsPostgres
		}

		provider := pgplatform.NewProvider(cfg.Database)
		defer provider.Close(context.WithoutCancel(ctx))

		m, err := postgres.NewMigrator(ctx, provider, goose.WithLogger(observability.NewGooseLogger(a.logger)))
		if err != nil {
			return fmt.Errorf("open migrator: %w", err)
		}
		defer m.Close()
		return run(cmd, m)
	}
}

func printResult(w io.Writer, result *goose.MigrationResult) {
	if result == nil || result.Source == nil {
		return
	}
	fmt.Fprintf(w, "%-4s %05d %s (%s)\n", result.Direction, result.Source.Version, result.Source.Path, result.Duration.Round(time.Millisecond))
}
