// Package cli implements fulfillmentctl, the operator command line for the fulfillment API.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopsite/fulfillment/internal/di"
	"github.com/shopsite/fulfillment/internal/platform/config"
	"github.com/shopsite/fulfillment/internal/platform/observability"
	"github.com/shopsite/fulfillment/internal/platform/secrets"
)

var (
	version = "dev"
	commit  = "none"
)

type app struct {
	envFile  string
	logLevel string

	loadConfig       func(ctx context.Context, envFile string, logger *zap.Logger) (config.Config, error)
	environment      func(envFile string) (map[string]string, error)
	containerOptions []di.Option
	logger           *zap.Logger
}

func newApp() *app {
	return &app{
		loadConfig:  loadConfig,
		environment: environmentValues,
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fulfillmentctl",
		Short:         "Operate the order fulfillment service",
		Long:          "fulfillmentctl runs schema migrations, seeds fixtures, prints sales reports and issues development tokens.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.logger != nil {
				return nil
			}
			logger, err := observability.NewLogger(observability.LoggerOptions{Level: a.logLevel, Development: true})
			if err != nil {
				return fmt.Errorf("initialise logger: %w", err)
			}
			a.logger = logger.Named("fulfillmentctl")
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file merged under the process environment")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newSeedCmd(a))
	cmd.AddCommand(newReportCmd(a))
	cmd.AddCommand(newTokenCmd(a))
	return cmd
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return newRootCmd(newApp()).Execute()
}

func (a *app) config(ctx context.Context) (config.Config, error) {
	return a.loadConfig(ctx, a.envFile, a.logger)
}

func (a *app) container(ctx context.Context, cfg config.Config) (*di.Container, error) {
	opts := append([]di.Option{di.WithLogger(a.logger)}, a.containerOptions...)
	return di.NewContainer(ctx, cfg, opts...)
}

func environmentValues(envFile string) (map[string]string, error) {
	return config.EnvironmentValues(config.WithEnvFile(envFile))
}

// loadConfig resolves secret references the same way the API does, then drops the
// Secret Manager client since every value is already materialised.
func loadConfig(ctx context.Context, envFile string, logger *zap.Logger) (config.Config, error) {
	env, err := environmentValues(envFile)
	if err != nil {
		return config.Config{}, err
	}

	opts := []secrets.Option{secrets.WithLogger(logger)}
	project := strings.TrimSpace(env["FULFILLMENT_SECRET_PROJECT_ID"])
	if project == "" {
		project = strings.TrimSpace(env["FULFILLMENT_FIREBASE_PROJECT_ID"])
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := strings.TrimSpace(env["FULFILLMENT_SECRET_FALLBACK_FILE"]); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	fetcher, err := secrets.NewFetcher(ctx, opts...)
	if err != nil {
		return config.Config{}, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer fetcher.Close()

	return config.Load(ctx,
		config.WithEnvFile(envFile),
		config.WithSecretResolver(fetcher),
	)
}
