package migrate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/bmc-account-service/internal/config"
	"github.com/sandeepkv93/bmc-account-service/internal/di"
	"github.com/sandeepkv93/bmc-account-service/internal/tools/common"
	"github.com/sandeepkv93/bmc-account-service/internal/tools/ui"
)

type options struct {
	envFile string
	timeout time.Duration
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Account store schema tooling",
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")

	cmd.AddCommand(
		newUpCommand(opts),
		newStatusCommand(opts),
		newPlanCommand(opts),
	)
	return cmd
}

func newUpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Create tables or indexes for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "migrate up", func(ctx context.Context) ([]string, error) {
				runner, err := openRunner(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer func() { _ = runner.Close(context.Background()) }()

				if _, err := runner.Run(ctx, false); err != nil {
					return nil, err
				}
				return []string{"schema applied", "store: " + runner.Store()}, nil
			})
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the configured store is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "migrate status", func(ctx context.Context) ([]string, error) {
				runner, err := openRunner(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer func() { _ = runner.Close(context.Background()) }()
				if err := runner.Ping(ctx); err != nil {
					return nil, fmt.Errorf("%s ping: %w", runner.Store(), err)
				}
				return []string{"store reachable", "store: " + runner.Store()}, nil
			})
		},
	}
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what up would change (dry-run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "migrate plan", func(ctx context.Context) ([]string, error) {
				if err := common.LoadEnvFile(opts.envFile); err != nil {
					return nil, err
				}
				cfg, err := config.Load()
				if err != nil {
					return nil, err
				}
				return planFor(cfg), nil
			})
		},
	}
}

func planFor(cfg *config.Config) []string {
	if cfg.AccountStore == config.AccountStoreMongo {
		return []string{
			fmt.Sprintf("would ensure unique indexes on %s.%s: email, username", cfg.MongoDatabase, cfg.MongoCollection),
			"no mutation executed in plan mode",
		}
	}
	return []string{
		"would AutoMigrate table accounts on " + cfg.AccountStore,
		"unique columns: email, username",
		"no mutation executed in plan mode",
	}
}

func execute(opts *options, title string, fn func(context.Context) ([]string, error)) error {
	details, err := run(opts, title, fn)
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
	}
	if err != nil {
		os.Exit(3)
	}
	return nil
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	fn = common.Observe("migrate", title, fn)
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func openRunner(envFile string) (*di.MigrationRunner, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	return di.InitializeMigrationRunner()
}
