package seed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/bmc-account-service/internal/database"
	"github.com/sandeepkv93/bmc-account-service/internal/di"
	"github.com/sandeepkv93/bmc-account-service/internal/domain"
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
	cmd := &cobra.Command{Use: "seed", Short: "Demo creator seed tooling"}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newApplyCommand(opts), newDryRunCommand(opts))
	return cmd
}

func newApplyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply schema and insert the demo creators",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "seed apply", func(ctx context.Context) ([]string, error) {
				if err := common.LoadEnvFile(opts.envFile); err != nil {
					return nil, err
				}
				runner, err := di.InitializeMigrationRunner()
				if err != nil {
					return nil, err
				}
				defer func() { _ = runner.Close(context.Background()) }()

				report, err := runner.Run(ctx, true)
				if err != nil {
					return nil, err
				}
				return reportDetails(runner.Store(), report), nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "seed apply", details, err)
			}
			if err != nil {
				os.Exit(3)
			}
			return nil
		},
	}
}

func newDryRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run",
		Short: "Show what seeding would do",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "seed dry-run", func(ctx context.Context) ([]string, error) {
				return planDetails(database.DefaultSeedAccounts)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "seed dry-run", details, err)
			}
			if err != nil {
				os.Exit(3)
			}
			return nil
		},
	}
}

func planDetails(accounts []database.SeedAccount) ([]string, error) {
	details := make([]string, 0, len(accounts)+1)
	for _, a := range accounts {
		if !domain.ValidUsername(a.Username) {
			return nil, fmt.Errorf("seed account %s has invalid username %q", a.Email, a.Username)
		}
		details = append(details, fmt.Sprintf("would create %s (%s) unless the email exists", strings.ToLower(a.Email), a.Username))
	}
	details = append(details, "existing accounts are never modified")
	return details, nil
}

func reportDetails(store string, report *database.SeedReport) []string {
	details := []string{
		"store: " + store,
		fmt.Sprintf("created=%d", report.Created),
		fmt.Sprintf("skipped=%d", report.Skipped),
	}
	if report.Noop {
		details = append(details, "no changes: every demo creator already exists")
	}
	return details
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	fn = common.Observe("seed", title, fn)
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.RunWithTimeout(title, opts.timeout, fn)
}
