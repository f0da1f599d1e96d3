package loadgen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/bmc-account-service/internal/tools/common"
	"github.com/sandeepkv93/bmc-account-service/internal/tools/ui"
)

// Profiles lists the traffic mixes accepted by --profile.
var Profiles = []string{"public", "auth", "mixed", "error-heavy"}

var profileSummaries = map[string]string{
	"public":      "anonymous profile, wallet and availability lookups",
	"auth":        "alternating good and bad logins for the seeded creator",
	"mixed":       "public lookups plus login and an authenticated wallet update",
	"error-heavy": "unknown users, missing params and unauthenticated writes",
}

type options struct {
	cfg Config
	ci  bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "loadgen", Short: "Generate account API traffic for observability validation"}
	f := cmd.PersistentFlags()
	f.StringVar(&opts.cfg.BaseURL, "base-url", "http://localhost:8000", "API base URL")
	f.StringVar(&opts.cfg.Profile, "profile", "mixed", "traffic profile, see `loadgen profiles`")
	f.DurationVar(&opts.cfg.Duration, "duration", 15*time.Second, "traffic duration")
	f.IntVar(&opts.cfg.RPS, "rps", 20, "requests per second")
	f.IntVar(&opts.cfg.Concurrency, "concurrency", 6, "concurrent workers")
	f.Int64Var(&opts.cfg.Seed, "seed", 42, "random seed")
	f.StringVar(&opts.cfg.Username, "username", "creator1", "seeded creator used for authenticated traffic")
	f.StringVar(&opts.cfg.Password, "password", "Creator123!", "password for --username")
	f.BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts), newProfilesCommand())
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run load generation",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validate(opts.cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "loadgen run", func(ctx context.Context) ([]string, error) {
				res, err := Run(ctx, opts.cfg)
				if err != nil {
					return nil, err
				}
				return summarize(opts.cfg, res), nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "loadgen run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func newProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List traffic profiles",
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range Profiles {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", p, profileSummaries[p])
			}
		},
	}
}

func validate(cfg Config) error {
	var errs []error
	if cfg.RPS <= 0 {
		errs = append(errs, errors.New("--rps must be > 0"))
	}
	if cfg.Concurrency <= 0 {
		errs = append(errs, errors.New("--concurrency must be > 0"))
	}
	if cfg.Duration <= 0 {
		errs = append(errs, errors.New("--duration must be > 0"))
	}
	if _, ok := profileSummaries[cfg.Profile]; !ok {
		errs = append(errs, fmt.Errorf("--profile %q is not one of %v", cfg.Profile, Profiles))
	}
	return errors.Join(errs...)
}

func summarize(cfg Config, res Result) []string {
	return []string{
		"profile=" + cfg.Profile,
		fmt.Sprintf("total_requests=%d", res.TotalRequests),
		fmt.Sprintf("failures=%d", res.Failures),
		fmt.Sprintf("status_2xx=%d", res.Status2xx),
		fmt.Sprintf("status_4xx=%d", res.Status4xx),
		fmt.Sprintf("status_5xx=%d", res.Status5xx),
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	fn = common.Observe("loadgen", title, fn)
	timeout := opts.cfg.Duration + 15*time.Second
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.RunWithTimeout(title, timeout, fn)
}
