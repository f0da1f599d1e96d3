package common

import (
	"context"
	"time"

	"github.com/sandeepkv93/bmc-account-service/internal/observability"
)

// Observe wraps a tool action so every invocation records its outcome and duration.
func Observe(tool, command string, fn func(context.Context) ([]string, error)) func(context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		start := time.Now()
		details, err := fn(ctx)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		observability.RecordToolCommandRun(ctx, tool, command, outcome)
		observability.RecordToolCommandDuration(ctx, tool, command, outcome, time.Since(start))
		return details, err
	}
}
