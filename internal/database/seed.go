package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
	"github.com/sandeepkv93/bmc-account-service/internal/observability"
	"github.com/sandeepkv93/bmc-account-service/internal/repository"
	"github.com/sandeepkv93/bmc-account-service/internal/security"
)

type SeedAccount struct {
	Email    string
	Username string
	Password string
	FullName string
}

type SeedReport struct {
	Created int  `json:"created"`
	Skipped int  `json:"skipped"`
	Noop    bool `json:"noop"`
}

// DefaultSeedAccounts are the demo creators used by local environments and the load generator.
var DefaultSeedAccounts = []SeedAccount{
	{Email: "creator1@example.com", Username: "creator1", Password: "Creator123!", FullName: "Demo Creator One"},
	{Email: "creator2@example.com", Username: "creator2", Password: "Creator123!", FullName: "Demo Creator Two"},
}

// SeedAccounts inserts every account whose email is not yet taken. Reruns are no-ops.
func SeedAccounts(ctx context.Context, repo repository.AccountRepository, hasher *security.PasswordHasher, accounts []SeedAccount) (*SeedReport, error) {
	start := time.Now()
	defer func() {
		observability.RecordDatabaseStartupDuration(ctx, "seed", time.Since(start))
	}()

	report := &SeedReport{}
	for _, a := range accounts {
		email := strings.TrimSpace(strings.ToLower(a.Email))
		if !domain.ValidUsername(a.Username) {
			observability.RecordDatabaseStartupEvent(ctx, "seed", "error")
			return nil, fmt.Errorf("seed %s: invalid username %q", email, a.Username)
		}
		exists, err := repo.ExistsByEmail(ctx, email)
		if err != nil {
			observability.RecordDatabaseStartupEvent(ctx, "seed", "error")
			return nil, fmt.Errorf("seed %s: %w", email, err)
		}
		if exists {
			report.Skipped++
			continue
		}
		hash, err := hasher.Hash(a.Password)
		if err != nil {
			observability.RecordDatabaseStartupEvent(ctx, "seed", "error")
			return nil, fmt.Errorf("seed %s: %w", email, err)
		}
		token, err := security.URLSafeToken()
		if err != nil {
			observability.RecordDatabaseStartupEvent(ctx, "seed", "error")
			return nil, fmt.Errorf("seed %s: %w", email, err)
		}
		acc := &domain.Account{
			Email:            email,
			Username:         a.Username,
			PasswordHash:     hash,
			Status:           domain.AccountStatusActive,
			MemberSince:      domain.NewMemberSince(time.Now()),
			EmailVerifyToken: token,
			FullName:         a.FullName,
		}
		if err := repo.Insert(ctx, acc); err != nil {
			observability.RecordDatabaseStartupEvent(ctx, "seed", "error")
			return nil, fmt.Errorf("seed %s: %w", email, err)
		}
		report.Created++
	}

	report.Noop = report.Created == 0
	observability.RecordDatabaseStartupEvent(ctx, "seed", "success")
	return report, nil
}
