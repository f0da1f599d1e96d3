package repository

//go:generate mockgen -source=account_repository.go -destination=gomock/account_repository_mock.go -package=gomock

import (
	"context"
	"errors"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
	"github.com/sandeepkv93/bmc-account-service/internal/observability"
)

var (
	ErrConflict         = errors.New("account already exists")
	ErrNotFound         = errors.New("active account not found")
	ErrStoreUnavailable = errors.New("account store unavailable")
)

// AccountRepository is the account document store. Find* return (nil, nil) when no
// ACTIVE account matches; Update* return ErrNotFound in that case.
type AccountRepository interface {
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindActiveByUsername(ctx context.Context, username string) (*domain.Account, error)
	FindActiveByEmail(ctx context.Context, email string) (*domain.Account, error)
	Insert(ctx context.Context, account *domain.Account) error
	UpdateProfileFields(ctx context.Context, email string, update domain.ProfileUpdate) error
	UpdateWallets(ctx context.Context, email string, wallets domain.Wallets) error
	UpdateAvatar(ctx context.Context, email, avatar string) error
}

func recordOperation(ctx context.Context, store, operation string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		outcome = "conflict"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	observability.RecordRepositoryOperation(ctx, store, operation, outcome)
}
