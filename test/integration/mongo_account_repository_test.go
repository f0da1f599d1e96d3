package integration

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
	"github.com/sandeepkv93/bmc-account-service/internal/repository"
)

func newMongoRepository(t *testing.T) (*repository.MongoAccountRepository, *mongoIntegrationEnv) {
	t.Helper()
	env := newMongoIntegrationEnv(t)
	repo := repository.NewMongoAccountRepository(env.database(), env.cfg.MongoCollection)
	if err := repo.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return repo, env
}

func insertAccount(t *testing.T, repo repository.AccountRepository, email, username string, status domain.AccountStatus) {
	t.Helper()
	err := repo.Insert(context.Background(), &domain.Account{
		Email:        email,
		Username:     username,
		PasswordHash: "salt$hash",
		Status:       status,
		MemberSince:  "2022-03-04 05:06:07 +0000",
	})
	if err != nil {
		t.Fatalf("insert %s: %v", email, err)
	}
}

func TestMongoAccountRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, env := newMongoRepository(t)
	insertAccount(t, repo, "alice@x.com", "alice", domain.AccountStatusActive)
	insertAccount(t, repo, "bob@x.com", "bob", domain.AccountStatusActive)

	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes twice: %v", err)
	}

	err := repo.Insert(ctx, &domain.Account{Email: "alice@x.com", Username: "other", Status: domain.AccountStatusActive})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate email, got %v", err)
	}
	err = repo.Insert(ctx, &domain.Account{Email: "other@x.com", Username: "bob", Status: domain.AccountStatusActive})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate username, got %v", err)
	}

	if err := repo.UpdateProfileFields(ctx, "alice@x.com", domain.ProfileUpdate{
		FullName:       "Alice A",
		Username:       "alice2",
		SupportType:    "coffee",
		OnlinePresence: map[string]string{"twitter": "@alice"},
	}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if err := repo.UpdateProfileFields(ctx, "alice@x.com", domain.ProfileUpdate{Username: "bob"}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected rename onto taken username to conflict, got %v", err)
	}
	if err := repo.UpdateWallets(ctx, "alice@x.com", domain.Wallets{"Eth": {"address": "0x1"}}); err != nil {
		t.Fatalf("update wallets: %v", err)
	}
	if err := repo.UpdateAvatar(ctx, "alice@x.com", "avatars/abc/1.png"); err != nil {
		t.Fatalf("update avatar: %v", err)
	}

	acc, err := repo.FindActiveByUsername(ctx, "alice2")
	if err != nil || acc == nil {
		t.Fatalf("find renamed account: %+v %v", acc, err)
	}
	if acc.FullName != "Alice A" || acc.Wallets["Eth"]["address"] != "0x1" || acc.Avatar != "avatars/abc/1.png" || acc.PasswordHash != "salt$hash" {
		t.Fatalf("unexpected account: %+v", acc)
	}

	var raw bson.M
	if err := env.database().Collection(env.cfg.MongoCollection).FindOne(ctx, bson.D{{Key: "email", Value: "alice@x.com"}}).Decode(&raw); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	for _, field := range []string{"password", "member_since", "is_email_verify", "wallet"} {
		if _, ok := raw[field]; !ok {
			t.Fatalf("expected stored field %q, got %v", field, raw)
		}
	}
}

func TestMongoAccountRepositoryHidesInactiveAccounts(t *testing.T) {
	ctx := context.Background()
	repo, _ := newMongoRepository(t)
	insertAccount(t, repo, "gone@x.com", "gone", domain.AccountStatusDeactivated)

	acc, err := repo.FindActiveByEmail(ctx, "gone@x.com")
	if err != nil || acc != nil {
		t.Fatalf("expected deactivated account hidden, got %+v %v", acc, err)
	}
	if err := repo.UpdateWallets(ctx, "gone@x.com", domain.Wallets{}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := repo.ExistsByUsername(ctx, "gone")
	if err != nil || !ok {
		t.Fatalf("expected username to stay reserved, ok=%v err=%v", ok, err)
	}
}
