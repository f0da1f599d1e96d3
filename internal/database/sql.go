package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sandeepkv93/bmc-account-service/internal/config"
	"github.com/sandeepkv93/bmc-account-service/internal/observability"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects the relational account store selected by ACCOUNT_STORE.
func Open(cfg *config.Config) (*gorm.DB, error) {
	start := time.Now()
	var dialector gorm.Dialector
	switch cfg.AccountStore {
	case config.AccountStorePostgres:
		dialector = postgres.Open(cfg.DatabaseURL)
	case config.AccountStoreSQLite:
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("account store %q is not relational", cfg.AccountStore)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	observability.RecordDatabaseStartupDuration(context.Background(), "connect", time.Since(start))
	if err != nil {
		observability.RecordDatabaseStartupEvent(context.Background(), "connect", "error")
		return nil, fmt.Errorf("open %s: %w", cfg.AccountStore, err)
	}
	observability.RecordDatabaseStartupEvent(context.Background(), "connect", "success")
	return db, nil
}
