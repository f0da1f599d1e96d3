package database

import (
	"context"
	"time"

	"github.com/sandeepkv93/bmc-account-service/internal/observability"
	"github.com/sandeepkv93/bmc-account-service/internal/repository"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	start := time.Now()
	err := db.AutoMigrate(&repository.AccountRecord{})
	observability.RecordDatabaseStartupDuration(context.Background(), "migrate", time.Since(start))
	if err != nil {
		observability.RecordDatabaseStartupEvent(context.Background(), "migrate", "error")
		return err
	}
	observability.RecordDatabaseStartupEvent(context.Background(), "migrate", "success")
	return nil
}
