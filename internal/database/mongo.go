package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sandeepkv93/bmc-account-service/internal/config"
	"github.com/sandeepkv93/bmc-account-service/internal/observability"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// OpenMongo builds the shared client with the configured pool bounds and pings the primary.
func OpenMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	start := time.Now()
	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMinPoolSize(cfg.MongoMinPoolSize).
		SetMaxPoolSize(cfg.MongoMaxPoolSize).
		SetMaxConnIdleTime(cfg.MongoMaxConnIdleTime).
		SetConnectTimeout(cfg.MongoConnectTimeout).
		SetServerSelectionTimeout(cfg.MongoConnectTimeout).
		SetAppName(cfg.OTELServiceName)

	client, err := mongo.Connect(opts)
	if err != nil {
		observability.RecordDatabaseStartupEvent(ctx, "connect", "error")
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.MongoConnectTimeout)
	defer cancel()
	err = client.Ping(pingCtx, readpref.Primary())
	observability.RecordDatabaseStartupDuration(ctx, "connect", time.Since(start))
	if err != nil {
		_ = client.Disconnect(context.Background())
		observability.RecordDatabaseStartupEvent(ctx, "connect", "error")
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	observability.RecordDatabaseStartupEvent(ctx, "connect", "success")
	return client, nil
}
