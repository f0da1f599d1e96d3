package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/sandeepkv93/bmc-account-service/internal/config"
	"github.com/sandeepkv93/bmc-account-service/internal/database"
)

const defaultMongoTestImage = "docker.io/library/mongo:7.0"

type mongoIntegrationEnv struct {
	cfg    *config.Config
	client *mongo.Client
}

func newMongoIntegrationEnv(t *testing.T) *mongoIntegrationEnv {
	t.Helper()
	skipWithoutContainers(t)

	ctx := context.Background()
	image := os.Getenv("MONGO_TEST_IMAGE")
	if strings.TrimSpace(image) == "" {
		image = defaultMongoTestImage
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Waiting for connections"),
				wait.ForListeningPort("27017/tcp"),
			).WithStartupTimeoutDefault(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mongo test container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	cfg := &config.Config{
		AccountStore:         config.AccountStoreMongo,
		MongoURI:             "mongodb://" + containerEndpoint(t, container, "27017/tcp"),
		MongoDatabase:        fmt.Sprintf("bmc_it_%d", time.Now().UnixNano()),
		MongoCollection:      "users",
		MongoMinPoolSize:     1,
		MongoMaxPoolSize:     10,
		MongoMaxConnIdleTime: 5 * time.Second,
		MongoConnectTimeout:  15 * time.Second,
		OTELServiceName:      "bmc-account-service-it",
	}
	client, err := database.OpenMongo(ctx, cfg)
	if err != nil {
		t.Fatalf("open mongo: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return &mongoIntegrationEnv{cfg: cfg, client: client}
}

func (e *mongoIntegrationEnv) database() *mongo.Database {
	return e.client.Database(e.cfg.MongoDatabase)
}
