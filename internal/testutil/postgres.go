//go:build integration

package testutil

import (
	"context"
	"fmt"
	"testing"

	"kortrade/internal/database"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// StartPostgres starts a throwaway Postgres container and returns its DSN.
// The container is removed when the test ends.
func StartPostgres(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kortrade",
			"POSTGRES_PASSWORD": "kortrade",
			"POSTGRES_DB":       "kortrade_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	return fmt.Sprintf("postgres://kortrade:kortrade@%s:%s/kortrade_test?sslmode=disable", host, port.Port())
}

// NewPostgresDB returns a GORM handle on a fresh container with every
// persistent model migrated.
func NewPostgresDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(postgres.Open(StartPostgres(t)), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}
