// Package testutil provides testing utilities for StockFlow backend services.
// It includes testcontainers for PostgreSQL, per-test database isolation,
// sqlmock helpers and HTTP test helpers.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresImage is the server the stock schema is tested against
const PostgresImage = "postgres:15-alpine"

// PostgresContainer is a throwaway PostgreSQL server
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// StartPostgres runs a PostgreSQL container and waits until it accepts
// connections. The caller terminates it.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(PostgresImage),
		postgres.WithDatabase("stockflow_test"),
		postgres.WithUsername("stockflow"),
		postgres.WithPassword("stockflow"),
		testcontainers.WithWaitStrategy(
			// postgres restarts once after initdb, so wait for the second ready line
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{PostgresContainer: container, DSN: dsn}, nil
}

// Connect opens an admin connection to the container's default database
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}
