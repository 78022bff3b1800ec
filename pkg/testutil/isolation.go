package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stockflow/stockflow-backend/pkg/config"
)

// TestDatabase is a throwaway database created for a single test
type TestDatabase struct {
	Name string
	DSN  string
}

// DatabaseManager creates and drops isolated test databases inside the
// shared container.
type DatabaseManager struct {
	admin     *sqlx.DB
	baseURL   string
	databases []TestDatabase
	mu        sync.Mutex
}

// NewDatabaseManager creates a new database manager. baseURL is the
// container connection URL; only its database name is replaced.
func NewDatabaseManager(admin *sqlx.DB, baseURL string) *DatabaseManager {
	return &DatabaseManager{
		admin:   admin,
		baseURL: baseURL,
	}
}

// CreateDatabase creates a fresh, empty database for one test.
//
// Usage:
//
//	dm := testutil.NewDatabaseManager(rawDB, container.DSN)
//	tdb, err := dm.CreateDatabase(ctx, "ledger-replay")
//	db, err := database.NewWithDSN(tdb.DSN, log)
func (dm *DatabaseManager) CreateDatabase(ctx context.Context, name string) (*TestDatabase, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	slug := strings.ToLower(strings.NewReplacer(" ", "_", "-", "_").Replace(name))
	dbName := fmt.Sprintf("t_%s_%s", slug, strings.ReplaceAll(uuid.New().String()[:8], "-", ""))

	if _, err := dm.admin.ExecContext(ctx, "CREATE DATABASE "+dbName); err != nil {
		return nil, fmt.Errorf("failed to create test database: %w", err)
	}

	parsed, err := config.ParseDatabaseURL(dm.baseURL)
	if err != nil {
		return nil, err
	}
	parsed.Database = dbName

	tdb := TestDatabase{Name: dbName, DSN: parsed.ToDSN()}
	dm.databases = append(dm.databases, tdb)
	return &tdb, nil
}

// DropDatabase removes a test database, terminating leftover connections
func (dm *DatabaseManager) DropDatabase(ctx context.Context, tdb *TestDatabase) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if _, err := dm.admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+tdb.Name+" WITH (FORCE)"); err != nil {
		return fmt.Errorf("failed to drop test database: %w", err)
	}

	for i, tracked := range dm.databases {
		if tracked.Name == tdb.Name {
			dm.databases = append(dm.databases[:i], dm.databases[i+1:]...)
			break
		}
	}

	return nil
}

// Cleanup drops all databases created by this manager.
func (dm *DatabaseManager) Cleanup(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var lastErr error
	for _, tdb := range dm.databases {
		if _, err := dm.admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+tdb.Name+" WITH (FORCE)"); err != nil {
			lastErr = err
		}
	}

	dm.databases = nil
	return lastErr
}
