package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stockflow/stockflow-backend/pkg/database"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	Databases *DatabaseManager
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite.
// Call this in TestMain to set up shared test infrastructure.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testing.Short() {
//	        os.Exit(m.Run())
//	    }
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    ...
//	}
//
//	func TestSomething(t *testing.T) {
//	    db := suite.SetupDatabase(t, ctx, "something", repository.Migrations())
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		Databases: NewDatabaseManager(db, container.DSN),
		Logger:    logger.New("test", "test"),
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = StartPostgres(ctx)
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// SetupDatabase creates an isolated database, applies migrations and
// registers cleanup. Each test should use its own database.
func (s *IntegrationSuite) SetupDatabase(t *testing.T, ctx context.Context, name string, migrations []string) *database.DB {
	t.Helper()

	tdb, err := s.Databases.CreateDatabase(ctx, name)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	db, err := database.NewWithDSN(tdb.DSN, s.Logger)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		if err := s.Databases.DropDatabase(context.Background(), tdb); err != nil {
			t.Logf("warning: failed to drop database %s: %v", tdb.Name, err)
		}
	})

	if err := db.Migrate(ctx, migrations); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	return db
}

// Cleanup cleans up all test resources
func (s *IntegrationSuite) Cleanup(ctx context.Context) {
	if s.Databases != nil {
		s.Databases.Cleanup(ctx)
	}
}

// TerminateContainer stops the shared container. Call once from TestMain.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}

// UnitTestSuite provides a base for unit tests with mocked dependencies
type UnitTestSuite struct {
	MockDB *MockDB
	DB     *database.DB
	t      *testing.T
}

// NewUnitTestSuite creates a new unit test suite backed by sqlmock
func NewUnitTestSuite(t *testing.T) *UnitTestSuite {
	mockDB := NewMockDB(t)
	return &UnitTestSuite{
		MockDB: mockDB,
		DB:     database.Wrap(mockDB.DB, logger.Nop()),
		t:      t,
	}
}

// Cleanup verifies expectations and cleans up
func (s *UnitTestSuite) Cleanup() {
	s.MockDB.ExpectationsWereMet(s.t)
	s.MockDB.Close()
}
