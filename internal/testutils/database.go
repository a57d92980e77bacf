package testutils

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx" // PGX driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:17-alpine"
	postgresPort  = "5432/tcp"
)

// PostgresContainer is a throwaway PostgreSQL server holding a download queue database.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string

	User     string
	Password string
	Name     string
	Host     string
	Port     string
}

// StartPostgresContainer starts an empty PostgreSQL container, terminated on test cleanup.
// The test is skipped when not running on Linux, or when no container runtime is reachable.
func StartPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("Skipping PostgreSQL container test on non-Linux OS")
	}

	pc := &PostgresContainer{User: "eofetch", Password: "eofetch", Name: "eofetch_queue"}

	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     pc.User,
				"POSTGRES_PASSWORD": pc.Password,
				"POSTGRES_DB":       pc.Name,
			},
			// The entrypoint restarts the server once after running the init scripts.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort(postgresPort),
			).WithDeadline(time.Minute),
		},
		Started: true,
	})
	if err != nil && strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
		t.Skipf("Skipping PostgreSQL container test: %v", err)
	}
	require.NoError(t, err, "Setup: failed to start PostgreSQL container")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	pc.Container = container
	pc.Host, err = container.Host(ctx)
	require.NoError(t, err, "Setup: failed to get container host")
	port, err := container.MappedPort(ctx, postgresPort)
	require.NoError(t, err, "Setup: failed to get mapped port")
	pc.Port = port.Port()

	pc.DSN = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pc.User, pc.Password, net.JoinHostPort(pc.Host, pc.Port), pc.Name)
	return pc
}

// StartQueueDatabase starts a PostgreSQL container, waits for it to accept connections and applies the
// download queue migrations of the module.
func StartQueueDatabase(t *testing.T) *PostgresContainer {
	t.Helper()

	pc := StartPostgresContainer(t)
	require.NoError(t, pc.IsReady(t, 5*time.Second, 10), "Setup: database did not become ready")
	ApplyMigrations(t, pc.DSN, MigrationsDir())
	return pc
}

// MigrationsDir returns the directory holding the SQL migrations of the download queue.
func MigrationsDir() string {
	return filepath.Join(ModuleRoot(), "migrations")
}

// IsReady tries to connect to the database up to attempts times, each attempt being timeout long at most.
func (pc PostgresContainer) IsReady(t *testing.T, timeout time.Duration, attempts int) error {
	t.Helper()

	config, err := pgx.ParseConfig(pc.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse DSN: %w", err)
	}

	var lastErr error
	for i := range attempts {
		ctx, cancel := context.WithTimeout(t.Context(), timeout)
		conn, err := pgx.ConnectConfig(ctx, config)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(context.Background())
		}
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		t.Logf("Attempt %d: database is not ready: %v", i+1, err)
		time.Sleep(time.Second)
	}

	return fmt.Errorf("database did not become ready after %d attempts: %v", attempts, lastErr)
}

// ApplyMigrations migrates the database at dsn up to the latest version found in migrationsDir.
func ApplyMigrations(t *testing.T, dsn string, migrationsDir string) {
	t.Helper()

	m, err := migrate.New("file://"+migrationsDir, "pgx://"+strings.TrimPrefix(dsn, "postgres://"))
	require.NoError(t, err, "Setup: failed to create migration instance")
	defer m.Close()

	if err := m.Up(); err != nil {
		require.ErrorIs(t, err, migrate.ErrNoChange, "Setup: failed to apply migrations")
	}
}
