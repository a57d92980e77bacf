package postgres_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/downloads/store/postgres"
	"github.com/ubuntu/eofetch/internal/downloads/store/storetest"
	"github.com/ubuntu/eofetch/internal/testutils"
)

func TestStore(t *testing.T) {
	t.Parallel()

	pc := testutils.StartQueueDatabase(t)

	port, err := strconv.Atoi(pc.Port)
	require.NoError(t, err, "Setup: invalid container port")
	cfg := postgres.Config{
		Host:     pc.Host,
		Port:     port,
		User:     pc.User,
		Password: pc.Password,
		DBName:   pc.Name,
		SSLMode:  "disable",
	}

	storetest.Run(t, func(t *testing.T) downloads.Store {
		t.Helper()

		conn, err := pgx.Connect(t.Context(), pc.DSN)
		require.NoError(t, err, "Setup: could not connect to database")
		_, err = conn.Exec(t.Context(), "TRUNCATE download_queue")
		require.NoError(t, err, "Setup: could not empty the queue table")
		require.NoError(t, conn.Close(t.Context()), "Setup: could not close connection")

		s, err := postgres.New(t.Context(), cfg)
		require.NoError(t, err, "Setup: New should not fail")
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

type fakePool struct {
	pingErr error
	execErr error
	closed  bool
}

func (p *fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, p.execErr
}

func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported")
}

func (p *fakePool) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (p *fakePool) Ping(context.Context) error { return p.pingErr }
func (p *fakePool) Close()                     { p.closed = true }

type errRow struct{}

func (errRow) Scan(...any) error { return errors.New("scan not supported") }

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		poolErr error
		pingErr error

		wantClosed bool
		wantErr    bool
	}{
		"Creates store": {},

		"Error when pool creation fails":  {poolErr: errors.New("requested error"), wantErr: true},
		"Error and close when ping fails": {pingErr: errors.New("requested error"), wantClosed: true, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			pool := &fakePool{pingErr: tc.pingErr}
			var gotDSN string
			s, err := postgres.New(context.Background(), postgres.Config{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "queue", SSLMode: "disable"},
				postgres.WithNewPool(func(_ context.Context, dsn string) (postgres.DBPool, error) {
					gotDSN = dsn
					return pool, tc.poolErr
				}))
			assert.Equal(t, "postgres://u:p@db:5432/queue?sslmode=disable", gotDSN, "New should connect to the configured database")
			assert.Equal(t, tc.wantClosed, pool.closed, "Pool should only be closed on ping failure")
			if tc.wantErr {
				require.Error(t, err, "New should fail")
				return
			}
			require.NoError(t, err, "New should not fail")

			require.NoError(t, s.Close(), "Close should not fail")
			require.NoError(t, s.Close(), "Close should be idempotent")
		})
	}
}

func TestSaveFailure(t *testing.T) {
	t.Parallel()

	pool := &fakePool{execErr: errors.New("requested error")}
	s, err := postgres.New(context.Background(), postgres.Config{}, postgres.WithNewPool(func(context.Context, string) (postgres.DBPool, error) {
		return pool, nil
	}))
	require.NoError(t, err, "Setup: New should not fail")

	require.Error(t, s.Save(context.Background(), downloads.NewItem("aws", "/srv", []string{"p"})), "Save should fail on database error")
	require.Error(t, s.Remove(context.Background(), "id"), "Remove should fail on database error")
	_, err = s.Load(context.Background(), "id")
	require.Error(t, err, "Load should fail on database error")
	_, err = s.Restore(context.Background())
	require.Error(t, err, "Restore should fail on database error")
}
