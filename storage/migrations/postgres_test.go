package migrations

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitwit/paycore/storage/postgres"
)

func TestPendingFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"postgres/002_events.sql": {Data: []byte("CREATE TABLE b ();")},
		"postgres/001_init.sql":   {Data: []byte("CREATE TABLE a ();")},
		"postgres/003_empty.sql":  {Data: []byte("  \n")},
		"postgres/README.md":      {Data: []byte("notes")},
	}

	files, err := pendingFiles(fsys, "postgres", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_events.sql"}, files)

	files, err = pendingFiles(fsys, "postgres", map[string]bool{"001_init": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"002_events.sql"}, files)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := pendingFiles(PostgresFS, "postgres", nil)
	require.NoError(t, err)
	assert.Contains(t, files, "001_init.sql")
}

func TestRunPostgresMigrationsRecordsVersions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init"}, applied)

	applied, err = RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}
