package tenantsql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	migrations "github.com/dropDatabas3/keyregistry/migrations/postgres"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	scripts, err := LoadMigrations(migrations.TenantFS, migrations.TenantDir, "ks_acme")
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	require.Contains(t, scripts[0], `CREATE SCHEMA IF NOT EXISTS "ks_acme"`)
	require.Contains(t, scripts[0], `"ks_acme".signatures`)
	require.Contains(t, scripts[1], `"ks_acme".keyspace_meta`)
	for _, s := range scripts {
		require.NotContains(t, s, SchemaPlaceholder)
	}
}

func TestLoadMigrations_OrderAndFilter(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_b_up.sql":   {Data: []byte("B {{schema}}")},
		"m/0001_a_up.sql":   {Data: []byte("A {{schema}}")},
		"m/0001_a_down.sql": {Data: []byte("DROP")},
		"m/README.md":       {Data: []byte("x")},
	}
	scripts, err := LoadMigrations(fsys, "m", `we"ird`)
	require.NoError(t, err)
	require.Equal(t, []string{`A "we""ird"`, `B "we""ird"`}, scripts)
}

func TestLoadMigrations_EmptySchema(t *testing.T) {
	_, err := LoadMigrations(migrations.TenantFS, migrations.TenantDir, " ")
	require.Error(t, err)
}

func TestTenantLockID_Deterministic(t *testing.T) {
	require.Equal(t, tenantLockID("acme"), tenantLockID("acme"))
	require.NotEqual(t, tenantLockID("acme"), tenantLockID("globex"))
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver("postgres://localhost/keys", "")
	conn, err := r(context.Background(), "acme-corp")
	require.NoError(t, err)
	require.Equal(t, "ks_acme-corp", conn.Schema)

	_, err = r(context.Background(), strings.Repeat("a", 61))
	require.Error(t, err)

	_, err = StaticResolver("", "ks_")(context.Background(), "acme")
	require.ErrorIs(t, err, ErrNoDBForTenant)
}

func TestNew_RequiresResolver(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrResolverNotConfigured)
}

// fakeTx implementa lo que usa RunMigrationsWithLock; el resto de pgx.Tx queda nil.
type fakeTx struct {
	pgx.Tx
	execs      []string
	failOn     string
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeBeginner struct{ tx *fakeTx }

func (b fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) { return b.tx, nil }

func TestRunMigrationsWithLock_LocksThenAppliesInTx(t *testing.T) {
	tx := &fakeTx{}
	n, err := RunMigrationsWithLock(context.Background(), fakeBeginner{tx}, migrations.TenantFS, migrations.TenantDir, "acme", "ks_acme")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, tx.committed)
	require.Len(t, tx.execs, 3)
	require.Contains(t, tx.execs[0], "pg_advisory_xact_lock")
}

func TestRunMigrationsWithLock_RollsBackOnFailure(t *testing.T) {
	tx := &fakeTx{failOn: "keyspace_meta"}
	_, err := RunMigrationsWithLock(context.Background(), fakeBeginner{tx}, migrations.TenantFS, migrations.TenantDir, "acme", "ks_acme")
	require.Error(t, err)
	require.False(t, tx.committed)
	require.True(t, tx.rolledBack)
}

func TestManager_EmptyState(t *testing.T) {
	m, err := New(Config{Resolve: StaticResolver("", "")})
	require.NoError(t, err)
	require.Equal(t, 0, m.PoolCount())
	require.Empty(t, m.Stats())
	require.NoError(t, m.Ping(context.Background()))

	_, _, err = m.Resolve(context.Background(), "acme")
	require.ErrorIs(t, err, ErrNoDBForTenant)
	require.NoError(t, m.Close())
}

func TestManager_MigrationsDirOverride(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Config{Resolve: StaticResolver("postgres://x", ""), MigrationsDir: dir})
	require.NoError(t, err)
	require.Equal(t, ".", m.migDir)

	scripts, err := LoadMigrations(m.migrations, m.migDir, "ks_acme")
	require.NoError(t, err)
	require.Empty(t, scripts)
}
