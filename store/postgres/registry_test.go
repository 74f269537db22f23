package postgres

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/schema"
)

// startPostgres boots a disposable PostgreSQL container and returns a pool
// connected to it as the (superuser) container account.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("rowguard"),
		tcpostgres.WithUsername("rowguard"),
		tcpostgres.WithPassword("rowguard"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// seedAppTables creates the guarded tables and a role without superuser
// powers. Row security never applies to superusers, so every behavioral
// assertion runs under app_user.
func seedAppTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	ddl := []string{
		`CREATE TABLE projects (id TEXT PRIMARY KEY, owner_id TEXT NOT NULL)`,
		`CREATE TABLE plans (id TEXT PRIMARY KEY, project_id TEXT NOT NULL)`,
		`CREATE ROLE app_user NOLOGIN`,
		`GRANT SELECT, INSERT, UPDATE, DELETE ON projects, plans TO app_user`,
	}
	for _, q := range ddl {
		if _, err := pool.Exec(ctx, q); err != nil {
			t.Fatalf("seed: %q: %v", q, err)
		}
	}
}

func testSet(t *testing.T) *schema.Set {
	t.Helper()
	set, err := schema.NewSet([]*schema.Binding{
		{
			ID:          id.NewBindingID(),
			Resource:    "projects",
			Mode:        schema.ModeDirect,
			OwnerColumn: "owner_id",
			PolicyName:  "projects_owner",
		},
		{
			ID:             id.NewBindingID(),
			Resource:       "plans",
			Mode:           schema.ModeIndirect,
			ParentColumn:   "project_id",
			ParentResource: "projects",
			PolicyName:     "plans_owner",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

// queryIDs runs the query as app_user with the principal asserted on the
// transaction, returning the first column of every row.
func queryIDs(t *testing.T, pool *pgxpool.Pool, p rowguard.Principal, query string) []string {
	t.Helper()
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only transaction

	if _, err := tx.Exec(ctx, `SET LOCAL ROLE app_user`); err != nil {
		t.Fatal(err)
	}
	if err := SetPrincipal(ctx, tx, p); err != nil {
		t.Fatal(err)
	}
	rows, err := tx.Query(ctx, query)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, v)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestRegistryReplaceConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test, requires docker")
	}
	ctx := context.Background()
	pool := startPostgres(t)
	seedAppTables(t, pool)

	s := &Store{pool: pool} // the registry only needs the pool
	set := testSet(t)
	policies, err := policy.CompileSet(set)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing is installed on a fresh table.
	installed, err := s.InstalledPolicies(ctx, "projects")
	if err != nil {
		t.Fatal(err)
	}
	if len(installed) != 0 {
		t.Fatalf("expected no policies, got %v", installed)
	}

	// First apply installs exactly the declared policy.
	for _, p := range policies {
		installed, err := s.InstalledPolicies(ctx, p.Resource)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Replace(ctx, p, installed); err != nil {
			t.Fatal(err)
		}
		if err := s.EnableEnforcement(ctx, p.Resource); err != nil {
			t.Fatal(err)
		}
	}
	installed, err = s.InstalledPolicies(ctx, "projects")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(installed, []string{"projects_owner"}) {
		t.Fatalf("expected [projects_owner], got %v", installed)
	}

	// A second apply is a no-op: same single policy afterwards.
	for _, p := range policies {
		installed, err := s.InstalledPolicies(ctx, p.Resource)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Replace(ctx, p, installed); err != nil {
			t.Fatal(err)
		}
	}
	installed, err = s.InstalledPolicies(ctx, "projects")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(installed, []string{"projects_owner"}) {
		t.Fatalf("reapply changed the installed set: %v", installed)
	}

	// A stray policy someone added by hand is retired on the next replace.
	if _, err := pool.Exec(ctx, `CREATE POLICY "projects_stray" ON "projects" USING (true)`); err != nil {
		t.Fatal(err)
	}
	p := policies[0]
	installed, err = s.InstalledPolicies(ctx, p.Resource)
	if err != nil {
		t.Fatal(err)
	}
	if len(installed) != 2 {
		t.Fatalf("expected declared plus stray, got %v", installed)
	}
	if err := s.Replace(ctx, p, installed); err != nil {
		t.Fatal(err)
	}
	installed, err = s.InstalledPolicies(ctx, p.Resource)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(installed, []string{"projects_owner"}) {
		t.Fatalf("stray policy survived replace: %v", installed)
	}
}

func TestInstalledPoliciesFilterRows(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test, requires docker")
	}
	ctx := context.Background()
	pool := startPostgres(t)
	seedAppTables(t, pool)

	s := &Store{pool: pool}
	set := testSet(t)

	r, err := reconcile.New(s)
	if err != nil {
		t.Fatal(err)
	}
	result, err := r.Apply(ctx, set)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Converged() {
		t.Fatalf("reconciliation did not converge: %+v", result.Failed())
	}

	// Seed committed state as the superuser, which bypasses row security.
	seed := []string{
		`INSERT INTO projects VALUES ('p1', 'alice'), ('p2', 'bob')`,
		`INSERT INTO plans VALUES ('pl1', 'p1'), ('pl2', 'p2')`,
	}
	for _, q := range seed {
		if _, err := pool.Exec(ctx, q); err != nil {
			t.Fatal(err)
		}
	}

	alice := rowguard.Principal{ID: "alice", Role: rowguard.RoleAuthenticated}
	svc := rowguard.Principal{ID: "ops", Role: rowguard.RoleService}

	// Direct ownership: alice sees her project only.
	got := queryIDs(t, pool, alice, `SELECT id FROM projects ORDER BY id`)
	if !slices.Equal(got, []string{"p1"}) {
		t.Fatalf("expected [p1], got %v", got)
	}

	// Indirect ownership: plans filter through their project's owner.
	got = queryIDs(t, pool, alice, `SELECT id FROM plans ORDER BY id`)
	if !slices.Equal(got, []string{"pl1"}) {
		t.Fatalf("expected [pl1], got %v", got)
	}

	// The service role reads everything.
	got = queryIDs(t, pool, svc, `SELECT id FROM projects ORDER BY id`)
	if !slices.Equal(got, []string{"p1", "p2"}) {
		t.Fatalf("expected [p1 p2], got %v", got)
	}

	// An anonymous principal matches no owner.
	got = queryIDs(t, pool, rowguard.Principal{Role: rowguard.RoleAnonymous}, `SELECT id FROM projects`)
	if len(got) != 0 {
		t.Fatalf("anonymous principal saw rows: %v", got)
	}

	// Writing a row owned by someone else violates the write check.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // the insert is expected to fail
	if _, err := tx.Exec(ctx, `SET LOCAL ROLE app_user`); err != nil {
		t.Fatal(err)
	}
	if err := SetPrincipal(ctx, tx, alice); err != nil {
		t.Fatal(err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO projects VALUES ('p3', 'bob')`)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "42501" {
		t.Fatalf("expected row security violation, got %v", err)
	}
}
