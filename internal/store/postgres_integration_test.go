package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresStoreVersionGraphRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s, cleanup := openTestStore(t)
	defer cleanup()
	ctx := context.Background()

	main := Branch{ID: "b-main", DocumentID: "doc-it", Name: MainBranch, Status: BranchActive, IsProtected: true, CreatedBy: "alice"}
	if err := s.CreateBranch(ctx, main, Version{ID: "v-1", DocumentID: "doc-it", VersionNumber: 1, Content: "Hello", Checksum: "c1", CreatedBy: "alice"}); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	next := Version{ID: "v-2", DocumentID: "doc-it", BranchID: "b-main", VersionNumber: 2, Content: "Hello!", Checksum: "c2", ParentVersionID: "v-1", CreatedBy: "alice", OperationIDs: []string{"op-1"}}
	if err := s.CommitVersion(ctx, next); err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	stale := Version{ID: "v-3", DocumentID: "doc-it", BranchID: "b-main", VersionNumber: 3, Content: "x", Checksum: "c3", ParentVersionID: "v-1", CreatedBy: "alice"}
	if err := s.CommitVersion(ctx, stale); !errors.Is(err, ErrStaleHead) {
		t.Fatalf("CommitVersion(stale) error = %v, want ErrStaleHead", err)
	}

	head, err := s.LoadLatestVersion(ctx, "b-main")
	if err != nil {
		t.Fatalf("LoadLatestVersion() error = %v", err)
	}
	if head.ID != "v-2" || head.ParentVersionID != "v-1" || len(head.OperationIDs) != 1 {
		t.Fatalf("unexpected head %+v", head)
	}

	dup := Branch{ID: "b-dup", DocumentID: "doc-it", Name: MainBranch, CreatedBy: "bob"}
	if err := s.CreateBranch(ctx, dup, Version{ID: "v-dup", DocumentID: "doc-it", VersionNumber: 1, CreatedBy: "bob"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("CreateBranch(duplicate) error = %v, want ErrDuplicate", err)
	}
}

func TestPostgresStoreVersionsAreImmutable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s, cleanup := openTestStore(t)
	defer cleanup()
	ctx := context.Background()

	main := Branch{ID: "b-imm", DocumentID: "doc-imm", Name: MainBranch, CreatedBy: "alice"}
	if err := s.CreateBranch(ctx, main, Version{ID: "v-imm", DocumentID: "doc-imm", VersionNumber: 1, Content: "x", Checksum: "c", CreatedBy: "alice"}); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}

	_, err := s.DB().ExecContext(ctx, `UPDATE document_versions SET content='tampered' WHERE id='v-imm'`)
	if err == nil {
		t.Fatal("expected UPDATE to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
}

func openTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, getTestDatabaseURL(t), DefaultPoolConfig())
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := RollbackMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("rollback migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
	return NewPostgresStore(db), func() { _ = db.Close() }
}

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := strings.TrimSpace(getenv("TEST_DATABASE_URL", "")); url != "" {
		return url
	}

	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "collab")
	pass := getenv("POSTGRES_PASSWORD", "collab")
	dbname := getenv("POSTGRES_DB", "collab_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
