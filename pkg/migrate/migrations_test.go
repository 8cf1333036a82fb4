package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matches %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMediaJobsMigrationEnforcesOutputInvariant(t *testing.T) {
	content := readMigration(t, "*_create_media_jobs_table.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS media_jobs",
		"attempt_count integer NOT NULL DEFAULT 0",
		"CONSTRAINT chk_media_jobs_progress CHECK (progress BETWEEN 0 AND 100)",
		"CONSTRAINT chk_media_jobs_output CHECK",
		"state <> 'completed'",
		"CREATE INDEX IF NOT EXISTS idx_media_jobs_unlinked_completed",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPendingDeletionsMigrationHasUniqueKey(t *testing.T) {
	content := readMigration(t, "*_create_pending_media_deletions_table.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS pending_media_deletions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_pending_media_deletions_storage_key",
		"CREATE INDEX IF NOT EXISTS idx_pending_media_deletions_scheduled_for",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPostsMigrationIndexesScheduledDrops(t *testing.T) {
	content := readMigration(t, "*_create_posts_and_albums_tables.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS posts",
		"CREATE TABLE IF NOT EXISTS albums",
		"media_url text",
		"dropped_at timestamptz",
		"CREATE INDEX IF NOT EXISTS idx_posts_scheduled_due",
		"CREATE INDEX IF NOT EXISTS idx_albums_scheduled_due",
		"fk_media_jobs_post",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDir(t *testing.T) {
	if err := migrate.ValidateFS(migrate.Migrations()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}

	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	embedded, err := fs.Glob(migrate.Migrations(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(onDisk) != len(embedded) {
		t.Fatalf("expected %d embedded migrations, got %d", len(onDisk), len(embedded))
	}
}

func TestValidateFSRejectsDownBeforeUp(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101000000_swapped.sql": {Data: []byte("-- +goose Down\nDROP TABLE x;\n-- +goose Up\nCREATE TABLE x();\n")},
	}
	if err := migrate.ValidateFS(fsys); err == nil {
		t.Fatal("expected swapped annotations to fail")
	}
}

func TestValidateFSRejectsDuplicateVersion(t *testing.T) {
	body := []byte("-- +goose Up\n-- +goose Down\n")
	fsys := fstest.MapFS{
		"20260101000000_first.sql":  {Data: body},
		"20260101000000_second.sql": {Data: body},
	}
	if err := migrate.ValidateFS(fsys); err == nil {
		t.Fatal("expected duplicate version to fail")
	}
}

func TestNewRequiresDB(t *testing.T) {
	if _, err := migrate.New(nil, nil, logger.Nop()); err == nil {
		t.Fatal("expected nil db to fail")
	}
}

func TestValidateDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename to fail")
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Media Index!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_media_index.sql") {
		t.Fatalf("unexpected path %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}
