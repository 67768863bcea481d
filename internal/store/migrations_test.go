package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDatabase(t *testing.T) {
	// Given: A fresh database with no tables
	db := openRawDB(t)

	// When: RunMigrations is called
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	// Then: every table exists with its required columns
	queries := map[string]string{
		"tasks": `SELECT id, owner_id, client_generated_id, project_id, parent_task_id, title, description,
		          status, priority, due_date, completed_at, tags, sync_version, sync_status,
		          last_synced_at, created_at, updated_at FROM tasks LIMIT 0`,
		"projects": `SELECT id, owner_id, client_generated_id, name, description, color, archived,
		             sync_version, sync_status, last_synced_at, created_at, updated_at FROM projects LIMIT 0`,
		"sync_conflicts": `SELECT id, owner_id, entity_type, entity_id, client_generated_id, operation, reason,
		                   client_version, client_data, server_data, detected_at, resolved_at, resolution
		                   FROM sync_conflicts LIMIT 0`,
		"push_idempotency": `SELECT owner_id, push_id, response, created_at, expires_at FROM push_idempotency LIMIT 0`,
		"sync_sequence":    `SELECT id, value FROM sync_sequence LIMIT 0`,
		"change_seq":       `SELECT t.change_seq, p.change_seq FROM tasks t, projects p LIMIT 0`,
	}
	for table, q := range queries {
		if _, err := db.Exec(q); err != nil {
			t.Errorf("%s missing required columns: %v", table, err)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	// Given: A database that has already been migrated
	db := openRawDB(t)
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}

	// When: RunMigrations is called again
	// Then: No error occurs
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("second migration should be idempotent, got error: %v", err)
	}

	v, err := MigrationVersion(context.Background(), db)
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != 3 {
		t.Errorf("MigrationVersion() = %d, want 3", v)
	}
}

func TestRunMigrations_BackfillsChangeSequence(t *testing.T) {
	// Given: rows written before change sequences existed
	db := openRawDB(t)
	p, err := migrationProvider(db)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.UpTo(context.Background(), 2); err != nil {
		t.Fatalf("migrate to 2: %v", err)
	}
	stamp := "2026-01-01T00:00:00.000000000Z"
	if _, err := db.Exec(`INSERT INTO tasks (id, owner_id, title, created_at, updated_at) VALUES ('t1', 'alice', 't', ?, ?), ('t2', 'alice', 't', ?, ?)`,
		stamp, stamp, stamp, stamp); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO projects (id, owner_id, name, created_at, updated_at) VALUES ('p1', 'alice', 'n', ?, ?)`, stamp, stamp); err != nil {
		t.Fatal(err)
	}

	// When: the remaining migrations run
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	// Then: every row has a distinct sequence and the counter covers them
	var zero, distinct, top, counter int64
	err = db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM tasks WHERE change_seq = 0) + (SELECT COUNT(*) FROM projects WHERE change_seq = 0),
		(SELECT COUNT(DISTINCT s) FROM (SELECT change_seq AS s FROM tasks UNION ALL SELECT change_seq FROM projects)),
		(SELECT MAX(s) FROM (SELECT change_seq AS s FROM tasks UNION ALL SELECT change_seq FROM projects)),
		(SELECT value FROM sync_sequence WHERE id = 1)`).Scan(&zero, &distinct, &top, &counter)
	if err != nil {
		t.Fatal(err)
	}
	if zero != 0 || distinct != 3 || counter != top {
		t.Errorf("unsequenced=%d distinct=%d max=%d counter=%d", zero, distinct, top, counter)
	}
}

func TestSchema_Indexes(t *testing.T) {
	db := openRawDB(t)
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	expectedIndexes := []string{
		"idx_tasks_owner_client",
		"idx_tasks_owner_updated",
		"idx_projects_owner_client",
		"idx_projects_owner_updated",
		"idx_tasks_owner_seq",
		"idx_projects_owner_seq",
		"idx_sync_conflicts_owner",
		"idx_push_idempotency_expires",
	}

	for _, idx := range expectedIndexes {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name=?`, idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", idx, err)
		}
	}
}

func TestSchema_ClientIDUniquePerOwner(t *testing.T) {
	db := openRawDB(t)
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	insert := `INSERT INTO tasks (id, owner_id, client_generated_id, title, created_at, updated_at)
	           VALUES (?, ?, ?, 't', '2026-01-01T00:00:00.000000000Z', '2026-01-01T00:00:00.000000000Z')`

	if _, err := db.Exec(insert, "t1", "alice", "c1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// Same client id, different owner: allowed
	if _, err := db.Exec(insert, "t2", "bob", "c1"); err != nil {
		t.Fatalf("other owner insert: %v", err)
	}
	// NULL client ids never collide
	if _, err := db.Exec(insert, "t3", "alice", nil); err != nil {
		t.Fatalf("null client id insert: %v", err)
	}
	if _, err := db.Exec(insert, "t4", "alice", nil); err != nil {
		t.Fatalf("second null client id insert: %v", err)
	}
	// Same owner, same client id: rejected
	if _, err := db.Exec(insert, "t5", "alice", "c1"); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestSchema_SyncVersionCheck(t *testing.T) {
	db := openRawDB(t)
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO projects (id, owner_id, name, sync_version, created_at, updated_at)
	                   VALUES ('p1', 'alice', 'n', 0, 'x', 'x')`)
	if err == nil {
		t.Fatal("expected CHECK constraint to reject sync_version 0")
	}
}

func TestWALMode_Enabled(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode 'wal', got %q", journalMode)
	}
}

func TestPragmas_Applied(t *testing.T) {
	s := newTestStore(t)

	var busyTimeout int
	if err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", busyTimeout)
	}

	var synchronous int
	if err := s.db.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("failed to query synchronous: %v", err)
	}
	if synchronous != 1 {
		t.Errorf("expected synchronous 1 (NORMAL), got %d", synchronous)
	}
}

func TestNewSQLiteStore_CreatesParentDirectories(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store with nested path: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}
