package db_test

import (
	"os"
	"testing"

	"warroom/internal/db"
)

func TestOpenAppliesSharedWorkspacePragmas(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	var journal string
	if err := conn.QueryRow(`PRAGMA journal_mode`).Scan(&journal); err != nil {
		t.Fatal(err)
	}
	if journal != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journal)
	}
	var busy int
	if err := conn.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busy)
	}
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}
}

func TestEnsureWorkspaceCreatesDir(t *testing.T) {
	dir := t.TempDir()
	path, err := db.EnsureWorkspace(dir)
	if err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("workspace dir missing: %v", err)
	}
	if db.Path(dir) == "" {
		t.Fatalf("empty db path")
	}
}
