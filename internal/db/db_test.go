package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

const migrationsDir = "../../migrations"

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateUpCreatesSchema(t *testing.T) {
	database := openTestDB(t)

	if err := database.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	for _, table := range []string{"zones", "occupancy_log"} {
		var name string
		err := database.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}

	version, dirty, err := database.MigrateVersion(migrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version == 0 || dirty {
		t.Errorf("version = %d dirty = %v", version, dirty)
	}
}

func TestMigrateUpIdempotent(t *testing.T) {
	database := openTestDB(t)

	if err := database.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("first MigrateUp: %v", err)
	}
	if err := database.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("second MigrateUp: %v", err)
	}
}

func TestMigrateVersionBeforeAnyMigration(t *testing.T) {
	database := openTestDB(t)

	version, dirty, err := database.MigrateVersion(migrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("version = %d dirty = %v, want 0 false", version, dirty)
	}
}

func TestBackupDownload(t *testing.T) {
	database := openTestDB(t)
	if err := database.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	mux := http.NewServeMux()
	database.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d (body %s)", rec.Code, rec.Body)
	}
	if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", enc)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "filename=backup-engine-") {
		t.Errorf("Content-Disposition = %q, want the database name in the filename", cd)
	}

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("backup body is not gzip: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress backup: %v", err)
	}
	// SQLite database files start with a fixed header string.
	if len(data) < 16 || string(data[:15]) != "SQLite format 3" {
		t.Errorf("backup does not look like a SQLite database (%d bytes)", len(data))
	}
}

func TestBackupFilenameSanitized(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "engine copy#1.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	mux := http.NewServeMux()
	database.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d (body %s)", rec.Code, rec.Body)
	}

	cd := rec.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "filename=backup-engine_copy_1-") {
		t.Errorf("Content-Disposition = %q, want sanitized database name", cd)
	}
	_, name, _ := strings.Cut(cd, "filename=")
	if strings.ContainsAny(name, " #") {
		t.Errorf("backup filename %q carries unsanitized characters", name)
	}
}
