package database

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFilePath(t *testing.T) {
	tests := map[string]string{
		"file:./netboot.db":   "./netboot.db",
		"/var/lib/netboot.db": "/var/lib/netboot.db",
		":memory:":            ":memory:",
	}
	for url, want := range tests {
		if got := filePath(url); got != want {
			t.Errorf("filePath(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestConnect_InMemory(t *testing.T) {
	db, err := Connect(Config{URL: ":memory:", MaxIdleConn: 1, MaxOpenConn: 1})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = Close(db) }()

	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		t.Fatalf("Failed to query database: %v", err)
	}
	if result != 1 {
		t.Errorf("Expected 1, got %d", result)
	}
}

func TestConnect_CreatesRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "registry", "netboot.db")

	db, err := Connect(Config{URL: "file:" + path, MaxIdleConn: 1, MaxOpenConn: 1, Debug: true})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := Close(db); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected registry file at %s: %v", path, err)
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Errorf("Close(nil) should not error: %v", err)
	}
}

func TestMigrate(t *testing.T) {
	db, err := Connect(Config{URL: ":memory:", MaxIdleConn: 1, MaxOpenConn: 1})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = Close(db) }()

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	for _, table := range []string{"cabinets", "cabinet_games", "rom_names", "settings"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("Expected table %s to exist after Migrate", table)
		}
	}

	// Running twice is a no-op
	if err := Migrate(db); err != nil {
		t.Errorf("second Migrate failed: %v", err)
	}
}
