package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DatabasePath != "./data/relayhub.db" {
		t.Errorf("Expected DatabasePath './data/relayhub.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty path", func(c *Config) { c.DatabasePath = "" }, true},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, true},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMigrationManager_BuiltinSchema(t *testing.T) {
	db := openTestDB(t)
	if err := ApplyPragmas(db); err != nil {
		t.Fatalf("ApplyPragmas failed: %v", err)
	}

	mgr := NewMigrationManager(db)
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	// Second run is a no-op.
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should be idempotent: %v", err)
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "001" {
		t.Errorf("Expected [001], got %v", versions)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("Schema should validate after migrations: %v", err)
	}
}

func TestMigrationManager_OrdersAndSkipsNonSQL(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"m/002_second.sql": {Data: []byte(`INSERT INTO first_table (id) VALUES ('x');`)},
		"m/001_first.sql":  {Data: []byte(`CREATE TABLE first_table (id TEXT PRIMARY KEY);`)},
		"m/README.md":      {Data: []byte(`not a migration`)},
	}

	mgr := NewMigrationManagerFS(db, source, "m")
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM first_table").Scan(&count); err != nil {
		t.Fatalf("Failed to query first_table: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row, got %d", count)
	}
}

func TestSchemaValidator_MissingTables(t *testing.T) {
	db := openTestDB(t)
	if err := NewSchemaValidator(db).Validate(); err == nil {
		t.Error("Validate should fail on an empty database")
	}
}
