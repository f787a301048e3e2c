package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fraudwatch/warehouse"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Driver != warehouse.DriverSQLite || cfg.Database.Path != "dwh.db" {
		t.Errorf("unexpected database defaults %+v", cfg.Database)
	}
	if cfg.Dirs.Data != "data" || cfg.Dirs.Archive != "archive" || cfg.Dirs.Error != "" {
		t.Errorf("unexpected dir defaults %+v", cfg.Dirs)
	}
	if cfg.WindowOverride != "date_settings.json" {
		t.Errorf("unexpected window override default %q", cfg.WindowOverride)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("expected port 5432, got %d", cfg.Database.Port)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraudwatch.yaml")
	content := `debug: true
database:
  driver: postgres
  host: db.internal
  user: etl
  dbname: bank
dirs:
  data: /srv/in
  archive: /srv/archive
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FRAUDWATCH_DATABASE_PASSWORD", "secret")
	t.Setenv("FRAUDWATCH_DATABASE_PORT", "6432")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Debug || cfg.Database.Host != "db.internal" || cfg.Dirs.Data != "/srv/in" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Database.Password != "secret" || cfg.Database.Port != 6432 {
		t.Errorf("env values not applied: %+v", cfg.Database)
	}
	wh := cfg.Warehouse()
	if wh.Driver != warehouse.DriverPostgres || wh.DBName != "bank" || !wh.Debug {
		t.Errorf("unexpected warehouse config %+v", wh)
	}
}

func TestLoad_MissingConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraudwatch.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: postgres\n  host: db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrMissingConnection) {
		t.Fatalf("expected ErrMissingConnection, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "oracle"}, Dirs: DirsConfig{Data: "d", Archive: "a"}}
	if err := cfg.Validate(); !errors.Is(err, warehouse.ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestLoad_ErrorDirFollowsArchive(t *testing.T) {
	t.Setenv("FRAUDWATCH_DIRS_ARCHIVE", "/srv/archive")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dirs.Archive != "/srv/archive" || cfg.Dirs.Error != "" {
		t.Fatalf("unexpected dirs %+v", cfg.Dirs)
	}
}
