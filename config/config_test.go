package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if cfg.Mirror.Port != 3000 || cfg.Mirror.DataDir != "data" || cfg.Mirror.DBName != "habitosdeleitura.db" {
		t.Fatalf("mirror defaults: %+v", cfg.Mirror)
	}
	if cfg.Snapshot.Source != "adb" || cfg.Snapshot.DevicePath != "" {
		t.Fatalf("snapshot defaults: %+v", cfg.Snapshot)
	}
	if cfg.RabbitMQ.URL != "" {
		t.Fatalf("RabbitMQ should be off by default")
	}
}

func TestOverrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"MIRROR_PORT":        "8081",
		"LOG_FORMAT":         "json",
		"SNAPSHOT_SOURCE":    "s3",
		"SNAPSHOT_S3_BUCKET": "backups",
	})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if cfg.Mirror.Port != 8081 || cfg.Log.Format != "json" || cfg.Snapshot.S3Bucket != "backups" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad port":          {"MIRROR_PORT": "0"},
		"non-numeric port":  {"MIRROR_PORT": "http"},
		"unknown source":    {"SNAPSHOT_SOURCE": "ftp"},
		"file without path": {"SNAPSHOT_SOURCE": "file"},
		"s3 without bucket": {"SNAPSHOT_SOURCE": "s3"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromMap(vars); err == nil {
				t.Fatalf("expected error for %v", vars)
			}
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("MIRROR_DB_NAME=copy.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("MIRROR_DB_NAME", "")
	os.Unsetenv("MIRROR_DB_NAME")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mirror.DBName != "copy.db" {
		t.Fatalf("DBName = %q", cfg.Mirror.DBName)
	}
}
