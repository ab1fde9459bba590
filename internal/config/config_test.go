package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadResolvesLDAPAndStoreByProfile(t *testing.T) {
	path := writeTestConfig(t, `
ldap:
  hpc1:
    searchbase: "dc=hpc1,dc=edu"
  hpc2:
    searchbase: "dc=hpc2,dc=edu"
store:
  hpc1:
    driver: postgres
    dsn: "postgres://hpc1"
  hpc2:
    driver: postgres
    dsn: "postgres://hpc2"
    slow_query_ms: 500
hippo:
  api_key: "hippokey"
`)

	cfg, err := Load(path, "hpc2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LDAP.SearchBase != "dc=hpc2,dc=edu" {
		t.Errorf("LDAP.SearchBase = %q, want dc=hpc2,dc=edu", cfg.LDAP.SearchBase)
	}
	if cfg.Store.DSN != "postgres://hpc2" {
		t.Errorf("Store.DSN = %q, want postgres://hpc2", cfg.Store.DSN)
	}
	if cfg.Store.SlowQueryMS != 500 {
		t.Errorf("Store.SlowQueryMS = %d, want 500", cfg.Store.SlowQueryMS)
	}
	if cfg.Hippo.APIKey != "hippokey" {
		t.Errorf("Hippo.APIKey = %q, want hippokey", cfg.Hippo.APIKey)
	}
}

func TestLoadFallsBackToFirstStoreEntryWhenProfileAbsent(t *testing.T) {
	path := writeTestConfig(t, `
ldap:
  hpc1:
    searchbase: "dc=hpc1,dc=edu"
store:
  onlyentry:
    driver: sqlite
    dsn: "file:test.db"
`)

	cfg, err := Load(path, "hpc1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "file:test.db" {
		t.Errorf("Store = %+v, want the lone store entry", cfg.Store)
	}
}

func TestLoadRejectsUnknownLDAPProfile(t *testing.T) {
	path := writeTestConfig(t, `
ldap:
  hpc1:
    searchbase: "dc=hpc1,dc=edu"
store:
  hpc1:
    driver: sqlite
    dsn: "file:test.db"
`)

	if _, err := Load(path, "nonexistent"); err == nil {
		t.Fatalf("expected an error for an unknown ldap profile")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "hpc1"); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeTestConfig(t, "ldap: [this is not a map")
	if _, err := Load(path, "hpc1"); err == nil {
		t.Fatalf("expected an error for malformed YAML")
	}
}

func TestLoadPreservesNilSMTPWhenAbsent(t *testing.T) {
	path := writeTestConfig(t, `
ldap:
  hpc1:
    searchbase: "dc=hpc1,dc=edu"
store:
  hpc1:
    driver: sqlite
    dsn: "file:test.db"
`)
	cfg, err := Load(path, "hpc1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SMTP != nil {
		t.Errorf("SMTP = %+v, want nil when absent from the config file", cfg.SMTP)
	}
}

func TestDefaultPathUsesXDGConfigHomeWhenSet(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")
	want := filepath.Join("/tmp/xdgtest", "cheeto", "config.yaml")
	if got := DefaultPath(); got != want {
		t.Errorf("DefaultPath = %q, want %q", got, want)
	}
}
