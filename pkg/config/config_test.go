package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("CONTRACT_PREFIX", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DBDriver != "sqlite3" {
		t.Errorf("DBDriver = %q, want sqlite3", cfg.DBDriver)
	}
	if cfg.ContractPrefix != "GDI" {
		t.Errorf("ContractPrefix = %q, want GDI", cfg.ContractPrefix)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	cfg := Load()
	if cfg.Port != "9090" || cfg.DBDriver != "postgres" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if loc.String() != "UTC" {
		t.Errorf("Location() = %s, want UTC", loc)
	}
}

func TestLocationRejectsUnknownZone(t *testing.T) {
	cfg := &Config{BusinessTimezone: "Mars/Olympus"}
	if _, err := cfg.Location(); err == nil {
		t.Error("expected an error for an unknown zone")
	}
}
