package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "privateer.ini")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %s", err)
	}

	return path
}

func TestDefaultMatchesConfigTable(t *testing.T) {
	cfg := Default()

	if cfg.Internal.ListenPort != 35000 {
		t.Fatalf("ListenPort = %d, want 35000", cfg.Internal.ListenPort)
	}

	if cfg.Internal.MaxConnections != 1024 {
		t.Fatalf("MaxConnections = %d, want 1024", cfg.Internal.MaxConnections)
	}

	if cfg.Tracker.AnnounceInterval != 1800*time.Second {
		t.Fatalf("AnnounceInterval = %s, want 1800s", cfg.Tracker.AnnounceInterval)
	}

	if cfg.Tracker.NumwantLimit != 50 {
		t.Fatalf("NumwantLimit = %d, want 50", cfg.Tracker.NumwantLimit)
	}

	if cfg.Timers.PeersTimeout != 7200*time.Second {
		t.Fatalf("PeersTimeout = %s, want 7200s", cfg.Timers.PeersTimeout)
	}

	if cfg.Timers.ReapPeersInterval != 1800*time.Second {
		t.Fatalf("ReapPeersInterval = %s, want 1800s", cfg.Timers.ReapPeersInterval)
	}

	if cfg.Timers.ScheduleInterval != 3*time.Second {
		t.Fatalf("ScheduleInterval = %s, want 3s", cfg.Timers.ScheduleInterval)
	}

	if cfg.Timers.DelReasonLifetime != 86400*time.Second {
		t.Fatalf("DelReasonLifetime = %s, want 86400s", cfg.Timers.DelReasonLifetime)
	}

	if cfg.Debug.Readonly {
		t.Fatalf("Readonly = true, want false")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %s", err)
	}

	if cfg.Internal.ListenPort != 35000 {
		t.Fatalf("ListenPort = %d, want default 35000", cfg.Internal.ListenPort)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[internal]
listen_port = 36000
max_connections = 2048

[tracker]
announce_interval = 900
numwant_limit = 75

[timers]
peers_timeout = 3600

[mysql]
host = db.example.org
port = 3307
db = privateer_prod
user = privateer_rw
passwd = hunter2

[gazelle]
site_password = topsecret

[debug]
readonly = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}

	if cfg.Internal.ListenPort != 36000 {
		t.Fatalf("ListenPort = %d, want 36000", cfg.Internal.ListenPort)
	}

	if cfg.Tracker.AnnounceInterval != 900*time.Second {
		t.Fatalf("AnnounceInterval = %s, want 900s", cfg.Tracker.AnnounceInterval)
	}

	if cfg.Tracker.NumwantLimit != 75 {
		t.Fatalf("NumwantLimit = %d, want 75", cfg.Tracker.NumwantLimit)
	}

	if cfg.Timers.PeersTimeout != 3600*time.Second {
		t.Fatalf("PeersTimeout = %s, want 3600s", cfg.Timers.PeersTimeout)
	}

	if cfg.MySQL.DSN() != "privateer_rw:hunter2@tcp(db.example.org:3307)/privateer_prod" {
		t.Fatalf("unexpected DSN: %s", cfg.MySQL.DSN())
	}

	if cfg.Gazelle.SitePassword != "topsecret" {
		t.Fatalf("SitePassword = %q, want topsecret", cfg.Gazelle.SitePassword)
	}

	if !cfg.Debug.Readonly {
		t.Fatalf("Readonly = false, want true")
	}

	// Untouched sections still carry their defaults.
	if cfg.Timers.ScheduleInterval != 3*time.Second {
		t.Fatalf("ScheduleInterval = %s, want default 3s", cfg.Timers.ScheduleInterval)
	}
}
