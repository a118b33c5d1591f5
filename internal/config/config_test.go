package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simbafs/stagesync/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Discovery.Interval != 10*time.Second {
		t.Errorf("unexpected discovery interval %v", cfg.Discovery.Interval)
	}
	if cfg.Registry.Staleness != 30*time.Second {
		t.Errorf("unexpected staleness %v", cfg.Registry.Staleness)
	}
	if cfg.Registry.HeartbeatInterval != 5*time.Second {
		t.Errorf("unexpected heartbeat interval %v", cfg.Registry.HeartbeatInterval)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STAGESYNC_ROLE", "display")
	t.Setenv("STAGESYNC_SESSION_HUB_URL", "ws://10.0.0.2:8080/ws")
	t.Setenv("STAGESYNC_DISCOVERY_INTERVAL", "3s")

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Role != "display" {
		t.Errorf("expected display role, got %q", cfg.Role)
	}
	if cfg.Session.HubURL != "ws://10.0.0.2:8080/ws" {
		t.Errorf("unexpected hub url %q", cfg.Session.HubURL)
	}
	if cfg.Discovery.Interval != 3*time.Second {
		t.Errorf("unexpected interval %v", cfg.Discovery.Interval)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	content := "server:\n  addr: \":9999\"\nregistry:\n  driver: memory\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Registry.Driver != "memory" {
		t.Errorf("config file not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STAGESYNC_ROLE", "projector")

	if _, err := Load(New()); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestCapability(t *testing.T) {
	var display Config
	display.Role = "display"
	display.Discovery.Enabled = true
	display.Session.Host = true

	got := display.Capability()
	if got.Browse || got.Host || !got.Advertise {
		t.Errorf("display capability: %+v", got)
	}

	var controller Config
	controller.Role = "controller"
	controller.Discovery.Enabled = true
	controller.Session.Host = true

	got = controller.Capability()
	if !got.Browse || !got.Host || got.Advertise || got.Role != domain.RoleController {
		t.Errorf("controller capability: %+v", got)
	}

	controller.Session.HubURL = "ws://hub/ws"
	if controller.Capability().Host {
		t.Error("controller pointed at a hub must not host")
	}
}

func TestLogLevel(t *testing.T) {
	cfg := Config{}
	cfg.Log.Level = "debug"
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("expected debug, got %v", cfg.LogLevel())
	}
	cfg.Log.Level = "nonsense"
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("expected info fallback, got %v", cfg.LogLevel())
	}
}
