package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/peerwave/peerwave/internal/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != "ws://localhost:8090/signal" {
		t.Errorf("unexpected default server url: %q", cfg.ServerURL)
	}
	if cfg.WebRTC.ChunkLimit != 16384 {
		t.Errorf("unexpected default chunk limit: %d", cfg.WebRTC.ChunkLimit)
	}
	if len(cfg.WebRTC.STUNServers) == 0 {
		t.Error("expected a default STUN server")
	}
}

func TestLoad_ReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server_url: ws://relay.example:9000/signal
username: alice
app_name: demo
rooms:
  - lobby
  - dev
log_level: debug
webrtc:
  stun_servers:
    - stun:stun.example:3478
  chunk_limit: 4096
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != "ws://relay.example:9000/signal" {
		t.Errorf("server url not read: %q", cfg.ServerURL)
	}
	if cfg.Username != "alice" || cfg.AppName != "demo" {
		t.Errorf("identity not read: %q / %q", cfg.Username, cfg.AppName)
	}
	if len(cfg.Rooms) != 2 || cfg.Rooms[0] != "lobby" {
		t.Errorf("rooms not read: %v", cfg.Rooms)
	}
	if cfg.WebRTC.ChunkLimit != 4096 {
		t.Errorf("chunk limit not read: %d", cfg.WebRTC.ChunkLimit)
	}
	if len(cfg.WebRTC.STUNServers) != 1 || cfg.WebRTC.STUNServers[0] != "stun:stun.example:3478" {
		t.Errorf("stun servers not read: %v", cfg.WebRTC.STUNServers)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("username: alice\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("PEERWAVE_USERNAME", "bob")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Username != "bob" {
		t.Errorf("expected env override bob, got %q", cfg.Username)
	}
}
