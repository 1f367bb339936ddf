package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerConfigWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server_config.toml")

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load server config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written at %s: %v", path, err)
	}
	if cfg.DiscoveryPort != DefaultDiscoveryPort {
		t.Fatalf("discovery port: got %d want %d", cfg.DiscoveryPort, DefaultDiscoveryPort)
	}
	if cfg.UDPMtu != DefaultUDPMtu {
		t.Fatalf("udp mtu: got %d want %d", cfg.UDPMtu, DefaultUDPMtu)
	}
	if cfg.OfferInterval() != time.Second {
		t.Fatalf("offer interval: got %v want %v", cfg.OfferInterval(), time.Second)
	}
	if cfg.ServerId == "" {
		t.Fatal("expected a generated server id")
	}

	again, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("reload server config: %v", err)
	}
	if again.ServerId != cfg.ServerId {
		t.Fatalf("server id not persisted: got %q want %q", again.ServerId, cfg.ServerId)
	}
}

func TestLoadServerConfigReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	content := `
udp_mtu = 1000
tcp_port = 6001
udp_port = 6000
broadcast_addresses = ["192.168.1.255"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GSPEED_SERVER_TCP_READ_TIMEOUT_MS", "2500")

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load server config: %v", err)
	}
	if cfg.UDPMtu != 1000 || cfg.UDPPort != 6000 || cfg.TCPPort != 6001 {
		t.Fatalf("unexpected ports/mtu: %+v", cfg)
	}
	if len(cfg.BroadcastAddresses) != 1 || cfg.BroadcastAddresses[0] != "192.168.1.255" {
		t.Fatalf("unexpected broadcast addresses %v", cfg.BroadcastAddresses)
	}
	if cfg.TCPReadTimeout() != 2500*time.Millisecond {
		t.Fatalf("env override ignored: got %v", cfg.TCPReadTimeout())
	}
}

func TestLoadServerConfigRejectsInvalidMtu(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte("udp_mtu = 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatal("expected validation error for udp_mtu = 0")
	}
}

func TestLoadClientConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_config.toml")
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load client config: %v", err)
	}
	if cfg.UDPIdleTimeout() != time.Second {
		t.Fatalf("udp idle timeout: got %v want %v", cfg.UDPIdleTimeout(), time.Second)
	}
	if cfg.TCPTimeout() != 10*time.Second {
		t.Fatalf("tcp timeout: got %v want %v", cfg.TCPTimeout(), 10*time.Second)
	}
	if cfg.ListenAddr() != ":50000" {
		t.Fatalf("listen addr: got %q want %q", cfg.ListenAddr(), ":50000")
	}
	if cfg.MaxParallel != 0 {
		t.Fatalf("max parallel: got %d want 0", cfg.MaxParallel)
	}
}

func TestDefaultConfigsAreValid(t *testing.T) {
	if err := DefaultServerConfig().Validate(); err != nil {
		t.Fatalf("default server config invalid: %v", err)
	}
	if err := DefaultClientConfig().Validate(); err != nil {
		t.Fatalf("default client config invalid: %v", err)
	}
}

func TestConfigureLogger(t *testing.T) {
	defer SetLogLevel(LevelInfo)

	if err := ConfigureLogger("DEBUG"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if getLevel() != LevelDebug {
		t.Fatalf("level: got %v want %v", getLevel(), LevelDebug)
	}
	if err := ConfigureLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if getLevel() != LevelInfo {
		t.Fatalf("unknown level should fall back to info, got %v", getLevel())
	}
	if err := ConfigureLogger("trace"); err == nil {
		t.Fatal("trace is not a supported level")
	}
}

func TestFieldArgsAreSortedByKey(t *testing.T) {
	args := fieldArgs(Fields{FieldTaskID: "UDP #1", FieldAddr: "127.0.0.1", FieldSize: 40})
	want := []string{"addr", "size", "task"}
	if len(args) != len(want) {
		t.Fatalf("args: got %d want %d", len(args), len(want))
	}
	for i, key := range want {
		if args[i].Key != key {
			t.Fatalf("arg %d: got %q want %q", i, args[i].Key, key)
		}
	}
	if fieldArgs(nil) != nil {
		t.Fatal("nil fields should produce no args")
	}
}
