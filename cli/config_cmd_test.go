package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigShowWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	out, err := runRoot(t, "--config", path, "config", "show", "--target", "server")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"udp_mtu = 995", "discovery_port = 50000", "offer_interval_ms = 1000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestConfigSetUpdatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	if _, err := runRoot(t, "--config", path, "config", "set", "udp_idle_timeout_ms", "2500"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := runRoot(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "udp_idle_timeout_ms = 2500") {
		t.Fatalf("expected updated value in output:\n%s", out)
	}
}

func TestConfigSetRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	if _, err := runRoot(t, "--config", path, "config", "set", "no_such_key", "1", "--target", "server"); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if _, err := runRoot(t, "--config", path, "config", "set", "udp_mtu", "0", "--target", "server"); err == nil {
		t.Fatalf("expected validation error")
	}
	out, err := runRoot(t, "--config", path, "config", "show", "--target", "server")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "udp_mtu = 995") {
		t.Fatalf("rejected value must not be persisted:\n%s", out)
	}
	if _, err := runRoot(t, "config", "show", "--target", "router"); err == nil {
		t.Fatalf("expected bad target error")
	}
}
