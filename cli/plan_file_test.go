package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jgoldverg/gspeed/pkg/speedclient"
)

func writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write plan file: %v", err)
	}
	return path
}

func TestLoadPlanDocumentFormats(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "plan.yaml", "version: 1\nudp_requests: 5\ntcp_requests: 3\npayload_size: 64K\n"},
		{"yml", "plan.yml", "udp_requests: 5\ntcp_requests: 3\npayload_size: 65536\n"},
		{"json", "plan.json", `{"version": 1, "udp_requests": 5, "tcp_requests": 3, "payload_size": "64KiB"}`},
		{"json number", "plan.json", `{"udp_requests": 5, "tcp_requests": 3, "payload_size": 65536}`},
		{"toml", "plan.toml", "version = 1\nudp_requests = 5\ntcp_requests = 3\npayload_size = \"64K\"\n"},
		{"toml number", "plan.toml", "udp_requests = 5\ntcp_requests = 3\npayload_size = 65536\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := loadPlanDocument(writePlan(t, tc.file, tc.content))
			if err != nil {
				t.Fatalf("load plan: %v", err)
			}
			var plan speedclient.TestPlan
			var have planFields
			doc.applyTo(&plan, &have)
			if !have.complete() {
				t.Fatalf("expected every field set, got %+v", have)
			}
			want := speedclient.TestPlan{UDPRequests: 5, TCPRequests: 3, PayloadSize: 65536}
			if plan != want {
				t.Fatalf("got %+v want %+v", plan, want)
			}
		})
	}
}

func TestLoadPlanDocumentDefaultsToYAML(t *testing.T) {
	doc, err := loadPlanDocument(writePlan(t, "plan.txt", "udp_requests: 2\n"))
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("expected version defaulted to 1, got %d", doc.Version)
	}
	if doc.UDPRequests == nil || *doc.UDPRequests != 2 {
		t.Fatalf("unexpected udp_requests %v", doc.UDPRequests)
	}
	if doc.TCPRequests != nil || doc.PayloadSize.set {
		t.Fatalf("expected unset fields to stay unset: %+v", doc)
	}
}

func TestLoadPlanDocumentRejects(t *testing.T) {
	cases := map[string]string{
		"version":  "version: 2\nudp_requests: 1\n",
		"negative": "udp_requests: -1\n",
		"size":     "payload_size: lots\n",
		"neg size": "payload_size: -5\n",
		"list":     "payload_size: [1, 2]\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadPlanDocument(writePlan(t, "plan.yaml", content)); err == nil {
				t.Fatalf("expected error for %q", content)
			}
		})
	}
	if _, err := loadPlanDocument(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPlanDocumentDoesNotOverrideFlags(t *testing.T) {
	doc, err := loadPlanDocument(writePlan(t, "plan.yaml", "udp_requests: 9\ntcp_requests: 9\npayload_size: 9\n"))
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	plan := speedclient.TestPlan{UDPRequests: 1}
	have := planFields{udp: true}
	doc.applyTo(&plan, &have)
	if plan.UDPRequests != 1 || plan.TCPRequests != 9 || plan.PayloadSize != 9 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]uint64{
		"2048":   2048,
		"2048B":  2048,
		"64k":    64 << 10,
		"64KB":   64 << 10,
		"64KiB":  64 << 10,
		"10M":    10 << 20,
		"1.5M":   3 << 19,
		"2G":     2 << 30,
		" 1T ":   1 << 40,
		"0":      0,
		"512 kb": 512 << 10,
	}
	for in, want := range cases {
		got, err := parseSize(in)
		if err != nil {
			t.Fatalf("parseSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseSize(%q) got %d want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "K", "GB", "abc", "-1", "1X", "99999999999999999999T"} {
		if _, err := parseSize(bad); err == nil {
			t.Fatalf("parseSize(%q) expected error", bad)
		}
	}
}
