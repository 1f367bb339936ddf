package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jgoldverg/gspeed/pkg/speedclient"
	"gopkg.in/yaml.v3"
)

type planDocument struct {
	Version     int      `json:"version" yaml:"version" toml:"version"`
	UDPRequests *int     `json:"udp_requests" yaml:"udp_requests" toml:"udp_requests"`
	TCPRequests *int     `json:"tcp_requests" yaml:"tcp_requests" toml:"tcp_requests"`
	PayloadSize byteSize `json:"payload_size" yaml:"payload_size" toml:"payload_size"`
}

// byteSize accepts either a plain integer or a string with a K/M/G/T suffix.
type byteSize struct {
	set   bool
	bytes uint64
}

func (b *byteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("payload_size: expected a scalar")
	}
	return b.parse(node.Value)
}

func (b *byteSize) UnmarshalJSON(data []byte) error {
	data = bytesTrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		return b.parse(value)
	}
	return b.parse(string(data))
}

func (b *byteSize) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case int64:
		if value < 0 {
			return fmt.Errorf("payload_size must not be negative")
		}
		b.set, b.bytes = true, uint64(value)
		return nil
	case string:
		return b.parse(value)
	default:
		return fmt.Errorf("payload_size: unsupported TOML type %T", v)
	}
}

func (b *byteSize) parse(s string) error {
	n, err := parseSize(s)
	if err != nil {
		return fmt.Errorf("payload_size: %w", err)
	}
	b.set, b.bytes = true, n
	return nil
}

// parseSize reads sizes like "2048", "64K", "1.5MiB" or "2GB". Suffixes are
// binary multiples.
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	upper := strings.ToUpper(s)
	upper = strings.TrimSuffix(upper, "IB")
	upper = strings.TrimSuffix(upper, "B")

	mult := uint64(1)
	if n := len(upper); n > 0 {
		switch upper[n-1] {
		case 'K':
			mult = 1 << 10
		case 'M':
			mult = 1 << 20
		case 'G':
			mult = 1 << 30
		case 'T':
			mult = 1 << 40
		}
		if mult != 1 {
			upper = upper[:n-1]
		}
	}
	upper = strings.TrimSpace(upper)
	if upper == "" {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if v, err := strconv.ParseUint(upper, 10, 64); err == nil {
		if mult != 1 && v > ^uint64(0)/mult {
			return 0, fmt.Errorf("size %q overflows", s)
		}
		return v * mult, nil
	}
	f, err := strconv.ParseFloat(upper, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	total := f * float64(mult)
	if total >= float64(^uint64(0)) {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return uint64(total), nil
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\n' || b[start] == '\t' || b[start] == '\r') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}

func loadPlanDocument(path string) (*planDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	format := strings.ToLower(filepath.Ext(path))
	if format != ".yaml" && format != ".yml" && format != ".json" && format != ".toml" {
		format = ".yaml"
	}
	doc, err := decodePlanDocument(data, format)
	if err != nil {
		return nil, err
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Version != 1 {
		return nil, fmt.Errorf("unsupported plan version %d", doc.Version)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodePlanDocument(data []byte, format string) (*planDocument, error) {
	var doc planDocument
	switch format {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse plan file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse plan file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("parse plan file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", format)
	}
	return &doc, nil
}

func (doc *planDocument) validate() error {
	if doc.UDPRequests != nil && *doc.UDPRequests < 0 {
		return fmt.Errorf("udp_requests must not be negative")
	}
	if doc.TCPRequests != nil && *doc.TCPRequests < 0 {
		return fmt.Errorf("tcp_requests must not be negative")
	}
	return nil
}

// applyTo fills the plan fields the document sets and flags have not.
func (doc *planDocument) applyTo(plan *speedclient.TestPlan, have *planFields) {
	if doc.UDPRequests != nil && !have.udp {
		plan.UDPRequests = *doc.UDPRequests
		have.udp = true
	}
	if doc.TCPRequests != nil && !have.tcp {
		plan.TCPRequests = *doc.TCPRequests
		have.tcp = true
	}
	if doc.PayloadSize.set && !have.size {
		plan.PayloadSize = doc.PayloadSize.bytes
		have.size = true
	}
}
