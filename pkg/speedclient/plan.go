package speedclient

import (
	"errors"
	"fmt"
)

var ErrInvalidPlan = errors.New("invalid test plan")

// TestPlan is what the operator asks for in one run.
type TestPlan struct {
	UDPRequests int    `json:"udp_requests" yaml:"udp_requests" toml:"udp_requests"`
	TCPRequests int    `json:"tcp_requests" yaml:"tcp_requests" toml:"tcp_requests"`
	PayloadSize uint64 `json:"payload_size" yaml:"payload_size" toml:"payload_size"`
}

func (p TestPlan) Validate() error {
	if p.UDPRequests < 0 {
		return fmt.Errorf("%w: udp requests must be >= 0, got %d", ErrInvalidPlan, p.UDPRequests)
	}
	if p.TCPRequests < 0 {
		return fmt.Errorf("%w: tcp requests must be >= 0, got %d", ErrInvalidPlan, p.TCPRequests)
	}
	if p.PayloadSize == 0 {
		return fmt.Errorf("%w: payload size must be > 0", ErrInvalidPlan)
	}
	return nil
}

func (p TestPlan) Transfers() int {
	return p.UDPRequests + p.TCPRequests
}
