package speedclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/jgoldverg/gspeed/pkg/metrics"
)

type Kind int

const (
	KindUDP Kind = iota
	KindTCP
)

func (k Kind) String() string {
	if k == KindTCP {
		return "tcp"
	}
	return "udp"
}

type Status int

const (
	// StatusComplete means every requested byte arrived.
	StatusComplete Status = iota
	// StatusPartial means some data arrived but less than requested.
	StatusPartial
	// StatusNoResponse means nothing at all arrived before the timeout.
	StatusNoResponse
	// StatusFailed means a socket operation failed; Err holds a *TransportError.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	case StatusNoResponse:
		return "no response"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var ErrNoResponse = errors.New("server did not respond")

// TransportError wraps a socket failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransferResult describes one finished transfer. Segment fields are only
// populated for UDP.
type TransferResult struct {
	ID     string
	Kind   Kind
	Index  int
	Status Status
	// Elapsed runs from sending the request to the last byte received.
	Elapsed time.Duration

	BytesRequested uint64
	BytesReceived  uint64

	SegmentsExpected  uint64
	SegmentsReceived  uint64
	DuplicateSegments uint64
	ReorderedSegments uint64

	Err error
}

// Label is the display name of the transfer, e.g. "UDP #2".
func (r TransferResult) Label() string {
	if r.Kind == KindTCP {
		return fmt.Sprintf("TCP #%d", r.Index)
	}
	return fmt.Sprintf("UDP #%d", r.Index)
}

// DeliveryRatio is received/expected segments for UDP and received/requested
// bytes for TCP. It is 0 when nothing was expected or nothing arrived.
func (r TransferResult) DeliveryRatio() float64 {
	if r.Kind == KindUDP {
		if r.SegmentsExpected == 0 {
			return 0
		}
		return float64(r.SegmentsReceived) / float64(r.SegmentsExpected)
	}
	if r.BytesRequested == 0 {
		return 0
	}
	return float64(r.BytesReceived) / float64(r.BytesRequested)
}

// Throughput is received payload in bits per second.
func (r TransferResult) Throughput() float64 {
	if r.Elapsed <= 0 || r.BytesReceived == 0 {
		return 0
	}
	return float64(r.BytesReceived) * 8 / r.Elapsed.Seconds()
}

func (r TransferResult) sample() metrics.TransferSample {
	return metrics.TransferSample{
		Transport:         r.Kind.String(),
		Status:            r.Status.String(),
		Elapsed:           r.Elapsed,
		BytesRequested:    r.BytesRequested,
		BytesReceived:     r.BytesReceived,
		SegmentsExpected:  r.SegmentsExpected,
		SegmentsReceived:  r.SegmentsReceived,
		DuplicateSegments: r.DuplicateSegments,
	}
}
