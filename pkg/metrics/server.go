package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServerCollector counts what a speed server has offered and served.
type ServerCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry

	startTime          time.Time
	offersSent         uint64
	offerErrors        uint64
	udpRequests        uint64
	tcpRequests        uint64
	udpDropped         uint64
	tcpRejected        uint64
	protocolViolations uint64
	segmentsSent       uint64
	udpBytesSent       uint64
	tcpBytesSent       uint64
	activeTransfers    int64
}

type ServerSnapshot struct {
	Uptime             time.Duration
	OffersSent         uint64
	OfferErrors        uint64
	UDPRequests        uint64
	TCPRequests        uint64
	UDPDropped         uint64
	TCPRejected        uint64
	ProtocolViolations uint64
	SegmentsSent       uint64
	UDPBytesSent       uint64
	TCPBytesSent       uint64
	ActiveTransfers    int64
	SendMbps           float64
}

func NewServerCollector(namespace string) *ServerCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	c := &ServerCollector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	c.registerMetrics()
	return c
}

func (c *ServerCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *ServerCollector) ObserveOffer(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.offerErrors++
		return
	}
	c.offersSent++
}

// ObserveUDPDropped counts datagrams on the request port that were not a
// valid request.
func (c *ServerCollector) ObserveUDPDropped() {
	c.mu.Lock()
	c.udpDropped++
	c.mu.Unlock()
}

// ObserveTCPRejected counts connections closed because every TCP worker was
// busy and the queue was full.
func (c *ServerCollector) ObserveTCPRejected() {
	c.mu.Lock()
	c.tcpRejected++
	c.mu.Unlock()
}

func (c *ServerCollector) ObserveProtocolViolation() {
	c.mu.Lock()
	c.protocolViolations++
	c.mu.Unlock()
}

// BeginTransfer records an accepted request; the returned func must be called
// once the response has been written.
func (c *ServerCollector) BeginTransfer(udp bool) func() {
	c.mu.Lock()
	if udp {
		c.udpRequests++
	} else {
		c.tcpRequests++
	}
	c.activeTransfers++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.activeTransfers--
		c.mu.Unlock()
	}
}

func (c *ServerCollector) ObserveSegment(payloadBytes int) {
	c.mu.Lock()
	c.segmentsSent++
	c.udpBytesSent += uint64(payloadBytes)
	c.mu.Unlock()
}

func (c *ServerCollector) ObserveTCPWrite(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.tcpBytesSent += uint64(n)
	c.mu.Unlock()
}

func (c *ServerCollector) Snapshot() ServerSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uptime := time.Since(c.startTime)
	return ServerSnapshot{
		Uptime:             uptime,
		OffersSent:         c.offersSent,
		OfferErrors:        c.offerErrors,
		UDPRequests:        c.udpRequests,
		TCPRequests:        c.tcpRequests,
		UDPDropped:         c.udpDropped,
		TCPRejected:        c.tcpRejected,
		ProtocolViolations: c.protocolViolations,
		SegmentsSent:       c.segmentsSent,
		UDPBytesSent:       c.udpBytesSent,
		TCPBytesSent:       c.tcpBytesSent,
		ActiveTransfers:    c.activeTransfers,
		SendMbps:           rateFromBytes(c.udpBytesSent+c.tcpBytesSent, uptime) * 8 / 1e6,
	}
}

func (c *ServerCollector) registerMetrics() {
	makeGauge := func(name, help string, valueFn func(ServerSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemServer,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return valueFn(c.Snapshot())
		})
	}
	makeCounter := func(name, help string, valueFn func(ServerSnapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemServer,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(valueFn(c.Snapshot()))
		})
	}

	c.registry.MustRegister(
		makeGauge("active_transfers", "Transfers currently being served.",
			func(s ServerSnapshot) float64 { return float64(s.ActiveTransfers) }),
		makeGauge("send_megabits_per_second", "Average payload send rate since start.",
			func(s ServerSnapshot) float64 { return s.SendMbps }),
		makeCounter("offers_sent_total", "Discovery offers broadcast.",
			func(s ServerSnapshot) uint64 { return s.OffersSent }),
		makeCounter("offer_errors_total", "Discovery offers that failed to send.",
			func(s ServerSnapshot) uint64 { return s.OfferErrors }),
		makeCounter("udp_requests_total", "Valid UDP requests served.",
			func(s ServerSnapshot) uint64 { return s.UDPRequests }),
		makeCounter("tcp_requests_total", "Valid TCP requests served.",
			func(s ServerSnapshot) uint64 { return s.TCPRequests }),
		makeCounter("udp_dropped_total", "Datagrams dropped on the request port.",
			func(s ServerSnapshot) uint64 { return s.UDPDropped }),
		makeCounter("tcp_rejected_total", "TCP connections closed because the worker queue was full.",
			func(s ServerSnapshot) uint64 { return s.TCPRejected }),
		makeCounter("protocol_violations_total", "TCP connections closed for a bad request line.",
			func(s ServerSnapshot) uint64 { return s.ProtocolViolations }),
		makeCounter("segments_sent_total", "UDP payload segments sent.",
			func(s ServerSnapshot) uint64 { return s.SegmentsSent }),
		makeCounter("udp_bytes_sent_total", "UDP payload bytes sent, excluding headers.",
			func(s ServerSnapshot) uint64 { return s.UDPBytesSent }),
		makeCounter("tcp_bytes_sent_total", "TCP payload bytes sent.",
			func(s ServerSnapshot) uint64 { return s.TCPBytesSent }),
	)
}
