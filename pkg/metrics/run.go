package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace = "gspeed"
	subsystemClient  = "client"
	subsystemServer  = "server"
)

// TransferSample is the outcome of one client transfer as seen by metrics.
type TransferSample struct {
	Transport         string
	Status            string
	Elapsed           time.Duration
	BytesRequested    uint64
	BytesReceived     uint64
	SegmentsExpected  uint64
	SegmentsReceived  uint64
	DuplicateSegments uint64
}

// RunCollector aggregates client transfer results across benchmark runs.
type RunCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry

	runs             uint64
	transfers        uint64
	bytesRequested   uint64
	bytesReceived    uint64
	segmentsExpected uint64
	segmentsReceived uint64
	duplicates       uint64
	lastRunStart     time.Time
	lastRunElapsed   time.Duration
	lastRunBytes     uint64

	byStatus *prometheus.CounterVec
	elapsed  *prometheus.HistogramVec
}

// RunSnapshot is a point-in-time view of a RunCollector.
type RunSnapshot struct {
	Runs             uint64
	Transfers        uint64
	BytesRequested   uint64
	BytesReceived    uint64
	SegmentsExpected uint64
	SegmentsReceived uint64
	Duplicates       uint64
	DeliveryRatio    float64
	LastRunElapsed   time.Duration
	LastRunMbps      float64
}

func NewRunCollector(namespace string) *RunCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	c := &RunCollector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}
	c.registerMetrics()
	return c
}

func (c *RunCollector) Registry() *prometheus.Registry {
	return c.registry
}

// BeginRun marks the start of an engine run.
func (c *RunCollector) BeginRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	c.lastRunStart = time.Now()
	c.lastRunElapsed = 0
	c.lastRunBytes = 0
}

// EndRun closes the run opened by BeginRun.
func (c *RunCollector) EndRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastRunStart.IsZero() {
		c.lastRunElapsed = time.Since(c.lastRunStart)
	}
}

func (c *RunCollector) ObserveTransfer(s TransferSample) {
	c.mu.Lock()
	c.transfers++
	c.bytesRequested += s.BytesRequested
	c.bytesReceived += s.BytesReceived
	c.segmentsExpected += s.SegmentsExpected
	c.segmentsReceived += s.SegmentsReceived
	c.duplicates += s.DuplicateSegments
	c.lastRunBytes += s.BytesReceived
	c.mu.Unlock()

	c.byStatus.WithLabelValues(s.Transport, s.Status).Inc()
	if s.Elapsed > 0 {
		c.elapsed.WithLabelValues(s.Transport).Observe(s.Elapsed.Seconds())
	}
}

func (c *RunCollector) Snapshot() RunSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *RunCollector) snapshotLocked() RunSnapshot {
	var ratio float64
	if c.segmentsExpected > 0 {
		ratio = float64(c.segmentsReceived) / float64(c.segmentsExpected)
	}
	return RunSnapshot{
		Runs:             c.runs,
		Transfers:        c.transfers,
		BytesRequested:   c.bytesRequested,
		BytesReceived:    c.bytesReceived,
		SegmentsExpected: c.segmentsExpected,
		SegmentsReceived: c.segmentsReceived,
		Duplicates:       c.duplicates,
		DeliveryRatio:    ratio,
		LastRunElapsed:   c.lastRunElapsed,
		LastRunMbps:      rateFromBytes(c.lastRunBytes, c.lastRunElapsed) * 8 / 1e6,
	}
}

func (c *RunCollector) registerMetrics() {
	c.byStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: subsystemClient,
		Name:      "transfers_total",
		Help:      "Completed transfers by transport and status.",
	}, []string{"transport", "status"})
	c.elapsed = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: subsystemClient,
		Name:      "transfer_duration_seconds",
		Help:      "Time from request to last byte per transfer.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"transport"})
	c.registry.MustRegister(c.byStatus, c.elapsed)

	makeGauge := func(name, help string, valueFn func(RunSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemClient,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return valueFn(c.Snapshot())
		})
	}
	makeCounter := func(name, help string, valueFn func(RunSnapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemClient,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(valueFn(c.Snapshot()))
		})
	}

	c.registry.MustRegister(
		makeGauge("delivery_ratio",
			"Fraction of expected UDP segments that arrived, across all runs.",
			func(s RunSnapshot) float64 { return s.DeliveryRatio }),
		makeGauge("last_run_megabits_per_second",
			"Aggregate received throughput of the most recent run.",
			func(s RunSnapshot) float64 { return s.LastRunMbps }),
		makeCounter("runs_total", "Benchmark runs started.",
			func(s RunSnapshot) uint64 { return s.Runs }),
		makeCounter("bytes_requested_total", "Bytes asked for across all transfers.",
			func(s RunSnapshot) uint64 { return s.BytesRequested }),
		makeCounter("bytes_received_total", "Payload bytes received across all transfers.",
			func(s RunSnapshot) uint64 { return s.BytesReceived }),
		makeCounter("segments_received_total", "Distinct UDP segments received.",
			func(s RunSnapshot) uint64 { return s.SegmentsReceived }),
		makeCounter("segments_duplicate_total", "UDP segments received more than once.",
			func(s RunSnapshot) uint64 { return s.Duplicates }),
	)
}

func rateFromBytes(bytes uint64, elapsed time.Duration) float64 {
	if bytes == 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
