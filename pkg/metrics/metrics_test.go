package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunCollectorAggregates(t *testing.T) {
	c := NewRunCollector("")
	c.BeginRun()
	c.ObserveTransfer(TransferSample{
		Transport: "udp", Status: "complete", Elapsed: 10 * time.Millisecond,
		BytesRequested: 2048, BytesReceived: 2048, SegmentsExpected: 3, SegmentsReceived: 3,
	})
	c.ObserveTransfer(TransferSample{
		Transport: "udp", Status: "partial", Elapsed: 10 * time.Millisecond,
		BytesRequested: 2048, BytesReceived: 1000, SegmentsExpected: 3, SegmentsReceived: 1, DuplicateSegments: 2,
	})
	c.ObserveTransfer(TransferSample{
		Transport: "tcp", Status: "complete", Elapsed: 5 * time.Millisecond,
		BytesRequested: 5000, BytesReceived: 5000,
	})
	c.EndRun()

	s := c.Snapshot()
	if s.Runs != 1 || s.Transfers != 3 {
		t.Fatalf("counts: got runs=%d transfers=%d", s.Runs, s.Transfers)
	}
	if s.BytesReceived != 8048 {
		t.Fatalf("bytes received: got %d want 8048", s.BytesReceived)
	}
	if s.DeliveryRatio < 0.66 || s.DeliveryRatio > 0.67 {
		t.Fatalf("delivery ratio: got %f want 4/6", s.DeliveryRatio)
	}
	if s.Duplicates != 2 {
		t.Fatalf("duplicates: got %d want 2", s.Duplicates)
	}
	if got := testutil.ToFloat64(c.byStatus.WithLabelValues("udp", "partial")); got != 1 {
		t.Fatalf("udp partial counter: got %f want 1", got)
	}
	if _, err := c.Registry().Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestRunCollectorRatioWithoutSegments(t *testing.T) {
	c := NewRunCollector("x")
	c.ObserveTransfer(TransferSample{Transport: "tcp", Status: "failed"})
	if r := c.Snapshot().DeliveryRatio; r != 0 {
		t.Fatalf("ratio with no expected segments: got %f want 0", r)
	}
}

func TestServerCollectorTransfers(t *testing.T) {
	c := NewServerCollector("")
	done := c.BeginTransfer(true)
	c.ObserveSegment(1000)
	c.ObserveSegment(48)
	if c.Snapshot().ActiveTransfers != 1 {
		t.Fatal("expected one active transfer")
	}
	done()
	c.BeginTransfer(false)()
	c.ObserveTCPWrite(5000)
	c.ObserveOffer(nil)
	c.ObserveOffer(errors.New("unreachable"))
	c.ObserveProtocolViolation()
	c.ObserveUDPDropped()
	c.ObserveTCPRejected()

	s := c.Snapshot()
	if s.ActiveTransfers != 0 || s.UDPRequests != 1 || s.TCPRequests != 1 {
		t.Fatalf("transfer counts: %+v", s)
	}
	if s.SegmentsSent != 2 || s.UDPBytesSent != 1048 || s.TCPBytesSent != 5000 {
		t.Fatalf("byte counts: %+v", s)
	}
	if s.OffersSent != 1 || s.OfferErrors != 1 || s.ProtocolViolations != 1 || s.UDPDropped != 1 || s.TCPRejected != 1 {
		t.Fatalf("event counts: %+v", s)
	}
}

func TestServeExposesRegistry(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	c := NewServerCollector("")
	c.ObserveOffer(nil)
	addr, err := Serve(ctx, "127.0.0.1:0", c.Registry())
	if err != nil {
		t.Fatalf("serve: %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "gspeed_server_offers_sent_total 1") {
		t.Fatalf("metrics output missing offer counter:\n%s", body)
	}
}
