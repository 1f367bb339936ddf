package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jgoldverg/gspeed/pkg/metrics"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerDisplayFinalSnapshot(t *testing.T) {
	collector := metrics.NewServerCollector("")
	done := collector.BeginTransfer(true)
	collector.ObserveSegment(1000)
	collector.ObserveSegment(48)
	done()

	var out lockedBuffer
	d := NewServerDisplay("", collector).WithWriter(&out)
	if err := d.Start(testContext(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.Stop()

	got := out.String()
	for _, want := range []string{"Segments Sent", "1.02 KB", "UDP Requests"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestServerDisplayNilCollector(t *testing.T) {
	d := NewServerDisplay("idle", nil)
	if err := d.Start(testContext(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.Stop()
}

func TestServerDisplayStopsRendering(t *testing.T) {
	collector := metrics.NewServerCollector("")
	var out lockedBuffer
	d := NewServerDisplay("", collector).WithWriter(&out)
	d.interval = 5 * time.Millisecond
	if err := d.Start(testContext(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	d.Stop()

	stopped := out.String()
	if !strings.Contains(stopped, "Offers Sent") {
		t.Fatalf("expected live board output, got:\n%s", stopped)
	}
	time.Sleep(30 * time.Millisecond)
	if out.String() != stopped {
		t.Fatal("board kept rendering after Stop")
	}
}
