package output

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jgoldverg/gspeed/pkg/metrics"
	"github.com/pterm/pterm"
)

// ServerDisplay renders live server activity using pterm primitives. The board
// refreshes every interval while running; Stop leaves the final numbers on
// screen, or prints them as a section when no live board was shown.
type ServerDisplay struct {
	title     string
	collector *metrics.ServerCollector
	interval  time.Duration

	mu     sync.Mutex
	area   *pterm.AreaPrinter
	ticker *time.Ticker
	cancel context.CancelFunc
	done   chan struct{}
	writer io.Writer
}

func NewServerDisplay(title string, collector *metrics.ServerCollector) *ServerDisplay {
	if strings.TrimSpace(title) == "" {
		title = "Server Activity"
	}
	return &ServerDisplay{
		title:     title,
		collector: collector,
		interval:  500 * time.Millisecond,
	}
}

// WithWriter renders into w instead of a pterm area.
func (d *ServerDisplay) WithWriter(w io.Writer) *ServerDisplay {
	d.writer = w
	return d
}

// Start begins rendering the live board. No-op when collector is nil or the
// board is already running.
func (d *ServerDisplay) Start(ctx context.Context) error {
	if d == nil || d.collector == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return nil
	}
	if d.writer == nil {
		area, err := pterm.DefaultArea.WithRemoveWhenDone(false).Start()
		if err != nil {
			return err
		}
		d.area = area
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.ticker = time.NewTicker(d.interval)
	d.done = make(chan struct{})
	go d.loop(ctx, d.ticker.C, d.done)
	return nil
}

func (d *ServerDisplay) loop(ctx context.Context, tick <-chan time.Time, done chan<- struct{}) {
	defer close(done)
	d.render()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			d.render()
		}
	}
}

// Stop halts the refresh and shows the final snapshot if anything was served.
func (d *ServerDisplay) Stop() {
	if d == nil || d.collector == nil {
		return
	}
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.ticker.Stop()
	}
	area, writer, done := d.area, d.writer, d.done
	d.area, d.ticker, d.cancel, d.done = nil, nil, nil, nil
	d.mu.Unlock()
	if done != nil {
		<-done
	}

	snap := d.collector.Snapshot()
	served := snap.UDPRequests > 0 || snap.TCPRequests > 0
	switch {
	case writer != nil:
		if served {
			fmt.Fprintf(writer, "%s\nUptime: %s\r", serverTable(snap), formatDuration(snap.Uptime))
		}
	case area != nil:
		if served {
			area.Update(d.renderContent(snap))
		}
		_ = area.Stop()
	case served:
		pterm.Println()
		pterm.DefaultSection.Println(d.title)
		fmt.Println(serverTable(snap))
		fmt.Printf("Uptime: %s\n", formatDuration(snap.Uptime))
	}
}

func (d *ServerDisplay) render() {
	if d.collector == nil {
		return
	}
	content := d.renderContent(d.collector.Snapshot())

	d.mu.Lock()
	area := d.area
	writer := d.writer
	d.mu.Unlock()
	switch {
	case writer != nil:
		_, _ = fmt.Fprintf(writer, "%s\r", content)
	case area != nil:
		area.Update(content)
	}
}

func (d *ServerDisplay) renderContent(snap metrics.ServerSnapshot) string {
	header := pterm.DefaultHeader.
		WithBackgroundStyle(pterm.NewStyle(pterm.BgBlue)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightWhite, pterm.Bold)).
		WithFullWidth().
		Sprint(d.title)
	return fmt.Sprintf("%s\n%s\nUptime: %s    Active: %d", header, serverTable(snap), formatDuration(snap.Uptime), snap.ActiveTransfers)
}

func serverTable(snap metrics.ServerSnapshot) string {
	data := pterm.TableData{
		{"Metric", "Value"},
		{"Send Rate", formatMbps(snap.SendMbps)},
		{"Offers Sent", fmt.Sprintf("%d (%d errors)", snap.OffersSent, snap.OfferErrors)},
		{"UDP Requests", fmt.Sprintf("%d", snap.UDPRequests)},
		{"TCP Requests", fmt.Sprintf("%d", snap.TCPRequests)},
		{"UDP Dropped", fmt.Sprintf("%d", snap.UDPDropped)},
		{"TCP Rejected", fmt.Sprintf("%d", snap.TCPRejected)},
		{"Protocol Violations", fmt.Sprintf("%d", snap.ProtocolViolations)},
		{"Segments Sent", fmt.Sprintf("%d", snap.SegmentsSent)},
		{"UDP Bytes Sent", formatBytes(snap.UDPBytesSent)},
		{"TCP Bytes Sent", formatBytes(snap.TCPBytesSent)},
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return ""
	}
	return table
}

func formatMbps(mbps float64) string {
	if mbps <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.2f Mb/s", mbps)
}

func formatBytes(b uint64) string {
	const kb = 1024
	const mb = kb * 1024
	const gb = mb * 1024
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	case b > 0:
		return fmt.Sprintf("%d B", b)
	default:
		return "0 B"
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func formatPercent(ratio float64) string {
	if ratio <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", ratio*100)
}
