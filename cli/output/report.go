package output

import (
	"fmt"
	"sort"
	"time"

	"github.com/jgoldverg/gspeed/pkg/speedclient"
	"github.com/pterm/pterm"
)

// ReportSummary aggregates one transport's results.
type ReportSummary struct {
	Kind       speedclient.Kind
	Transfers  int
	ByStatus   map[speedclient.Status]int
	Requested  uint64
	Received   uint64
	MeanBps    float64
	MeanRatio  float64
	MaxElapsed time.Duration
}

// Summarize groups results per transport. Kinds with no transfers are omitted.
func Summarize(results []speedclient.TransferResult) []ReportSummary {
	byKind := map[speedclient.Kind]*ReportSummary{}
	for _, r := range results {
		s, ok := byKind[r.Kind]
		if !ok {
			s = &ReportSummary{Kind: r.Kind, ByStatus: map[speedclient.Status]int{}}
			byKind[r.Kind] = s
		}
		s.Transfers++
		s.ByStatus[r.Status]++
		s.Requested += r.BytesRequested
		s.Received += r.BytesReceived
		s.MeanBps += r.Throughput()
		s.MeanRatio += r.DeliveryRatio()
		if r.Elapsed > s.MaxElapsed {
			s.MaxElapsed = r.Elapsed
		}
	}
	out := make([]ReportSummary, 0, len(byKind))
	for _, kind := range []speedclient.Kind{speedclient.KindUDP, speedclient.KindTCP} {
		s, ok := byKind[kind]
		if !ok {
			continue
		}
		s.MeanBps /= float64(s.Transfers)
		s.MeanRatio /= float64(s.Transfers)
		out = append(out, *s)
	}
	return out
}

// RenderResults returns the per-transfer table, UDP first then TCP, each in
// index order.
func RenderResults(results []speedclient.TransferResult) (string, error) {
	sorted := make([]speedclient.TransferResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].Index < sorted[j].Index
	})

	data := pterm.TableData{
		{"Transfer", "Status", "Elapsed", "Received", "Segments", "Delivery", "Throughput", "Error"},
	}
	for _, r := range sorted {
		data = append(data, []string{
			r.Label(),
			r.Status.String(),
			formatElapsed(r.Elapsed),
			humanizeSize(r.BytesReceived),
			formatSegments(r),
			formatDelivery(r),
			formatBitsPerSecond(r.Throughput()),
			formatErr(r.Err),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// RenderSummary returns the per-transport aggregate table.
func RenderSummary(results []speedclient.TransferResult) (string, error) {
	data := pterm.TableData{
		{"Transport", "Transfers", "Complete", "Partial", "No Response", "Failed", "Received", "Mean Delivery", "Mean Throughput", "Slowest"},
	}
	for _, s := range Summarize(results) {
		data = append(data, []string{
			s.Kind.String(),
			fmt.Sprintf("%d", s.Transfers),
			fmt.Sprintf("%d", s.ByStatus[speedclient.StatusComplete]),
			fmt.Sprintf("%d", s.ByStatus[speedclient.StatusPartial]),
			fmt.Sprintf("%d", s.ByStatus[speedclient.StatusNoResponse]),
			fmt.Sprintf("%d", s.ByStatus[speedclient.StatusFailed]),
			fmt.Sprintf("%s / %s", humanizeSize(s.Received), humanizeSize(s.Requested)),
			formatPercent(s.MeanRatio),
			formatBitsPerSecond(s.MeanBps),
			formatElapsed(s.MaxElapsed),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// PrintReport renders the results and summary tables for a finished run.
func PrintReport(results []speedclient.TransferResult, wall time.Duration) error {
	table, err := RenderResults(results)
	if err != nil {
		return err
	}
	summary, err := RenderSummary(results)
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Transfer results")
	pterm.Println(table)
	pterm.DefaultSection.Println("Summary")
	pterm.Println(summary)
	pterm.Printfln("Run finished in %s", formatElapsed(wall))
	return nil
}

// Result prints one transfer as it finishes.
func (p *Printer) Result(r speedclient.TransferResult) {
	fields := map[string]any{
		"elapsed":    formatElapsed(r.Elapsed),
		"received":   humanizeSize(r.BytesReceived),
		"throughput": formatBitsPerSecond(r.Throughput()),
	}
	if r.Kind == speedclient.KindUDP {
		fields["delivery"] = formatDelivery(r)
	}
	msg := fmt.Sprintf("%s %s", r.Label(), r.Status)
	switch r.Status {
	case speedclient.StatusComplete:
		p.Success(msg, fields)
	case speedclient.StatusPartial:
		p.Warn(msg, fields)
	case speedclient.StatusNoResponse:
		p.Warn(msg, nil)
	default:
		fields["error"] = formatErr(r.Err)
		p.Error(msg, fields)
	}
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d < time.Second {
		return fmt.Sprintf("%.2f ms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.3f s", d.Seconds())
}

func formatBitsPerSecond(bps float64) string {
	if bps <= 0 {
		return "--"
	}
	return formatMbps(bps / 1e6)
}

func formatSegments(r speedclient.TransferResult) string {
	if r.Kind != speedclient.KindUDP {
		return "--"
	}
	if r.SegmentsExpected == 0 {
		return fmt.Sprintf("%d", r.SegmentsReceived)
	}
	return fmt.Sprintf("%d/%d", r.SegmentsReceived, r.SegmentsExpected)
}

// formatDelivery shows "no data" instead of a ratio when nothing arrived.
func formatDelivery(r speedclient.TransferResult) string {
	if r.Status == speedclient.StatusNoResponse || (r.Status == speedclient.StatusFailed && r.BytesReceived == 0) {
		return "no data"
	}
	return formatPercent(r.DeliveryRatio())
}

func formatErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
