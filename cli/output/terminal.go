package output

import (
	"fmt"

	"github.com/jgoldverg/gspeed/pkg/discovery"
	"github.com/jgoldverg/gspeed/pkg/speedclient"
	"github.com/pterm/pterm"
)

func humanizeSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// PrintEndpoint announces a discovered server.
func PrintEndpoint(ep discovery.Endpoint) {
	pterm.DefaultSection.Println("Server discovered")
	pterm.Printfln("address = %s", ep.Addr)
	pterm.Printfln("udp-port = %d", ep.UDPPort)
	pterm.Printfln("tcp-port = %d", ep.TCPPort)
}

// PrintPlan shows what is about to be run.
func PrintPlan(plan speedclient.TestPlan) {
	pterm.Printfln("Running %d UDP and %d TCP transfers of %s each",
		plan.UDPRequests, plan.TCPRequests, humanizeSize(plan.PayloadSize))
}
