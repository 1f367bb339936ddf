package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgoldverg/gspeed/cli/output"
	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/metrics"
	"github.com/jgoldverg/gspeed/pkg/speedserver"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type serverOpts struct {
	udpPort     int
	tcpPort     int
	mtu         int
	metricsAddr string
	dashboard   bool
}

func ServerCommand() *cobra.Command {
	var opts serverOpts

	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"s", "serve"},
		Short:   "Run a speed test server",
		Long:    "Binds the UDP and TCP request ports, broadcasts offers on the discovery port and serves transfers until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := internal.LoadServerConfig(getConfigPath(cmd))
			if err != nil {
				return fmt.Errorf("failed to load server config: %w", err)
			}
			applyLogLevel(cmd, cfg.LogLevel)

			flags := cmd.Flags()
			if flags.Changed("udp-port") {
				cfg.UDPPort = opts.udpPort
			}
			if flags.Changed("tcp-port") {
				cfg.TCPPort = opts.tcpPort
			}
			if flags.Changed("mtu") {
				cfg.UDPMtu = opts.mtu
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = opts.metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			collector := metrics.NewServerCollector("")
			srvOpts := speedserver.OptionsFromConfig(cfg)
			srvOpts.Metrics = collector
			srv, err := speedserver.New(srvOpts)
			if err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("start server: %w", err)
			}
			defer srv.Stop()

			if cfg.MetricsAddr != "" {
				if _, err := metrics.Serve(ctx, cfg.MetricsAddr, collector.Registry()); err != nil {
					return err
				}
			}

			pterm.DefaultSection.Println("gspeed server")
			pterm.DefaultBasicText.Println("  UDP port:", srv.UDPPort())
			pterm.DefaultBasicText.Println("  TCP port:", srv.TCPPort())
			pterm.DefaultBasicText.Println("  Discovery port:", cfg.DiscoveryPort)
			pterm.DefaultBasicText.Println("  Segment payload:", cfg.UDPMtu, "bytes")

			var board *output.ServerDisplay
			if opts.dashboard {
				board = output.NewServerDisplay("Server Activity", collector)
				if err := board.Start(ctx); err != nil {
					internal.Warn("dashboard unavailable", internal.Fields{internal.FieldError: err.Error()})
					board = nil
				}
			}

			<-ctx.Done()
			if board != nil {
				board.Stop()
			}
			internal.Info("shutdown requested", nil)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.udpPort, "udp-port", 0, "UDP request port (0 = ephemeral, overrides config)")
	cmd.Flags().IntVar(&opts.tcpPort, "tcp-port", 0, "TCP request port (0 = ephemeral, overrides config)")
	cmd.Flags().IntVar(&opts.mtu, "mtu", internal.DefaultUDPMtu, "UDP segment payload size in bytes (overrides config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	cmd.Flags().BoolVar(&opts.dashboard, "dashboard", false, "Show a live activity table")
	return cmd
}
