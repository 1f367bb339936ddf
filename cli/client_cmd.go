package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jgoldverg/gspeed/cli/output"
	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/discovery"
	"github.com/jgoldverg/gspeed/pkg/metrics"
	"github.com/jgoldverg/gspeed/pkg/speedclient"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type clientOpts struct {
	plan             planOpts
	discoveryPort    int
	discoveryTimeout time.Duration
	maxParallel      int
	metricsAddr      string
	once             bool
	noPrompt         bool
}

func ClientCommand() *cobra.Command {
	var opts clientOpts

	cmd := &cobra.Command{
		Use:     "client",
		Aliases: []string{"c", "run"},
		Short:   "Discover a server and run speed tests against it",
		Long: `Waits for a server offer on the discovery port, then runs the requested number
of concurrent UDP and TCP transfers and prints a report. Without --once the
client goes back to discovery after every run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := internal.LoadClientConfig(getConfigPath(cmd))
			if err != nil {
				return fmt.Errorf("failed to load client config: %w", err)
			}
			applyLogLevel(cmd, cfg.LogLevel)

			flags := cmd.Flags()
			if flags.Changed("discovery-port") {
				cfg.DiscoveryPort = opts.discoveryPort
			}
			if flags.Changed("discovery-timeout") {
				cfg.DiscoveryTimeoutMs = int(opts.discoveryTimeout / time.Millisecond)
			}
			if flags.Changed("max-parallel") {
				cfg.MaxParallel = opts.maxParallel
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = opts.metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			collector := metrics.NewRunCollector("")
			if cfg.MetricsAddr != "" {
				if _, err := metrics.Serve(ctx, cfg.MetricsAddr, collector.Registry()); err != nil {
					return err
				}
			}
			engineOpts := speedclient.EngineOptionsFromConfig(cfg)
			engineOpts.Metrics = collector
			engine := speedclient.NewEngine(engineOpts)

			var prompt promptFunc
			if !opts.noPrompt {
				prompt = ptermPrompt
			}
			printer := output.NewPrinter()
			internal.Debug("client ready", internal.Fields{
				internal.FieldKey("client_id"): cfg.ClientId,
				internal.FieldAddr:             cfg.ListenAddr(),
			})

			for {
				ep, err := discover(ctx, cfg)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				output.PrintEndpoint(ep)

				plan, err := resolvePlan(flags, &opts.plan, prompt)
				if err != nil {
					return err
				}
				output.PrintPlan(plan)

				started := time.Now()
				results, err := engine.Run(ctx, ep, plan, printer.Result)
				if err != nil {
					return err
				}
				if err := output.PrintReport(results, time.Since(started)); err != nil {
					return err
				}
				if opts.once || ctx.Err() != nil {
					return nil
				}
				pterm.Println()
				pterm.Info.Println("Waiting for the next server offer (Ctrl+C to quit)")
			}
		},
	}

	opts.plan.register(cmd.Flags())
	cmd.Flags().IntVar(&opts.discoveryPort, "discovery-port", internal.DefaultDiscoveryPort, "UDP port to listen on for server offers (overrides config)")
	cmd.Flags().DurationVar(&opts.discoveryTimeout, "discovery-timeout", 0, "Give up if no server is discovered within this long (0 = wait forever)")
	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", 0, "Limit concurrent transfers (0 = all at once)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9101")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Exit after a single run")
	cmd.Flags().BoolVar(&opts.noPrompt, "no-prompt", false, "Never prompt; missing plan fields fall back to zero")
	return cmd
}

func discover(ctx context.Context, cfg *internal.ClientConfig) (discovery.Endpoint, error) {
	if timeout := cfg.DiscoveryTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Waiting for a server offer on %s", cfg.ListenAddr()))
	ep, err := discovery.Discover(ctx, cfg.ListenAddr())
	if spinner != nil {
		if err != nil {
			spinner.Fail("No server discovered")
		} else {
			_ = spinner.Stop()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ep, fmt.Errorf("no server offer within %s", cfg.DiscoveryTimeout())
	}
	return ep, err
}
