package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jgoldverg/gspeed/internal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Serve exposes reg on addr under /metrics until ctx is cancelled. It returns
// once the listener is bound; the HTTP server runs in the background.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) (net.Addr, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			internal.Warn("metrics server stopped", internal.Fields{
				internal.FieldAddr:  ln.Addr().String(),
				internal.FieldError: err.Error(),
			})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	internal.Info("metrics endpoint listening", internal.Fields{
		internal.FieldAddr: ln.Addr().String(),
	})
	return ln.Addr(), nil
}
