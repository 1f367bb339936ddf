package speedclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/discovery"
	"github.com/jgoldverg/gspeed/pkg/metrics"
	"github.com/jgoldverg/gspeed/pkg/pool"
)

type EngineOptions struct {
	UDPIdleTimeout    time.Duration
	UDPReadBufferSize int
	TCPTimeout        time.Duration
	// MaxParallel bounds concurrent transfers; 0 runs every transfer at once.
	MaxParallel int
	Metrics     *metrics.RunCollector
}

func EngineOptionsFromConfig(cfg *internal.ClientConfig) EngineOptions {
	return EngineOptions{
		UDPIdleTimeout:    cfg.UDPIdleTimeout(),
		UDPReadBufferSize: cfg.UDPReadBufferSize,
		TCPTimeout:        cfg.TCPTimeout(),
		MaxParallel:       cfg.MaxParallel,
	}
}

// Engine runs the transfers of a TestPlan against one server.
type Engine struct {
	opts EngineOptions
}

type transferTask struct {
	kind  Kind
	index int
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.UDPIdleTimeout <= 0 {
		opts.UDPIdleTimeout = internal.DefaultUDPIdleTimeout * time.Millisecond
	}
	if opts.TCPTimeout <= 0 {
		opts.TCPTimeout = internal.DefaultTCPTimeoutMs * time.Millisecond
	}
	if opts.MaxParallel < 0 {
		opts.MaxParallel = 0
	}
	return &Engine{opts: opts}
}

// Run launches every UDP and TCP transfer of plan concurrently and waits for
// all of them. onResult, when set, is called once per transfer as it finishes;
// calls are serialised. Results come back in completion order. A failing
// transfer never affects the others, so the only error is an invalid plan.
func (e *Engine) Run(ctx context.Context, ep discovery.Endpoint, plan TestPlan, onResult func(TransferResult)) ([]TransferResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	internal.Info("benchmark run started", internal.Fields{
		internal.FieldRunID:      runID,
		internal.FieldAddr:       ep.Addr.String(),
		internal.FieldKey("udp"): plan.UDPRequests,
		internal.FieldKey("tcp"): plan.TCPRequests,
		internal.FieldSize:       plan.PayloadSize,
	})
	if e.opts.Metrics != nil {
		e.opts.Metrics.BeginRun()
		defer e.opts.Metrics.EndRun()
	}

	var (
		mu      sync.Mutex
		results = make([]TransferResult, 0, plan.Transfers())
	)
	// Workers outlive ctx so every queued transfer still reports a result.
	wp := pool.NewWorkerPool[transferTask](e.opts.MaxParallel, plan.Transfers())
	wp.Start(context.WithoutCancel(ctx), func(_ context.Context, t transferTask) {
		res := e.runTask(ctx, runID, ep, plan.PayloadSize, t)
		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
		if e.opts.Metrics != nil {
			e.opts.Metrics.ObserveTransfer(res.sample())
		}
		if onResult != nil {
			onResult(res)
		}
	})

	submit := context.WithoutCancel(ctx)
	for i := 1; i <= plan.UDPRequests; i++ {
		wp.Submit(submit, transferTask{kind: KindUDP, index: i})
	}
	for i := 1; i <= plan.TCPRequests; i++ {
		wp.Submit(submit, transferTask{kind: KindTCP, index: i})
	}
	wp.Close()
	wp.Wait()

	internal.Info("benchmark run finished", internal.Fields{
		internal.FieldRunID:          runID,
		internal.FieldKey("results"): len(results),
	})
	return results, nil
}

func (e *Engine) runTask(ctx context.Context, runID string, ep discovery.Endpoint, size uint64, t transferTask) TransferResult {
	res := TransferResult{
		ID:             uuid.NewString(),
		Kind:           t.kind,
		Index:          t.index,
		BytesRequested: size,
	}
	internal.Debug("transfer started", internal.Fields{
		internal.FieldRunID:     runID,
		internal.FieldTaskID:    res.Label(),
		internal.FieldTransport: t.kind.String(),
	})

	if err := ctx.Err(); err != nil {
		res.Status = StatusFailed
		res.Err = &TransportError{Op: "start", Err: err}
	} else if t.kind == KindTCP {
		res = e.runTCP(ctx, ep, size, res)
	} else {
		res = e.runUDP(ctx, ep, size, res)
	}

	fields := internal.Fields{
		internal.FieldRunID:         runID,
		internal.FieldTaskID:        res.Label(),
		internal.FieldKey("status"): res.Status.String(),
		internal.FieldElapsed:       res.Elapsed.String(),
		internal.FieldSize:          res.BytesReceived,
	}
	if res.Kind == KindUDP {
		fields[internal.FieldSegments] = res.SegmentsReceived
	}
	if res.Err != nil {
		fields[internal.FieldError] = res.Err.Error()
	}
	if res.Status == StatusFailed {
		internal.Warn("transfer failed", fields)
	} else {
		internal.Info("transfer finished", fields)
	}
	return res
}
