package speedclient

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/jgoldverg/gspeed/pkg/discovery"
	"github.com/jgoldverg/gspeed/pkg/speedwire"
)

func (e *Engine) runTCP(ctx context.Context, ep discovery.Endpoint, size uint64, res TransferResult) TransferResult {
	dialer := net.Dialer{Timeout: e.opts.TCPTimeout}
	conn, err := dialer.DialContext(ctx, "tcp4", ep.TCPAddr())
	if err != nil {
		res.Status = StatusFailed
		res.Err = &TransportError{Op: "connect", Err: err}
		return res
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	start := time.Now()
	_ = conn.SetWriteDeadline(start.Add(e.opts.TCPTimeout))
	if _, err := conn.Write(speedwire.AppendTCPRequest(nil, size)); err != nil {
		res.Status = StatusFailed
		res.Err = &TransportError{Op: "send request", Err: err}
		return res
	}

	buf := make([]byte, 64*1024)
	last := start
	for {
		_ = conn.SetReadDeadline(time.Now().Add(e.opts.TCPTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			res.BytesReceived += uint64(n)
			last = time.Now()
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() && res.BytesReceived == 0 {
			res.Elapsed = time.Since(start)
			res.Status = StatusNoResponse
			res.Err = ErrNoResponse
			return res
		}
		res.Err = &TransportError{Op: "receive", Err: err}
		break
	}

	res.Elapsed = last.Sub(start)
	switch {
	case res.BytesReceived >= size && res.Err == nil:
		res.Status = StatusComplete
	case res.BytesReceived == 0 && res.Err != nil:
		res.Status = StatusFailed
	case res.BytesReceived == 0:
		res.Status = StatusNoResponse
		res.Err = ErrNoResponse
	default:
		res.Status = StatusPartial
	}
	return res
}
