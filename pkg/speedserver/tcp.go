package speedserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/speedwire"
)

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.loops.Done()
	ln := s.tcpLn
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return
			}
			internal.Warn("tcp accept failed", internal.Fields{
				internal.FieldError: err.Error(),
			})
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if !s.tcpPool.TrySubmit(conn) {
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			s.metrics.ObserveTCPRejected()
			internal.Warn("tcp workers busy, connection rejected", internal.Fields{
				internal.FieldAddr: conn.RemoteAddr().String(),
			})
		}
	}
}

func (s *Server) handleTCP(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	size, err := s.readTCPRequest(conn)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.ObserveProtocolViolation()
		internal.Warn("tcp request rejected", internal.Fields{
			internal.FieldAddr:  remote,
			internal.FieldError: err.Error(),
		})
		return
	}

	done := s.metrics.BeginTransfer(false)
	defer done()
	internal.Debug("tcp transfer started", internal.Fields{
		internal.FieldAddr: remote,
		internal.FieldSize: size,
	})

	written, err := s.writeFill(conn, size)
	if err != nil {
		internal.Warn("tcp transfer aborted", internal.Fields{
			internal.FieldAddr:           remote,
			internal.FieldSize:           size,
			internal.FieldKey("written"): written,
			internal.FieldError:          err.Error(),
		})
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	internal.Debug("tcp transfer finished", internal.Fields{
		internal.FieldAddr: remote,
		internal.FieldSize: written,
	})
}

// readTCPRequest reads one size line under the read timeout. A line longer
// than MaxTCPRequestLine, a timeout, or a size above the configured limit is a
// protocol violation.
func (s *Server) readTCPRequest(conn net.Conn) (uint64, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.TCPReadTimeout))
	defer conn.SetReadDeadline(time.Time{})

	r := bufio.NewReaderSize(io.LimitReader(conn, speedwire.MaxTCPRequestLine), speedwire.MaxTCPRequestLine)
	line, err := r.ReadString('\n')
	if err != nil {
		// a peer may half-close right after the digits
		if !errors.Is(err, io.EOF) || line == "" || len(line) >= speedwire.MaxTCPRequestLine {
			return 0, fmt.Errorf("%w: read size line: %v", speedwire.ErrProtocolViolation, err)
		}
	}
	size, err := speedwire.ParseTCPRequest(line)
	if err != nil {
		return 0, err
	}
	if size > s.opts.MaxRequestBytes {
		return 0, fmt.Errorf("%w: size %d exceeds limit %d", speedwire.ErrProtocolViolation, size, s.opts.MaxRequestBytes)
	}
	return size, nil
}

func (s *Server) writeFill(w io.Writer, size uint64) (uint64, error) {
	var written uint64
	for written < size {
		chunk := tcpFill
		if rem := size - written; rem < uint64(len(chunk)) {
			chunk = chunk[:rem]
		}
		n, err := w.Write(chunk)
		written += uint64(n)
		s.metrics.ObserveTCPWrite(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
