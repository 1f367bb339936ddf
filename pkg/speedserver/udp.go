package speedserver

import (
	"context"
	"errors"
	"net"

	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/pool"
	"github.com/jgoldverg/gspeed/pkg/speedwire"
)

// Requests are 13 bytes; anything that fits a typical MTU is read whole so
// oversized junk is still recognised and dropped.
const requestDatagramSize = 2048

var requestBuffers = pool.NewBufferPool(requestDatagramSize)

type packet struct {
	buf *[]byte
	n   int
	src net.Addr
}

// udpLoop reads requests until the socket is closed and hands each datagram
// to its own handler task.
func (s *Server) udpLoop(ctx context.Context) {
	defer s.loops.Done()
	pc := s.udpConn
	for {
		buf := requestBuffers.GetBuffer()
		n, src, err := pc.ReadFrom(*buf)
		if err != nil {
			requestBuffers.PutBuffer(buf)
			if ctx.Err() != nil || isClosed(err) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			internal.Warn("udp read failed", internal.Fields{
				internal.FieldError: err.Error(),
			})
			continue
		}
		if !s.udpPool.TrySubmit(packet{buf: buf, n: n, src: src}) {
			requestBuffers.PutBuffer(buf)
			s.metrics.ObserveUDPDropped()
			internal.Debug("udp request queue full, datagram dropped", internal.Fields{
				internal.FieldAddr: src.String(),
			})
		}
	}
}

func (s *Server) handleUDP(ctx context.Context, p packet) {
	defer requestBuffers.PutBuffer(p.buf)

	var req speedwire.Request
	if _, err := req.Decode((*p.buf)[:p.n]); err != nil {
		s.metrics.ObserveUDPDropped()
		internal.Debug("udp datagram dropped", internal.Fields{
			internal.FieldAddr:  p.src.String(),
			internal.FieldSize:  p.n,
			internal.FieldError: err.Error(),
		})
		return
	}
	if req.Size > s.opts.MaxRequestBytes {
		s.metrics.ObserveUDPDropped()
		internal.Warn("udp request exceeds limit", internal.Fields{
			internal.FieldAddr:       p.src.String(),
			internal.FieldSize:       req.Size,
			internal.FieldKey("max"): s.opts.MaxRequestBytes,
		})
		return
	}

	plan, err := NewSegmentPlan(req.Size, s.opts.MTU)
	if err != nil {
		internal.Error("segment plan failed", internal.Fields{internal.FieldError: err.Error()})
		return
	}
	done := s.metrics.BeginTransfer(true)
	defer done()

	internal.Debug("udp transfer started", internal.Fields{
		internal.FieldAddr:     p.src.String(),
		internal.FieldSize:     req.Size,
		internal.FieldSegments: plan.Total,
	})
	sent, err := s.sendSegments(ctx, s.udpConn, p.src, plan)
	if err != nil {
		internal.Warn("udp transfer aborted", internal.Fields{
			internal.FieldAddr:      p.src.String(),
			internal.FieldSegments:  sent,
			internal.FieldKey("of"): plan.Total,
			internal.FieldError:     err.Error(),
		})
		return
	}
	internal.Debug("udp transfer finished", internal.Fields{
		internal.FieldAddr:     p.src.String(),
		internal.FieldSegments: sent,
	})
}

// sendSegments writes every segment of plan back to back. Transient write
// errors lose that segment only; a closed socket or cancelled ctx ends the
// transfer.
func (s *Server) sendSegments(ctx context.Context, pc net.PacketConn, dst net.Addr, plan SegmentPlan) (uint64, error) {
	buf := make([]byte, speedwire.SegmentHeaderLen+int(plan.MTU))
	for i := speedwire.SegmentHeaderLen; i < len(buf); i++ {
		buf[i] = FillByte
	}

	var sent uint64
	for i := uint64(0); i < plan.Total; i++ {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		plen := plan.PayloadLen(i)
		seg := speedwire.Segment{
			Total:   plan.Total,
			Index:   i,
			Payload: buf[speedwire.SegmentHeaderLen : speedwire.SegmentHeaderLen+plen],
		}
		n, err := seg.Encode(buf)
		if err != nil {
			return sent, err
		}
		if _, err := pc.WriteTo(buf[:n], dst); err != nil {
			if isClosed(err) {
				return sent, err
			}
			internal.Debug("segment write failed", internal.Fields{
				internal.FieldKey("index"): i,
				internal.FieldError:        err.Error(),
			})
			continue
		}
		sent++
		s.metrics.ObserveSegment(plen)
	}
	return sent, nil
}
