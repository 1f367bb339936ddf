package speedclient

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/discovery"
	"github.com/jgoldverg/gspeed/pkg/speedwire"
)

// Indices are tracked in fixed pages so a large announced total only costs a
// page table until segments actually arrive.
const (
	trackerPageBits  = 1 << 16
	trackerPageWords = trackerPageBits / 64
)

// segmentTracker records which segment indices have arrived.
type segmentTracker struct {
	pages    []*[trackerPageWords]uint64
	distinct uint64
	dups     uint64
	reorder  uint64
	highest  uint64
	any      bool
}

// size makes room for indices below total. The table never shrinks, so marks
// survive a change of total.
func (st *segmentTracker) size(total uint64) {
	n := (total + trackerPageBits - 1) / trackerPageBits
	if n <= uint64(len(st.pages)) {
		return
	}
	resized := make([]*[trackerPageWords]uint64, n)
	copy(resized, st.pages)
	st.pages = resized
}

// mark returns false when index was already seen or lies outside the sized
// range.
func (st *segmentTracker) mark(index uint64) bool {
	p := index / trackerPageBits
	if p >= uint64(len(st.pages)) {
		return false
	}
	page := st.pages[p]
	if page == nil {
		page = new([trackerPageWords]uint64)
		st.pages[p] = page
	}
	word := (index % trackerPageBits) / 64
	bit := uint64(1) << (index % 64)
	if page[word]&bit != 0 {
		st.dups++
		return false
	}
	page[word] |= bit
	st.distinct++
	if st.any && index < st.highest {
		st.reorder++
	}
	if !st.any || index > st.highest {
		st.highest = index
	}
	st.any = true
	return true
}

func (e *Engine) runUDP(ctx context.Context, ep discovery.Endpoint, size uint64, res TransferResult) TransferResult {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		res.Status = StatusFailed
		res.Err = &TransportError{Op: "listen", Err: err}
		return res
	}
	defer conn.Close()
	if e.opts.UDPReadBufferSize > 0 {
		_ = conn.SetReadBuffer(e.opts.UDPReadBufferSize)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	start := time.Now()
	if _, err := conn.WriteTo(speedwire.AppendRequest(nil, speedwire.Request{Size: size}), ep.UDPAddr()); err != nil {
		res.Status = StatusFailed
		res.Err = &TransportError{Op: "send request", Err: err}
		return res
	}

	var (
		tracker  segmentTracker
		total    uint64
		lastSeen time.Time
		buf      = make([]byte, 64*1024)
	)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(e.opts.UDPIdleTimeout))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			res.Err = &TransportError{Op: "receive", Err: err}
			break
		}

		if src.Port != int(ep.UDPPort) || !src.IP.Equal(ep.Addr) {
			internal.Debug("udp datagram from unexpected source", internal.Fields{
				internal.FieldTaskID: res.Label(),
				internal.FieldAddr:   src.String(),
			})
			continue
		}

		var seg speedwire.Segment
		if _, err := seg.Decode(buf[:n]); err != nil {
			internal.Debug("udp datagram ignored", internal.Fields{
				internal.FieldTaskID: res.Label(),
				internal.FieldSize:   n,
				internal.FieldError:  err.Error(),
			})
			continue
		}
		if seg.Total == 0 || seg.Index >= seg.Total || seg.Total > size {
			internal.Debug("udp segment out of range", internal.Fields{
				internal.FieldTaskID:       res.Label(),
				internal.FieldKey("index"): seg.Index,
				internal.FieldKey("total"): seg.Total,
			})
			continue
		}
		total = seg.Total
		tracker.size(total)
		lastSeen = time.Now()
		if tracker.mark(seg.Index) {
			res.BytesReceived += uint64(len(seg.Payload))
		}
	}

	res.SegmentsExpected = total
	res.SegmentsReceived = tracker.distinct
	res.DuplicateSegments = tracker.dups
	res.ReorderedSegments = tracker.reorder

	switch {
	case tracker.distinct == 0:
		res.Elapsed = time.Since(start)
		if res.Err != nil {
			res.Status = StatusFailed
		} else {
			res.Status = StatusNoResponse
			res.Err = ErrNoResponse
		}
	default:
		res.Elapsed = lastSeen.Sub(start)
		if tracker.distinct >= total && res.BytesReceived >= size {
			res.Status = StatusComplete
		} else {
			res.Status = StatusPartial
		}
	}
	return res
}
