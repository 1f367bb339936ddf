package speedserver

import (
	"bytes"
	"fmt"

	"github.com/jgoldverg/gspeed/pkg/speedwire"
)

// FillByte is the content of every payload byte the server sends.
const FillByte byte = 0xFF

const tcpChunkSize = 64 * 1024

var tcpFill = bytes.Repeat([]byte{FillByte}, tcpChunkSize)

// SegmentPlan splits a UDP response of Size bytes into MTU-sized payloads.
type SegmentPlan struct {
	Size  uint64
	MTU   uint64
	Total uint64
}

func NewSegmentPlan(size uint64, mtu int) (SegmentPlan, error) {
	if mtu <= 0 || mtu > speedwire.MaxSegmentPayload {
		return SegmentPlan{}, fmt.Errorf("mtu %d out of range 1..%d", mtu, speedwire.MaxSegmentPayload)
	}
	m := uint64(mtu)
	total := size / m
	if size%m != 0 {
		total++
	}
	return SegmentPlan{Size: size, MTU: m, Total: total}, nil
}

// PayloadLen is MTU for every segment but the last, which carries the rest.
func (p SegmentPlan) PayloadLen(index uint64) int {
	if index >= p.Total {
		return 0
	}
	if index < p.Total-1 {
		return int(p.MTU)
	}
	return int(p.Size - (p.Total-1)*p.MTU)
}
