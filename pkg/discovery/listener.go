package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/speedwire"
	"golang.org/x/net/ipv4"
)

type State int

const (
	StateListening State = iota
	StateDone
)

func (s State) String() string {
	if s == StateDone {
		return "done"
	}
	return "listening"
}

var ErrListenerDone = errors.New("discovery listener already done")

// Listener waits for the first valid offer on the discovery port. It moves
// from LISTENING to DONE exactly once and releases its socket on the way.
type Listener struct {
	conn net.PacketConn
	pc   *ipv4.PacketConn
	cm   bool

	mu    sync.Mutex
	state State
}

// NewListener binds addr (":50000" for the well-known port) and starts in
// LISTENING.
func NewListener(ctx context.Context, addr string) (*Listener, error) {
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("bind discovery listener %s: %w", addr, err)
	}
	l := &Listener{conn: conn, pc: ipv4.NewPacketConn(conn)}
	if err := l.pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		internal.Debug("discovery control messages unavailable", internal.Fields{
			internal.FieldError: err.Error(),
		})
	} else {
		l.cm = true
	}
	internal.Debug("discovery listener bound", internal.Fields{
		internal.FieldAddr: conn.LocalAddr().String(),
	})
	return l, nil
}

func (l *Listener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Next blocks until a datagram decodes as an Offer. Anything else is dropped
// and the listener keeps waiting. On success, on ctx cancellation, and on a
// socket error the listener ends in DONE.
func (l *Listener) Next(ctx context.Context) (Endpoint, error) {
	if l.State() == StateDone {
		return Endpoint{}, ErrListenerDone
	}
	defer l.finish()

	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 1500)
	for {
		n, cm, src, err := l.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Endpoint{}, ctx.Err()
			}
			return Endpoint{}, fmt.Errorf("discovery read: %w", err)
		}

		var offer speedwire.Offer
		if _, err := offer.Decode(buf[:n]); err != nil {
			internal.Debug("discovery dropped datagram", internal.Fields{
				internal.FieldAddr:  src.String(),
				internal.FieldSize:  n,
				internal.FieldError: err.Error(),
			})
			continue
		}
		ua, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}

		ep := Endpoint{Addr: ua.IP, UDPPort: offer.UDPPort, TCPPort: offer.TCPPort}
		fields := internal.Fields{
			internal.FieldAddr:    ua.IP.String(),
			internal.FieldUDPPort: offer.UDPPort,
			internal.FieldTCPPort: offer.TCPPort,
		}
		if l.cm && cm != nil {
			fields[internal.FieldKey("iface")] = interfaceName(cm.IfIndex)
			if cm.Dst != nil {
				fields[internal.FieldKey("dst")] = cm.Dst.String()
			}
		}
		internal.Info("received offer", fields)
		return ep, nil
	}
}

func (l *Listener) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDone {
		return
	}
	l.state = StateDone
	_ = l.conn.Close()
}

// Close releases the socket without waiting for an offer.
func (l *Listener) Close() error {
	l.finish()
	return nil
}

// Discover binds addr and returns the first server that offers itself.
func Discover(ctx context.Context, addr string) (Endpoint, error) {
	l, err := NewListener(ctx, addr)
	if err != nil {
		return Endpoint{}, err
	}
	return l.Next(ctx)
}

func interfaceName(index int) string {
	if index <= 0 {
		return "unknown"
	}
	iface, err := net.InterfaceByIndex(index)
	if err != nil {
		return strconv.Itoa(index)
	}
	return iface.Name
}
