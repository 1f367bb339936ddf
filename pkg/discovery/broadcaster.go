package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/speedwire"
)

type BroadcasterOptions struct {
	Port     int
	Interval time.Duration
	// Addresses overrides interface discovery. Entries are hosts or host:port.
	Addresses []string
	// OnSend, when set, is called after every send attempt.
	OnSend func(target *net.UDPAddr, err error)
}

// Broadcaster periodically announces a server's ports.
type Broadcaster struct {
	opts    BroadcasterOptions
	offer   []byte
	pc      net.PacketConn
	targets []*net.UDPAddr
}

func NewBroadcaster(opts BroadcasterOptions, udpPort, tcpPort uint16) *Broadcaster {
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Broadcaster{
		opts:  opts,
		offer: speedwire.AppendOffer(nil, speedwire.Offer{UDPPort: udpPort, TCPPort: tcpPort}),
	}
}

// Listen resolves the targets and opens the broadcast socket. Run calls it
// when it has not been called yet.
func (b *Broadcaster) Listen(ctx context.Context) error {
	if b.pc != nil {
		return nil
	}
	targets, err := b.resolveTargets()
	if err != nil {
		return err
	}
	lc := net.ListenConfig{Control: broadcastControl}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("open broadcast socket: %w", err)
	}
	b.pc = pc
	b.targets = targets
	return nil
}

// Run sends the offer once per interval until ctx is cancelled. Only socket
// setup errors are returned; failed sends are logged and retried next tick.
func (b *Broadcaster) Run(ctx context.Context) error {
	if err := b.Listen(ctx); err != nil {
		return err
	}
	defer b.pc.Close()

	internal.Info("broadcasting offers", internal.Fields{
		internal.FieldPort:               b.opts.Port,
		internal.FieldKey("targets"):     len(b.targets),
		internal.FieldKey("interval_ms"): b.opts.Interval.Milliseconds(),
	})

	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()
	for {
		b.sendAll()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close releases a socket opened by Listen when Run is never started.
func (b *Broadcaster) Close() error {
	if b.pc == nil {
		return nil
	}
	return b.pc.Close()
}

func (b *Broadcaster) sendAll() {
	for _, t := range b.targets {
		_, err := b.pc.WriteTo(b.offer, t)
		if err != nil {
			internal.Warn("offer send failed", internal.Fields{
				internal.FieldAddr:  t.String(),
				internal.FieldError: err.Error(),
			})
		}
		if b.opts.OnSend != nil {
			b.opts.OnSend(t, err)
		}
	}
}

func (b *Broadcaster) resolveTargets() ([]*net.UDPAddr, error) {
	if len(b.opts.Addresses) > 0 {
		out := make([]*net.UDPAddr, 0, len(b.opts.Addresses))
		for _, a := range b.opts.Addresses {
			host, port := a, strconv.Itoa(b.opts.Port)
			if h, p, err := net.SplitHostPort(a); err == nil {
				host, port = h, p
			}
			ua, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, port))
			if err != nil {
				return nil, fmt.Errorf("broadcast address %q: %w", a, err)
			}
			out = append(out, ua)
		}
		return out, nil
	}

	ips := InterfaceBroadcastAddrs()
	if len(ips) == 0 {
		ips = []net.IP{net.IPv4bcast}
	}
	out := make([]*net.UDPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, &net.UDPAddr{IP: ip, Port: b.opts.Port})
	}
	return out, nil
}

// InterfaceBroadcastAddrs returns the directed broadcast address of every up,
// non-loopback IPv4 interface that supports broadcast.
func InterfaceBroadcastAddrs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		internal.Warn("list interfaces failed", internal.Fields{internal.FieldError: err.Error()})
		return nil
	}
	var out []net.IP
	seen := map[string]struct{}{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			ipn, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			bc := DirectedBroadcast(ipn)
			if bc == nil {
				continue
			}
			if _, dup := seen[bc.String()]; dup {
				continue
			}
			seen[bc.String()] = struct{}{}
			out = append(out, bc)
		}
	}
	return out
}

// DirectedBroadcast returns the subnet broadcast address of an IPv4 network,
// or nil for IPv6.
func DirectedBroadcast(n *net.IPNet) net.IP {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip4[i] | ^mask[i]
	}
	return out
}
