package speedserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jgoldverg/gspeed/internal"
	"github.com/jgoldverg/gspeed/pkg/discovery"
	"github.com/jgoldverg/gspeed/pkg/metrics"
	"github.com/jgoldverg/gspeed/pkg/pool"
	"github.com/jgoldverg/gspeed/pkg/speedwire"
	"golang.org/x/sys/unix"
)

var ErrAlreadyRunning = errors.New("speed server already running")

type Options struct {
	ServerID string
	Host     string
	UDPPort  int
	TCPPort  int

	DiscoveryPort      int
	BroadcastAddresses []string
	OfferInterval      time.Duration
	DisableBroadcast   bool

	MTU             int
	ReadBufferSize  int
	WriteBufferSize int
	UDPWorkers      int
	// TCPWorkers bounds concurrent TCP handlers. When all are busy and the
	// queue is full, new connections are closed immediately. 0 is unbounded.
	TCPWorkers      int
	TCPReadTimeout  time.Duration
	MaxRequestBytes uint64

	Metrics *metrics.ServerCollector
}

func OptionsFromConfig(cfg *internal.ServerConfig) Options {
	return Options{
		ServerID:           cfg.ServerId,
		Host:               cfg.Host,
		UDPPort:            cfg.UDPPort,
		TCPPort:            cfg.TCPPort,
		DiscoveryPort:      cfg.DiscoveryPort,
		BroadcastAddresses: cfg.BroadcastAddresses,
		OfferInterval:      cfg.OfferInterval(),
		MTU:                cfg.UDPMtu,
		ReadBufferSize:     cfg.UDPReadBufferSize,
		WriteBufferSize:    cfg.UDPWriteBufferSize,
		UDPWorkers:         cfg.UDPWorkers,
		TCPWorkers:         cfg.TCPWorkers,
		TCPReadTimeout:     cfg.TCPReadTimeout(),
		MaxRequestBytes:    cfg.MaxRequestBytes,
	}
}

// Server answers UDP and TCP transfer requests and advertises itself with
// periodic offers.
type Server struct {
	opts    Options
	metrics *metrics.ServerCollector

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	udpConn net.PacketConn
	tcpLn   net.Listener
	bc      *discovery.Broadcaster
	udpPool *pool.WorkerPool[packet]
	tcpPool *pool.WorkerPool[net.Conn]
	loops   sync.WaitGroup
}

func New(opts Options) (*Server, error) {
	if opts.MTU == 0 {
		opts.MTU = internal.DefaultUDPMtu
	}
	if opts.MTU < 1 || opts.MTU > speedwire.MaxSegmentPayload {
		return nil, fmt.Errorf("mtu %d out of range 1..%d", opts.MTU, speedwire.MaxSegmentPayload)
	}
	if opts.TCPReadTimeout <= 0 {
		opts.TCPReadTimeout = internal.DefaultTCPTimeoutMs * time.Millisecond
	}
	if opts.MaxRequestBytes == 0 {
		opts.MaxRequestBytes = internal.DefaultMaxRequestBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewServerCollector("")
	}
	return &Server{opts: opts, metrics: opts.Metrics}, nil
}

func (s *Server) Metrics() *metrics.ServerCollector { return s.metrics }

// Start binds both request sockets and the broadcast socket, then launches the
// receive loops. A bind failure stops whatever was already acquired and is
// returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	if err := s.bindLocked(runCtx); err != nil {
		internal.Error("speed server startup failed", internal.Fields{
			internal.FieldError: err.Error(),
		})
		s.shutdownLocked()
		return err
	}

	s.udpPool = pool.NewWorkerPool[packet](s.opts.UDPWorkers, 0).
		OnDiscard(func(p packet) { requestBuffers.PutBuffer(p.buf) })
	s.udpPool.Start(runCtx, s.handleUDP)
	s.tcpPool = pool.NewWorkerPool[net.Conn](s.opts.TCPWorkers, 0).
		OnDiscard(func(c net.Conn) { _ = c.Close() })
	s.tcpPool.Start(runCtx, s.handleTCP)

	s.loops.Add(2)
	go s.udpLoop(runCtx)
	go s.acceptLoop(runCtx)
	if s.bc != nil {
		s.loops.Add(1)
		go func() {
			defer s.loops.Done()
			if err := s.bc.Run(runCtx); err != nil {
				internal.Error("offer broadcaster stopped", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}
		}()
	}

	internal.Info("speed server started", internal.Fields{
		internal.FieldKey("server_id"): s.opts.ServerID,
		internal.FieldUDPPort:          s.udpPortLocked(),
		internal.FieldTCPPort:          s.tcpPortLocked(),
		internal.FieldKey("mtu"):       s.opts.MTU,
	})
	return nil
}

func (s *Server) bindLocked(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddrControl}

	udpAddr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.UDPPort))
	pc, err := lc.ListenPacket(ctx, "udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("bind udp %s: %w", udpAddr, err)
	}
	s.udpConn = pc
	if uc, ok := pc.(*net.UDPConn); ok {
		if s.opts.ReadBufferSize > 0 {
			_ = uc.SetReadBuffer(s.opts.ReadBufferSize)
		}
		if s.opts.WriteBufferSize > 0 {
			_ = uc.SetWriteBuffer(s.opts.WriteBufferSize)
		}
	}

	tcpAddr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.TCPPort))
	ln, err := lc.Listen(ctx, "tcp4", tcpAddr)
	if err != nil {
		return fmt.Errorf("bind tcp %s: %w", tcpAddr, err)
	}
	s.tcpLn = ln

	if s.opts.DisableBroadcast {
		return nil
	}
	m := s.metrics
	bc := discovery.NewBroadcaster(discovery.BroadcasterOptions{
		Port:      s.opts.DiscoveryPort,
		Interval:  s.opts.OfferInterval,
		Addresses: s.opts.BroadcastAddresses,
		OnSend:    func(_ *net.UDPAddr, err error) { m.ObserveOffer(err) },
	}, uint16(s.udpPortLocked()), uint16(s.tcpPortLocked()))
	if err := bc.Listen(ctx); err != nil {
		return err
	}
	s.bc = bc
	return nil
}

// Stop cancels the loops, closes the sockets to unblock them and waits for
// in-flight handlers. It is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.shutdownLocked()
	internal.Info("speed server stopped", nil)
}

func (s *Server) shutdownLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.udpConn != nil {
		_ = s.udpConn.Close()
	}
	if s.tcpLn != nil {
		_ = s.tcpLn.Close()
	}
	s.loops.Wait()
	if s.bc != nil {
		_ = s.bc.Close()
	}
	if s.udpPool != nil {
		s.udpPool.Close()
		s.udpPool.Wait()
	}
	if s.tcpPool != nil {
		s.tcpPool.Close()
		s.tcpPool.Wait()
	}
	s.udpConn, s.tcpLn, s.bc = nil, nil, nil
	s.udpPool, s.tcpPool = nil, nil
	s.running = false
}

// UDPPort is the bound UDP request port, 0 when stopped.
func (s *Server) UDPPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.udpPortLocked()
}

func (s *Server) TCPPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tcpPortLocked()
}

func (s *Server) udpPortLocked() int {
	if s.udpConn == nil {
		return 0
	}
	if ua, ok := s.udpConn.LocalAddr().(*net.UDPAddr); ok {
		return ua.Port
	}
	return 0
}

func (s *Server) tcpPortLocked() int {
	if s.tcpLn == nil {
		return 0
	}
	if ta, ok := s.tcpLn.Addr().(*net.TCPAddr); ok {
		return ta.Port
	}
	return 0
}

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	return c.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
