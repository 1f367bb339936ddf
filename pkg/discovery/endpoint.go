package discovery

import (
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultPort is the well-known port offers are broadcast to.
const DefaultPort = 50000

// Endpoint is a server learned from an offer.
type Endpoint struct {
	Addr    net.IP
	UDPPort uint16
	TCPPort uint16
}

func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.Addr, Port: int(e.UDPPort)}
}

func (e Endpoint) TCPAddr() string {
	return net.JoinHostPort(e.Addr.String(), strconv.Itoa(int(e.TCPPort)))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (udp %d, tcp %d)", e.Addr, e.UDPPort, e.TCPPort)
}

func broadcastControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// reuseControl lets several clients on one host wait for offers on the same port.
func reuseControl(_, _ string, c syscall.RawConn) error {
	return c.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
}
