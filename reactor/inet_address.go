package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// InetAddress wraps an IPv4 sockaddr. The library is IPv4-only by
// design (spec Non-goal: no other address families).
type InetAddress struct {
	sa unix.SockaddrInet4
}

// NewInetAddress builds an address from a port and textual IPv4
// address, defaulting to loopback. An invalid address is a programmer
// error: it panics rather than returning a recoverable error, matching
// InetAddress's constructor in the original source, which throws.
func NewInetAddress(port uint16, ip string) InetAddress {
	if ip == "" {
		ip = "127.0.0.1"
	}
	parsed := net.ParseIP(ip)
	v4 := parsed.To4()
	if v4 == nil {
		panic(fmt.Sprintf("reactor: invalid IPv4 address %q", ip))
	}
	var sa unix.SockaddrInet4
	sa.Port = int(port)
	copy(sa.Addr[:], v4)
	return InetAddress{sa: sa}
}

func inetAddressFromSockaddr(sa unix.SockaddrInet4) InetAddress {
	return InetAddress{sa: sa}
}

func (a InetAddress) ToIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.sa.Addr[0], a.sa.Addr[1], a.sa.Addr[2], a.sa.Addr[3])
}

func (a InetAddress) ToPort() uint16 { return uint16(a.sa.Port) }

func (a InetAddress) ToIPPort() string { return fmt.Sprintf("%s:%d", a.ToIP(), a.ToPort()) }

func (a InetAddress) sockaddr() *unix.SockaddrInet4 { return &a.sa }
