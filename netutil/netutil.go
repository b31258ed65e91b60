// Package netutil enumerates local broadcast-capable interfaces and
// opens the per-interface sockets the server sends replies from
// (spec.md §4.7).
package netutil

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Interface is one local IPv4-bearing interface the server can
// broadcast DHCP replies from.
type Interface struct {
	Name      string
	Addr      net.IP
	Broadcast net.IP
}

// LocalIPv4Addresses returns every up interface carrying an IPv4
// address, each paired with its subnet broadcast address. Loopback
// interfaces are included (spec.md §4.8: excluding loopback is
// implementation-defined, and the source includes it). Grounded on the
// standard net.Interfaces()/Addrs() walk; no example repo does
// anything fancier for interface discovery, so stdlib is the idiomatic
// choice here (see DESIGN.md).
func LocalIPv4Addresses() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("netutil: list interfaces: %w", err)
	}

	var out []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}
			bcast := make(net.IP, 4)
			for i := range bcast {
				bcast[i] = v4[i] | ^ipNet.Mask[i]
			}
			out = append(out, Interface{Name: iface.Name, Addr: v4, Broadcast: bcast})
		}
	}
	return out, nil
}

// ListenBroadcastUDP opens a UDP socket bound to addr:port with
// SO_REUSEADDR and SO_BROADCAST set, so multiple per-interface sockets
// can coexist and the server can send to 255.255.255.255. Grounded on
// ngcxy-dranet's pkg/dhcp raw-socket setup, adapted to net.ListenConfig's
// Control hook instead of a hand-rolled syscall.Socket/Bind sequence,
// since only the socket options (not namespace/device binding) are
// needed here.
func ListenBroadcastUDP(addr net.IP, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, fmt.Errorf("netutil: listen %s:%d: %w", addr, port, err)
	}
	return conn.(*net.UDPConn), nil
}
