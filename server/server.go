// Package server wires dhcpmsg, transaction, allocator, scheduler, and
// hoststore together into the long-running DHCPv4 daemon described in
// spec.md §4.7: a UDP/67 receive loop, a delay scheduler, and a
// periodic sweep, each a goroutine coordinated by an errgroup, plus
// per-interface broadcast sends on every local IPv4 address.
package server

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kbatten/dhcpd/dhcpmsg"
	"github.com/kbatten/dhcpd/netutil"
	"github.com/kbatten/dhcpd/scheduler"
	"github.com/kbatten/dhcpd/transaction"
)

const (
	serverPort   = 67
	clientPort   = 68
	readTimeout  = time.Second
	sweepPeriod  = 10 * time.Second
	maxDatagram  = 1500
)

// Server owns the server socket, the transaction table, and the set of
// broadcast interfaces used to deliver replies.
type Server struct {
	Table     *transaction.Table
	Scheduler *scheduler.Scheduler

	// Interfaces, if nil, is discovered via netutil.LocalIPv4Addresses
	// at Run time (spec.md §4.8).
	Interfaces []netutil.Interface

	Logger *zerolog.Logger

	conn *net.UDPConn
}

func (s *Server) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &log.Logger
}

// Run binds the server socket, then runs the receive loop, the
// scheduler worker, and the periodic sweep concurrently until ctx is
// canceled or one of them returns an error (spec.md §4.7's "three
// long-lived goroutines").
func (s *Server) Run(ctx context.Context) error {
	conn, err := netutil.ListenBroadcastUDP(net.IPv4zero, serverPort)
	if err != nil {
		return err
	}
	s.conn = conn
	defer conn.Close()

	if s.Interfaces == nil {
		ifaces, err := netutil.LocalIPv4Addresses()
		if err != nil {
			return err
		}
		s.Interfaces = ifaces
	}

	s.Table.Send = s.broadcastReply

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Scheduler.Run(ctx) })
	g.Go(func() error { return s.receiveLoop(ctx) })
	g.Go(func() error { return s.sweepLoop(ctx) })

	return g.Wait()
}

// receiveLoop reads inbound packets until ctx is done, dropping (and
// logging) anything that fails to parse or isn't BOOTREQUEST, per
// spec.md §4.1's "a malformed packet is logged and dropped, never
// crashes the server".
func (s *Server) receiveLoop(ctx context.Context) error {
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.logger().Warn().Err(err).Msg("recv failed")
			continue
		}

		req, err := dhcpmsg.Parse(buf[:n])
		if err != nil {
			s.logger().Warn().Err(err).Msg("dropping malformed packet")
			continue
		}
		if req.Op != dhcpmsg.BootRequest {
			continue
		}

		if err := s.Table.Dispatch(req); err != nil {
			s.logger().Debug().Err(err).Uint32("xid", req.XID).Msg("dispatch")
		}
	}
}

func (s *Server) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Table.Sweep()
		}
	}
}

// broadcastReply sends reply on every configured interface: a fresh
// UDP socket bound to (iface.Addr, 67) is opened, the reply is sent to
// both 255.255.255.255:68 and iface.Addr:68 carrying that interface's
// own address as server_identifier (and as SIAddr when no next-server
// address is set), and the socket is closed before moving to the next
// interface (spec.md §4.7: "sockets are not shared between sending
// tasks; each broadcast opens and closes its own"). The packet's
// OptionOrder was already resolved by the transaction package; only
// the server_identifier value and a placeholder SIAddr change per
// interface, so Serialize is called fresh for each one.
func (s *Server) broadcastReply(reply *dhcpmsg.Packet) {
	for _, iface := range s.Interfaces {
		data := prepareReply(reply, iface)

		conn, err := netutil.ListenBroadcastUDP(iface.Addr, serverPort)
		if err != nil {
			s.logger().Error().Err(err).Str("iface", iface.Name).Msg("opening broadcast socket failed")
			continue
		}

		global := &net.UDPAddr{IP: net.IPv4bcast, Port: clientPort}
		if _, err := conn.WriteToUDP(data, global); err != nil {
			s.logger().Warn().Err(err).Str("iface", iface.Name).Msg("global broadcast send failed")
		}

		local := &net.UDPAddr{IP: iface.Addr, Port: clientPort}
		if _, err := conn.WriteToUDP(data, local); err != nil {
			s.logger().Warn().Err(err).Str("iface", iface.Name).Msg("local unicast send failed")
		}

		conn.Close()
	}
}

// prepareReply sets option 54 to iface's own address, and SIAddr too
// when reply carries no next-server address (nil or 0.0.0.0), then
// serializes the result, leaving reply itself untouched.
func prepareReply(reply *dhcpmsg.Packet, iface netutil.Interface) []byte {
	out := *reply
	if reply.SIAddr == nil || reply.SIAddr.Equal(net.IPv4zero) {
		out.SIAddr = iface.Addr
	}
	out.Options = cloneOptions(reply.Options)

	if enc, err := dhcpmsg.Encode(dhcpmsg.OptServerIdentifier, iface.Addr); err == nil {
		out.Options[dhcpmsg.OptServerIdentifier] = enc
	}

	return out.Serialize()
}

func cloneOptions(in map[dhcpmsg.OptionCode]dhcpmsg.OptionValue) map[dhcpmsg.OptionCode]dhcpmsg.OptionValue {
	out := make(map[dhcpmsg.OptionCode]dhcpmsg.OptionValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
