// Package transaction implements spec.md §4.5's per-xid conversation
// state machine: NEW → OFFERED → REQUESTED → DONE, plus an absorbing
// EXPIRED state, dispatching inbound packets by DHCP message type and
// scheduling delayed replies.
package transaction

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kbatten/dhcpd/allocator"
	"github.com/kbatten/dhcpd/dhcpconfig"
	"github.com/kbatten/dhcpd/dhcpmsg"
	"github.com/kbatten/dhcpd/hoststore"
	"github.com/kbatten/dhcpd/scheduler"
)

// State is one of the FSM's states.
type State int

const (
	StateNew State = iota
	StateOffered
	StateRequested
	StateDone
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateOffered:
		return "OFFERED"
	case StateRequested:
		return "REQUESTED"
	case StateDone:
		return "DONE"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotHandled is returned for any message type outside
// {DISCOVER, REQUEST, INFORM}; the caller logs it and moves on
// (spec.md §4.5: "returns 'not handled' so the server loop may log it").
var ErrNotHandled = errors.New("transaction: message type not handled")

type entry struct {
	mu        sync.Mutex
	xid       uint32
	state     State
	createdAt time.Time
	doneAt    time.Time
}

// Table is the per-xid transaction table (spec.md §3's Transaction
// record) plus the collaborators needed to carry a conversation from
// DISCOVER through ACK: a delay scheduler, an allocator, and a reply
// sender.
type Table struct {
	Scheduler *scheduler.Scheduler
	Allocator *allocator.Allocator
	Config    dhcpconfig.Configuration
	Store     *hoststore.Store

	// Send transmits a reply packet whose server_identifier option is
	// still a placeholder, as is SIAddr unless a next-server address is
	// configured; the server fills in the real per-interface address for
	// each local IP it broadcasts from (spec.md §4.7) before serializing
	// and sending.
	Send func(reply *dhcpmsg.Packet)

	// Clock, if set, replaces time.Now (tests).
	Clock func() time.Time

	// Logger, if nil, defaults to zerolog's global logger.
	Logger *zerolog.Logger

	mu    sync.Mutex
	table map[uint32]*entry
}

func (t *Table) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

func (t *Table) logger() *zerolog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return &log.Logger
}

// getOrCreate returns the transaction for xid, creating one in StateNew
// on first sight (spec.md §9's "explicit get_or_create(xid)" redesign
// note).
func (t *Table) getOrCreate(xid uint32) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.table == nil {
		t.table = make(map[uint32]*entry)
	}
	e, ok := t.table[xid]
	if !ok {
		now := t.now()
		ttl := t.Config.TransactionTTL
		if ttl <= 0 {
			ttl = 40 * time.Second
		}
		e = &entry{xid: xid, state: StateNew, createdAt: now, doneAt: now.Add(ttl)}
		t.table[xid] = e
	}
	return e
}

func (t *Table) remove(xid uint32) {
	t.mu.Lock()
	delete(t.table, xid)
	t.mu.Unlock()
}

// Dispatch routes an inbound packet to its transaction and, depending
// on the current state and the message type, schedules a delayed
// reply. req.Op must already be BootRequest; the server loop is
// responsible for filtering on op.
func (t *Table) Dispatch(req *dhcpmsg.Packet) error {
	mt := req.MessageType()
	if mt != dhcpmsg.Discover && mt != dhcpmsg.Request && mt != dhcpmsg.Inform {
		return ErrNotHandled
	}

	e := t.getOrCreate(req.XID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if t.now().After(e.doneAt) || t.now().Equal(e.doneAt) {
		e.state = StateExpired
		t.remove(req.XID)
		return nil
	}

	switch mt {
	case dhcpmsg.Discover:
		// "Two DISCOVERs with the same xid produce two OFFERs unless
		// state has advanced past NEW (the second is ignored)."
		if e.state != StateNew {
			return nil
		}
		e.state = StateOffered
		t.Scheduler.Schedule(t.Config.OfferAfter, func() {
			t.handleReplyCallback(e, req, dhcpmsg.Offer)
		})

	case dhcpmsg.Request:
		if e.state != StateNew && e.state != StateOffered {
			return nil
		}
		e.state = StateRequested
		t.Scheduler.Schedule(t.Config.AcknowledgeAfter, func() {
			t.handleReplyCallback(e, req, dhcpmsg.Ack)
			e.mu.Lock()
			e.state = StateDone
			e.mu.Unlock()
			t.remove(req.XID)
		})

	case dhcpmsg.Inform:
		t.recordInform(req)
		e.state = StateDone
		t.remove(req.XID)
	}
	return nil
}

// handleReplyCallback allocates an address and sends an OFFER or ACK.
// Any panic is caught by the scheduler, not here; a returned error is
// only logged, matching spec.md §7 (errors in scheduled callbacks never
// propagate to the server loop).
func (t *Table) handleReplyCallback(e *entry, req *dhcpmsg.Packet, reply dhcpmsg.MessageType) {
	mac := req.CHAddr.String()
	ip, err := t.Allocator.Allocate(mac, req.RequestedIPAddress(), req.HostName())
	if err != nil {
		t.logger().Error().Err(err).Uint32("xid", req.XID).Msg("allocation failed")
		return
	}

	// server_identifier is a placeholder here; the server substitutes
	// the real local address per broadcast interface before sending.
	available := t.Allocator.Config.ReplyOptions(net.IPv4zero)
	available[dhcpmsg.OptDHCPMessageType] = mustEncode(dhcpmsg.OptDHCPMessageType, reply)

	order := dhcpmsg.ResolveReplyOrder(
		req.ParameterRequestList(),
		t.Allocator.Config.NamedCodes(),
		t.Allocator.Config.NumericCodes(),
		available,
	)

	siaddr := t.Allocator.Config.NextServer
	if siaddr == nil {
		siaddr = net.IPv4zero
	}

	out := &dhcpmsg.Packet{
		Op:          dhcpmsg.BootReply,
		HType:       req.HType,
		HLen:        req.HLen,
		XID:         req.XID,
		Secs:        0,
		Flags:       req.Flags,
		CIAddr:      net.IPv4zero,
		YIAddr:      ip,
		SIAddr:      siaddr,
		GIAddr:      req.GIAddr,
		CHAddr:      req.CHAddr,
		File:        t.Allocator.Config.BootFile,
		Options:     available,
		OptionOrder: order,
	}

	t.logger().Info().
		Uint32("xid", req.XID).
		Str("mac", mac).
		Str("type", reply.String()).
		Str("yiaddr", ip.String()).
		Msg("sending reply")

	if t.Send != nil {
		t.Send(out)
	}
}

// recordInform stores the client's own address immediately, with no
// scheduled reply (INFORM replies are optional per spec.md §4.5).
func (t *Table) recordInform(req *dhcpmsg.Packet) {
	if req.CIAddr == nil || req.CIAddr.Equal(net.IPv4zero) {
		return
	}
	if err := t.Store.Replace(hoststore.Host{
		MAC:      strings.ToUpper(req.CHAddr.String()),
		IP:       req.CIAddr.String(),
		LastUsed: t.now().Unix(),
	}); err != nil {
		t.logger().Error().Err(err).Uint32("xid", req.XID).Msg("failed to record INFORM lease")
	}
}

// Sweep removes every transaction whose doneAt has passed. The server
// loop calls this periodically (spec.md §4.7: "then sweep expired
// transactions").
func (t *Table) Sweep() {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for xid, e := range t.table {
		e.mu.Lock()
		expired := !now.Before(e.doneAt)
		e.mu.Unlock()
		if expired {
			delete(t.table, xid)
		}
	}
}

// Len reports the number of live transactions, for tests/metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.table)
}

func mustEncode(code dhcpmsg.OptionCode, value any) dhcpmsg.OptionValue {
	v, err := dhcpmsg.Encode(code, value)
	if err != nil {
		return dhcpmsg.OptionValue{}
	}
	return v
}
