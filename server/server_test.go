package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbatten/dhcpd/dhcpmsg"
	"github.com/kbatten/dhcpd/netutil"
)

func TestPrepareReplySetsPerInterfaceServerIdentifierAndSIAddr(t *testing.T) {
	mt, err := dhcpmsg.Encode(dhcpmsg.OptDHCPMessageType, dhcpmsg.Offer)
	require.NoError(t, err)

	reply := &dhcpmsg.Packet{
		Op:      dhcpmsg.BootReply,
		XID:     42,
		Options: map[dhcpmsg.OptionCode]dhcpmsg.OptionValue{dhcpmsg.OptDHCPMessageType: mt},
	}

	iface := netutil.Interface{Name: "eth0", Addr: net.IPv4(192, 168, 173, 1), Broadcast: net.IPv4(192, 168, 173, 255)}
	data := prepareReply(reply, iface)

	parsed, err := dhcpmsg.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), parsed.XID)
	assert.True(t, parsed.SIAddr.Equal(iface.Addr))

	v, ok := parsed.Options[dhcpmsg.OptServerIdentifier]
	require.True(t, ok)
	ip, err := dhcpmsg.Decode(dhcpmsg.OptServerIdentifier, v.Raw)
	require.NoError(t, err)
	assert.Equal(t, "192.168.173.1", ip.(net.IP).String())
}

func TestPrepareReplyLeavesOriginalPacketUntouched(t *testing.T) {
	reply := &dhcpmsg.Packet{
		Op:      dhcpmsg.BootReply,
		XID:     7,
		Options: map[dhcpmsg.OptionCode]dhcpmsg.OptionValue{},
	}

	ifaceA := netutil.Interface{Name: "eth0", Addr: net.IPv4(10, 0, 0, 1)}
	ifaceB := netutil.Interface{Name: "eth1", Addr: net.IPv4(10, 0, 1, 1)}

	prepareReply(reply, ifaceA)
	prepareReply(reply, ifaceB)

	assert.Nil(t, reply.SIAddr)
	_, ok := reply.Options[dhcpmsg.OptServerIdentifier]
	assert.False(t, ok, "prepareReply must not mutate the shared reply options map")
}
