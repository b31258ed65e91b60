package dhcpmsg

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePacket() *Packet {
	return &Packet{
		Op:     BootRequest,
		HType:  1,
		HLen:   6,
		XID:    0x12345678,
		Secs:   0,
		Flags:  broadcastFlag,
		CIAddr: net.IPv4zero,
		YIAddr: net.IPv4zero,
		SIAddr: net.IPv4zero,
		GIAddr: net.IPv4zero,
		CHAddr: net.HardwareAddr{0xAA, 0xBB, 0xCC, 0x00, 0x00, 0x01},
		Options: map[OptionCode]OptionValue{
			OptDHCPMessageType: {Raw: []byte{byte(Discover)}},
		},
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	p := samplePacket()
	wire := p.Serialize()

	parsed, err := Parse(wire)
	require.NoError(t, err)

	assert.Equal(t, p.Op, parsed.Op)
	assert.Equal(t, p.HType, parsed.HType)
	assert.Equal(t, p.HLen, parsed.HLen)
	assert.Equal(t, p.Hops, parsed.Hops)
	assert.Equal(t, p.XID, parsed.XID)
	assert.Equal(t, p.Secs, parsed.Secs)
	assert.Equal(t, p.Flags, parsed.Flags)
	assert.True(t, parsed.Broadcast())
	assert.Equal(t, p.CHAddr, parsed.CHAddr)
	assert.Equal(t, Discover, parsed.MessageType())
}

// P1: the fixed 236-byte header is deterministic given the same fields.
func TestSerializeDeterministicHeader(t *testing.T) {
	p1 := samplePacket()
	p2 := samplePacket()
	w1 := p1.Serialize()
	w2 := p2.Serialize()
	require.GreaterOrEqual(t, len(w1), fixedHeaderSize)
	assert.Equal(t, w1[:fixedHeaderSize], w2[:fixedHeaderSize])
}

func TestParseRejectsShortPacket(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	require.Error(t, err)
}

func TestParseRejectsBadMagicCookie(t *testing.T) {
	p := samplePacket()
	wire := p.Serialize()
	wire[fixedHeaderSize] ^= 0xFF
	_, err := Parse(wire)
	require.Error(t, err)
}

func TestParseUnknownOptionRetainedRaw(t *testing.T) {
	p := samplePacket()
	p.Options[220] = OptionValue{Raw: []byte{1, 2, 3}}
	p.OptionOrder = []OptionCode{OptDHCPMessageType, 220}
	wire := p.Serialize()

	parsed, err := Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, parsed.Options[220].Raw)
}

func TestHostNameDecodesOption12(t *testing.T) {
	p := samplePacket()
	p.Options[OptHostName] = OptionValue{Raw: []byte("laptop")}
	assert.Equal(t, "laptop", p.HostName())
}

func TestHostNameEmptyWhenAbsent(t *testing.T) {
	p := samplePacket()
	assert.Equal(t, "", p.HostName())
}

func TestResolveReplyOrderFollowsParameterRequestListFirst(t *testing.T) {
	available := map[OptionCode]OptionValue{
		OptSubnetMask:         {Raw: []byte{255, 255, 255, 0}},
		OptRouter:             {Raw: []byte{192, 168, 173, 1}},
		OptDomainNameServer:   {Raw: []byte{8, 8, 8, 8}},
		OptIPAddressLeaseTime: {Raw: []byte{0, 0, 1, 44}},
	}
	order := ResolveReplyOrder(
		[]OptionCode{OptRouter, OptSubnetMask},
		[]OptionCode{OptSubnetMask, OptDomainNameServer, OptIPAddressLeaseTime},
		nil,
		available,
	)
	assert.Equal(t, []OptionCode{OptRouter, OptSubnetMask, OptDomainNameServer, OptIPAddressLeaseTime}, order)
}
