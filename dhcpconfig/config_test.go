package dhcpconfig

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbatten/dhcpd/dhcpmsg"
)

func TestReplyOptionsIncludesBuiltinFieldsAndServerIdentifier(t *testing.T) {
	cfg := Default()
	cfg.Network = net.IPv4(192, 168, 173, 0)
	cfg.SubnetMask = net.IPv4Mask(255, 255, 255, 0)
	cfg.Router = []net.IP{net.IPv4(192, 168, 173, 1)}
	cfg.DomainNameServer = []net.IP{net.IPv4(8, 8, 8, 8)}

	serverIP := net.IPv4(192, 168, 173, 1)
	opts := cfg.ReplyOptions(serverIP)

	for _, code := range []dhcpmsg.OptionCode{
		dhcpmsg.OptSubnetMask,
		dhcpmsg.OptRouter,
		dhcpmsg.OptDomainNameServer,
		dhcpmsg.OptIPAddressLeaseTime,
		dhcpmsg.OptServerIdentifier,
	} {
		v, ok := opts[code]
		require.Truef(t, ok, "expected option %d to be present", code)
		assert.NotEmpty(t, v.Raw)
	}
}

func TestReplyOptionsOmitsServerIdentifierWhenIPIsNil(t *testing.T) {
	cfg := Default()
	opts := cfg.ReplyOptions(nil)
	_, ok := opts[dhcpmsg.OptServerIdentifier]
	assert.False(t, ok)
}

func TestNamedAndNumericCodesDoNotOverlapByConstruction(t *testing.T) {
	cfg := Default()
	cfg.NamedOptions = map[dhcpmsg.OptionCode]dhcpmsg.OptionValue{
		dhcpmsg.OptHostName: {Raw: []byte("host")},
	}
	cfg.NumericOptions = map[dhcpmsg.OptionCode]dhcpmsg.OptionValue{
		dhcpmsg.OptTFTPServerName: {Raw: []byte("tftp.local")},
	}

	named := cfg.NamedCodes()
	numeric := cfg.NumericCodes()

	assert.Contains(t, named, dhcpmsg.OptHostName)
	assert.Contains(t, numeric, dhcpmsg.OptTFTPServerName)
	assert.NotContains(t, numeric, dhcpmsg.OptHostName)
}

func TestNetworkAddressMasksHostBits(t *testing.T) {
	cfg := Default()
	cfg.Network = net.IPv4(192, 168, 173, 55)
	cfg.SubnetMask = net.IPv4Mask(255, 255, 255, 0)
	assert.Equal(t, "192.168.173.0", cfg.NetworkAddress().String())
}
