// Package dhcpconfig holds the opaque configuration struct the server
// core consumes. Loading configuration from a file or environment is
// out of scope per spec.md §1; this package only defines the shape.
package dhcpconfig

import (
	"net"
	"time"

	"github.com/kbatten/dhcpd/dhcpmsg"
)

// Configuration is spec.md §3's enumerated set of recognized fields
// plus the dynamic option_NN/symbolic catch-all described in §6 and
// the "dynamic per-option attributes" redesign note in §9.
type Configuration struct {
	OfferAfter       time.Duration // dhcp_offer_after_seconds, default 10s
	AcknowledgeAfter time.Duration // dhcp_acknowledge_after_seconds, default 10s
	TransactionTTL   time.Duration // length_of_transaction, default 40s

	Network           net.IP     // network, e.g. 192.168.173.0
	SubnetMask        net.IPMask // subnet_mask, e.g. 255.255.255.0
	BroadcastAddress  net.IP     // broadcast_address, default 255.255.255.255
	Router            []net.IP   // router, may be empty
	DomainNameServer  []net.IP   // domain_name_server, may be empty
	IPAddressLeaseTime time.Duration // ip_address_lease_time, default 300s

	HostFile string // host_file path

	// NextServer/BootFile are passed through verbatim when set
	// (spec.md §1's non-goal carve-out for TFTP/PXE next-server/file).
	NextServer net.IP
	BootFile   string

	// NamedOptions holds options the administrator pre-populated by
	// symbolic name (subnet_mask, router, ...); these participate in
	// step 2 of spec.md §4.2.1's option-order rule. Not every field
	// above necessarily has a NamedOptions entry — NamedOptions is
	// for options copied verbatim into replies beyond the handful of
	// named fields this struct promotes to first-class fields.
	NamedOptions map[dhcpmsg.OptionCode]dhcpmsg.OptionValue

	// NumericOptions holds options addressed purely by number
	// (option_NN on the configuration); step 3 of §4.2.1.
	NumericOptions map[dhcpmsg.OptionCode]dhcpmsg.OptionValue
}

// Default returns a Configuration with spec.md §3's default timings
// and broadcast/subnet defaults (subnet mask 255.255.255.0); callers
// still must set Network.
func Default() Configuration {
	return Configuration{
		OfferAfter:         10 * time.Second,
		AcknowledgeAfter:   10 * time.Second,
		TransactionTTL:     40 * time.Second,
		BroadcastAddress:   net.IPv4(255, 255, 255, 255),
		SubnetMask:         net.IPv4Mask(255, 255, 255, 0),
		IPAddressLeaseTime: 300 * time.Second,
		NamedOptions:       make(map[dhcpmsg.OptionCode]dhcpmsg.OptionValue),
		NumericOptions:     make(map[dhcpmsg.OptionCode]dhcpmsg.OptionValue),
	}
}

// NetworkAddress returns Network & SubnetMask.
func (c Configuration) NetworkAddress() net.IP {
	return c.Network.Mask(c.SubnetMask)
}

// ReplyOptions merges the configuration's built-in fields (lease time,
// subnet mask, router, DNS) with NamedOptions and NumericOptions into
// one map suitable for dhcpmsg.ResolveReplyOrder/Packet.Options. serverIP
// is used for option 54 (server_identifier), set per-interface at
// broadcast time, so it is passed in rather than stored here.
func (c Configuration) ReplyOptions(serverIP net.IP) map[dhcpmsg.OptionCode]dhcpmsg.OptionValue {
	out := make(map[dhcpmsg.OptionCode]dhcpmsg.OptionValue, len(c.NamedOptions)+len(c.NumericOptions)+4)
	for code, v := range c.NumericOptions {
		out[code] = v
	}
	for code, v := range c.NamedOptions {
		out[code] = v
	}
	if c.SubnetMask != nil {
		if enc, err := dhcpmsg.Encode(dhcpmsg.OptSubnetMask, net.IP(c.SubnetMask)); err == nil {
			out[dhcpmsg.OptSubnetMask] = enc
		}
	}
	if len(c.Router) > 0 {
		if enc, err := dhcpmsg.Encode(dhcpmsg.OptRouter, c.Router); err == nil {
			out[dhcpmsg.OptRouter] = enc
		}
	}
	if len(c.DomainNameServer) > 0 {
		if enc, err := dhcpmsg.Encode(dhcpmsg.OptDomainNameServer, c.DomainNameServer); err == nil {
			out[dhcpmsg.OptDomainNameServer] = enc
		}
	}
	if c.IPAddressLeaseTime > 0 {
		if enc, err := dhcpmsg.Encode(dhcpmsg.OptIPAddressLeaseTime, uint32(c.IPAddressLeaseTime.Seconds())); err == nil {
			out[dhcpmsg.OptIPAddressLeaseTime] = enc
		}
	}
	if serverIP != nil {
		if enc, err := dhcpmsg.Encode(dhcpmsg.OptServerIdentifier, serverIP); err == nil {
			out[dhcpmsg.OptServerIdentifier] = enc
		}
	}
	return out
}

// NamedCodes returns the option codes configured by name, for use as
// the namedCodes argument to dhcpmsg.ResolveReplyOrder.
func (c Configuration) NamedCodes() []dhcpmsg.OptionCode {
	codes := make([]dhcpmsg.OptionCode, 0, len(c.NamedOptions)+4)
	for code := range c.NamedOptions {
		codes = append(codes, code)
	}
	codes = append(codes,
		dhcpmsg.OptSubnetMask,
		dhcpmsg.OptRouter,
		dhcpmsg.OptDomainNameServer,
		dhcpmsg.OptIPAddressLeaseTime,
		dhcpmsg.OptServerIdentifier,
	)
	return codes
}

// NumericCodes returns the option codes configured purely by number,
// for use as the numericCodes argument to dhcpmsg.ResolveReplyOrder.
func (c Configuration) NumericCodes() []dhcpmsg.OptionCode {
	codes := make([]dhcpmsg.OptionCode, 0, len(c.NumericOptions))
	for code := range c.NumericOptions {
		codes = append(codes, code)
	}
	return codes
}
