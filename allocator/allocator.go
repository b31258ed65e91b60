// Package allocator implements spec.md §4.6's 4-step IP selection
// policy: known-and-valid, valid-requested, free-scan, LRU reuse.
package allocator

import (
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kbatten/dhcpd/dhcpconfig"
	"github.com/kbatten/dhcpd/hoststore"
)

// ErrPoolExhausted signals the free-scan step found nothing free.
// Allocate catches it from free-scan and falls through to LRU reuse; it
// reaches Allocate's caller only when LRU reuse also finds no host in
// the network to take an address from (a pool with no addresses).
var ErrPoolExhausted = errors.New("allocator: address pool exhausted")

// reservedPoolAddresses is the count of usable addresses skipped at the
// start of the pool (spec.md §6, §9): the pool begins at network+6, not
// network+1.
const reservedPoolAddresses = 5

// Allocator selects an IP for a DHCP request against a host store and a
// configuration's address pool.
type Allocator struct {
	Store  *hoststore.Store
	Config dhcpconfig.Configuration

	// Clock, if set, replaces time.Now for LastUsed stamping (tests).
	Clock func() time.Time

	// Logger, if nil, defaults to zerolog's global logger.
	Logger *zerolog.Logger
}

func (a *Allocator) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now()
}

func (a *Allocator) logger() *zerolog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return &log.Logger
}

// Allocate returns an IP for mac, applying spec.md §4.6's four steps in
// order, and ensures the host store has exactly one record for
// (mac, chosen IP) afterward.
func (a *Allocator) Allocate(mac string, requestedIP net.IP, hostname string) (net.IP, error) {
	mac = strings.ToUpper(mac)
	network := a.Config.NetworkAddress()
	mask := a.Config.SubnetMask

	chosen, err := a.knownAndValid(mac, network, mask)
	if err != nil {
		return nil, err
	}
	source := "known-host"

	if chosen == nil && requestedIP != nil && isValidClientAddress(requestedIP, network, mask) {
		chosen = requestedIP
		source = "client-requested"
	}

	if chosen == nil {
		chosen, err = a.freeScan(network, mask)
		switch {
		case err == nil:
			source = "free-scan"
		case errors.Is(err, ErrPoolExhausted):
			chosen, err = a.lruReuse(network, mask)
			if err != nil {
				return nil, err
			}
			source = "lru-reuse"
		default:
			return nil, err
		}
	}

	if err := a.ensureRecord(mac, chosen, hostname); err != nil {
		return nil, err
	}

	a.logger().Debug().
		Str("mac", mac).
		Str("ip", chosen.String()).
		Str("source", source).
		Msg("allocated address")

	return chosen, nil
}

// knownAndValid implements step 1: among the store's records for mac,
// the last one whose IP is in-subnet wins (spec.md: "the last matching
// record wins").
func (a *Allocator) knownAndValid(mac string, network net.IP, mask net.IPMask) (net.IP, error) {
	hosts, err := a.Store.Get(hoststore.Pattern{
		MAC:      hoststore.CaseInsensitiveEq(mac),
		IP:       hoststore.Any(),
		Hostname: hoststore.Any(),
		LastUsed: hoststore.Any(),
	})
	if err != nil {
		return nil, err
	}
	var chosen net.IP
	for _, h := range hosts {
		if !h.HasValidIP() {
			continue
		}
		ip := net.ParseIP(h.IP)
		if ip == nil || !isValidClientAddress(ip, network, mask) {
			continue
		}
		chosen = ip
	}
	return chosen, nil
}

// freeScan implements step 3: the first pool address, in ascending
// order, not currently used by any host in the configured network.
func (a *Allocator) freeScan(network net.IP, mask net.IPMask) (net.IP, error) {
	used, err := a.usedAddressesInNetwork(network, mask)
	if err != nil {
		return nil, err
	}

	netVal := ipToUint32(network.Mask(mask))
	bcastVal := ipToUint32(broadcastAddress(network.Mask(mask), mask))
	for v := netVal + reservedPoolAddresses + 1; v < bcastVal; v++ {
		ip := uint32ToIP(v)
		if !used[ip.String()] {
			return ip, nil
		}
	}
	return nil, ErrPoolExhausted
}

// lruReuse implements step 4: the host in network with the smallest
// LastUsed, ties broken by store (insertion) order.
func (a *Allocator) lruReuse(network net.IP, mask net.IPMask) (net.IP, error) {
	hosts, err := a.Store.Get(hoststore.Pattern{
		MAC:      hoststore.Any(),
		IP:       hoststore.InNetwork(network, mask),
		Hostname: hoststore.Any(),
		LastUsed: hoststore.Any(),
	})
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, ErrPoolExhausted
	}
	best := hosts[0]
	for _, h := range hosts[1:] {
		if h.LastUsed < best.LastUsed {
			best = h
		}
	}
	return net.ParseIP(best.IP), nil
}

func (a *Allocator) usedAddressesInNetwork(network net.IP, mask net.IPMask) (map[string]bool, error) {
	hosts, err := a.Store.Get(hoststore.Pattern{
		MAC:      hoststore.Any(),
		IP:       hoststore.InNetwork(network, mask),
		Hostname: hoststore.Any(),
		LastUsed: hoststore.Any(),
	})
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		used[h.IP] = true
	}
	return used, nil
}

// ensureRecord inserts or replaces the (mac, ip) record with a fresh
// LastUsed, unless a record with exactly that identity already exists
// (spec.md: "if no existing host record has both this MAC and this IP,
// insert or replace one").
func (a *Allocator) ensureRecord(mac string, ip net.IP, hostname string) error {
	existing, err := a.Store.Get(hoststore.ByMACAndIP(mac, ip.String()))
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return a.Store.Replace(hoststore.Host{
		MAC:      mac,
		IP:       ip.String(),
		Hostname: hostname,
		LastUsed: a.now().Unix(),
	})
}

// isValidClientAddress reports whether ip is non-null and agrees with
// network on every octet where mask is non-zero (spec.md §4.6).
func isValidClientAddress(ip net.IP, network net.IP, mask net.IPMask) bool {
	if ip == nil {
		return false
	}
	v4 := ip.To4()
	if v4 == nil || v4.Equal(net.IPv4zero) {
		return false
	}
	netAddr := network.Mask(mask)
	for i := range mask {
		if mask[i] != 0 && (v4[i]&mask[i]) != (netAddr[i]&mask[i]) {
			return false
		}
	}
	return true
}

func broadcastAddress(network net.IP, mask net.IPMask) net.IP {
	n := network.To4()
	bcast := make(net.IP, 4)
	for i := range bcast {
		bcast[i] = n[i] | ^mask[i]
	}
	return bcast
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return binary.BigEndian.Uint32(v4)
}

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}
