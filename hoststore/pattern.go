package hoststore

import (
	"net"
	"strconv"
	"strings"
)

// matchKind tags which comparator a FieldMatch performs. Re-architected
// per spec.md §9's redesign note: the source used comparator objects as
// dictionary values; here that becomes one tagged variant with a single
// Matches dispatcher instead of a family of comparator types.
type matchKind int

const (
	kindAny matchKind = iota
	kindEq
	kindCaseInsensitiveEq
	kindInNetwork
	kindGt
)

// FieldMatch is one comparator applied to a single Host field.
type FieldMatch struct {
	kind  matchKind
	value string
	net   net.IP
	mask  net.IPMask
}

// Any matches any value.
func Any() FieldMatch { return FieldMatch{kind: kindAny} }

// Eq matches an exact string value.
func Eq(v string) FieldMatch { return FieldMatch{kind: kindEq, value: v} }

// CaseInsensitiveEq matches v ignoring case.
func CaseInsensitiveEq(v string) FieldMatch { return FieldMatch{kind: kindCaseInsensitiveEq, value: v} }

// Gt matches fields that, parsed as base-10 integers, are strictly
// greater than v. Used against LastUsed.
func Gt(v int64) FieldMatch { return FieldMatch{kind: kindGt, value: strconv.FormatInt(v, 10)} }

// InNetwork matches an IP field that falls inside network/mask, excluding
// both the network address and the directed broadcast address (spec.md
// P6).
func InNetwork(network net.IP, mask net.IPMask) FieldMatch {
	return FieldMatch{kind: kindInNetwork, net: network, mask: mask}
}

// Matches applies the comparator to one stored field value.
func (m FieldMatch) Matches(field string) bool {
	switch m.kind {
	case kindAny:
		return true
	case kindEq:
		return field == m.value
	case kindCaseInsensitiveEq:
		return strings.EqualFold(field, m.value)
	case kindGt:
		a, errA := strconv.ParseInt(field, 10, 64)
		b, errB := strconv.ParseInt(m.value, 10, 64)
		return errA == nil && errB == nil && a > b
	case kindInNetwork:
		return m.matchesNetwork(field)
	default:
		return false
	}
}

func (m FieldMatch) matchesNetwork(field string) bool {
	ip := net.ParseIP(field)
	if ip == nil {
		return false
	}
	ip4 := ip.To4()
	if ip4 == nil || m.net == nil || m.mask == nil {
		return false
	}
	netAddr := m.net.Mask(m.mask)
	if !ip4.Mask(m.mask).Equal(netAddr) {
		return false
	}
	if ip4.Equal(netAddr) {
		return false
	}
	return !ip4.Equal(broadcastAddress(netAddr, m.mask))
}

func broadcastAddress(network net.IP, mask net.IPMask) net.IP {
	n := network.To4()
	bcast := make(net.IP, 4)
	for i := range bcast {
		bcast[i] = n[i] | ^mask[i]
	}
	return bcast
}

// Pattern is a 4-tuple match predicate applied to every Host field. A
// record matches iff every field's comparator succeeds.
type Pattern struct {
	MAC      FieldMatch
	IP       FieldMatch
	Hostname FieldMatch
	LastUsed FieldMatch
}

// AnyPattern matches every host.
func AnyPattern() Pattern {
	return Pattern{MAC: Any(), IP: Any(), Hostname: Any(), LastUsed: Any()}
}

// ByMACAndIP returns the exact-identity pattern used by Replace/Delete:
// (mac, ip) tuple equality, any hostname/last_used.
func ByMACAndIP(mac, ip string) Pattern {
	return Pattern{MAC: Eq(mac), IP: Eq(ip), Hostname: Any(), LastUsed: Any()}
}

// Matches reports whether h satisfies every field comparator in p.
func (p Pattern) Matches(h Host) bool {
	return p.MAC.Matches(h.MAC) &&
		p.IP.Matches(h.IP) &&
		p.Hostname.Matches(h.Hostname) &&
		p.LastUsed.Matches(h.lastUsedField())
}
