package netutil

import "testing"

// TestLocalIPv4AddressesDoesNotError is a smoke test: the set of local
// interfaces is environment-dependent, so this only asserts the call
// itself succeeds and every returned entry carries a 4-byte address.
func TestLocalIPv4AddressesDoesNotError(t *testing.T) {
	ifaces, err := LocalIPv4Addresses()
	if err != nil {
		t.Fatalf("LocalIPv4Addresses: %v", err)
	}
	for _, iface := range ifaces {
		if len(iface.Addr) != 4 {
			t.Errorf("interface %s: address %v is not 4 bytes", iface.Name, iface.Addr)
		}
		if len(iface.Broadcast) != 4 {
			t.Errorf("interface %s: broadcast %v is not 4 bytes", iface.Name, iface.Broadcast)
		}
	}
}
