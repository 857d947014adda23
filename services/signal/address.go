package signal

import (
	"net/netip"
	"strings"
)

var extraReserved = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("192.0.2.0/24"),    // TEST-NET-1
	netip.MustParsePrefix("198.51.100.0/24"), // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),  // TEST-NET-3
	netip.MustParsePrefix("198.18.0.0/15"),   // benchmarking
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// ClassifyAddress reports whether address is a routable public address.
// Anything that does not parse is AddressUnparseable.
func ClassifyAddress(address string) AddressClass {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return AddressUnparseable
	}
	addr = addr.Unmap()

	if addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return AddressReserved
	}

	for _, p := range extraReserved {
		if p.Contains(addr) {
			return AddressReserved
		}
	}

	return AddressPublic
}
