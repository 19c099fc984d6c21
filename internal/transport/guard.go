package transport

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

var reservedPrefixes = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// IsReserved reports whether addr is loopback, private or otherwise reserved.
func IsReserved(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// blockReserved runs after DNS resolution and before connect, so it also
// catches hostnames that resolve to internal addresses.
func blockReserved(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("blocked: invalid address %q", address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("blocked: could not parse IP %q", host)
	}
	if IsReserved(addr) {
		return fmt.Errorf("blocked: connections to private/reserved IP %s are not allowed", addr)
	}
	return nil
}

func dialControl(blockPrivate bool) func(string, string, syscall.RawConn) error {
	if !blockPrivate {
		return nil
	}
	return blockReserved
}
