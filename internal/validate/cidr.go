package validate

import (
	"net/netip"
	"strings"
	"sync"
)

type cidrKey struct {
	family int
	value  string
}

// cidrMemo caches parse results; inputs are immutable strings.
var cidrMemo sync.Map

const (
	familyAny = iota
	family4
	family6
)

// CIDR4 校验 IPv4 CIDR，裸 IP 视为 /32
func CIDR4(value string) Result { return cidr(value, family4) }

// CIDR6 校验 IPv6 CIDR，裸 IP 视为 /128
func CIDR6(value string) Result { return cidr(value, family6) }

// CIDR accepts either family.
func CIDR(value string) Result { return cidr(value, familyAny) }

func cidr(value string, family int) Result {
	key := cidrKey{family: family, value: value}
	if v, ok := cidrMemo.Load(key); ok {
		return v.(Result)
	}
	r := parseCIDR(value, family)
	cidrMemo.Store(key, r)
	return r
}

func parseCIDR(value string, family int) Result {
	if value == "" {
		return failf("empty CIDR")
	}
	var (
		addr netip.Addr
		bits = -1
	)
	if strings.Contains(value, "/") {
		p, err := netip.ParsePrefix(value)
		if err != nil {
			return failf("invalid CIDR %q: %v", value, err)
		}
		addr, bits = p.Addr(), p.Bits()
	} else {
		a, err := netip.ParseAddr(value)
		if err != nil {
			return failf("invalid IP %q: %v", value, err)
		}
		addr = a
	}

	is4 := addr.Is4()
	switch family {
	case family4:
		if !is4 {
			return failf("%q is not an IPv4 address", value)
		}
	case family6:
		if is4 {
			return failf("%q is not an IPv6 address", value)
		}
	}
	limit := 128
	if is4 {
		limit = 32
	}
	if bits > limit {
		return failf("prefix length %d out of range [0, %d]", bits, limit)
	}
	return pass()
}
