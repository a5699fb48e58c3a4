package validate

import (
	"strings"
	"testing"
)

func TestDomain(t *testing.T) {
	good := []string{
		"example.com",
		"-cdn.example.com",
		"a_b.example.com",
		"例子.测试",
		"example.com.",
		"this_ruleset_is_made_by_sukkaw.ruleset.skk.moe",
	}
	for _, v := range good {
		if r := Domain(v); !r.OK {
			t.Fatalf("Domain(%q) rejected: %s", v, r.Reason)
		}
	}

	bad := []string{
		"",
		"exa mple.com",
		"example-.com",
		"a..com",
		"*.example.com",
		strings.Repeat("a", 64) + ".com",
		strings.Repeat("abcdefghi.", 26) + "com",
	}
	for _, v := range bad {
		if r := Domain(v); r.OK {
			t.Fatalf("Domain(%q) accepted, want rejection", v)
		}
	}
}

func TestWildcardDomain(t *testing.T) {
	for _, v := range []string{"*.example.com", "ex?mple.com", "a*.b.com", "plain.example.com"} {
		if r := WildcardDomain(v); !r.OK {
			t.Fatalf("WildcardDomain(%q) rejected: %s", v, r.Reason)
		}
	}
	for _, v := range []string{"example.c*m", "example.*", "a b.com"} {
		if r := WildcardDomain(v); r.OK {
			t.Fatalf("WildcardDomain(%q) accepted, want rejection", v)
		}
	}
}

func TestCIDR(t *testing.T) {
	cases := []struct {
		f    Func
		v    string
		want bool
	}{
		{CIDR4, "10.0.0.0/8", true},
		{CIDR4, "10.0.0.1", true},
		{CIDR4, "10.0.0.0/33", false},
		{CIDR4, "2001:db8::/32", false},
		{CIDR6, "2001:db8::/32", true},
		{CIDR6, "2001:db8::1", true},
		{CIDR6, "2001:db8::/129", false},
		{CIDR6, "1.2.3.4/32", false},
		{CIDR, "1.2.3.4/32", true},
		{CIDR, "::1", true},
		{CIDR, "not-an-ip", false},
	}
	for _, c := range cases {
		// twice, to go through the memo
		for i := 0; i < 2; i++ {
			if got := c.f(c.v).OK; got != c.want {
				t.Fatalf("CIDR check %q ok=%v, want=%v", c.v, got, c.want)
			}
		}
	}
}

func TestASN(t *testing.T) {
	for _, v := range []string{"13335", "AS13335", "as1", "4294967295"} {
		if r := ASN(v); !r.OK {
			t.Fatalf("ASN(%q) rejected: %s", v, r.Reason)
		}
	}
	for _, v := range []string{"0", "AS0", "4294967296", "ASX", ""} {
		if r := ASN(v); r.OK {
			t.Fatalf("ASN(%q) accepted", v)
		}
	}
}

func TestCountryCode(t *testing.T) {
	for _, v := range []string{"CN", "us", "NETFLIX", "lan"} {
		if r := CountryCode(v); !r.OK {
			t.Fatalf("CountryCode(%q) rejected: %s", v, r.Reason)
		}
	}
	for _, v := range []string{"C", "CHN", "C1", ""} {
		if r := CountryCode(v); r.OK {
			t.Fatalf("CountryCode(%q) accepted", v)
		}
	}
}

func TestPortRange(t *testing.T) {
	for _, v := range []string{"443", "1-65535", "80-80"} {
		if r := PortRange(v); !r.OK {
			t.Fatalf("PortRange(%q) rejected: %s", v, r.Reason)
		}
	}
	for _, v := range []string{"0", "65536", "90-80", "a-b", "80-"} {
		if r := PortRange(v); r.OK {
			t.Fatalf("PortRange(%q) accepted", v)
		}
	}
}

func TestCheckDispatch(t *testing.T) {
	if r := Check("IP-CIDR", "1.1.1.1/32"); !r.OK {
		t.Fatalf("Check(IP-CIDR) rejected: %s", r.Reason)
	}
	if r := Check("URL-REGEX", "^(http"); r.OK {
		t.Fatalf("Check(URL-REGEX) accepted a broken regex")
	}
	if r := Check("PROTOCOL", "quic"); !r.OK {
		t.Fatalf("Check(PROTOCOL) rejected quic: %s", r.Reason)
	}
	if r := Check("NOPE", "x"); r.OK || r.Reason == "" {
		t.Fatalf("Check(NOPE) = %+v, want failure with reason", r)
	}
}
