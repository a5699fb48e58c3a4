package rule

import (
	"sort"
	"strings"
)

// Type 规则类型
type Type string

const (
	Domain         Type = "DOMAIN"
	DomainSuffix   Type = "DOMAIN-SUFFIX"
	DomainKeyword  Type = "DOMAIN-KEYWORD"
	DomainWildcard Type = "DOMAIN-WILDCARD"
	DomainSet      Type = "DOMAIN-SET"
	DomainRegex    Type = "DOMAIN-REGEX"
	IPCIDR         Type = "IP-CIDR"
	IPCIDR6        Type = "IP-CIDR6"
	GeoIP          Type = "GEOIP"
	IPASN          Type = "IP-ASN"
	UserAgent      Type = "USER-AGENT"
	URLRegex       Type = "URL-REGEX"
	ProcessName    Type = "PROCESS-NAME"
	ProcessPath    Type = "PROCESS-PATH"
	DstPort        Type = "DST-PORT"
	SrcPort        Type = "SRC-PORT"
	InPort         Type = "IN-PORT"
	SrcIP          Type = "SRC-IP"
	Protocol       Type = "PROTOCOL"
	Script         Type = "SCRIPT"
	Subnet         Type = "SUBNET"
	RuleSet        Type = "RULE-SET"
	Final          Type = "FINAL"
	And            Type = "AND"
	Or             Type = "OR"
	Not            Type = "NOT"
)

// supported 目标方言能够表达的类型
var supported = map[Type]bool{
	Domain: true, DomainSuffix: true, DomainKeyword: true, DomainWildcard: true,
	DomainSet: true, DomainRegex: true, IPCIDR: true, IPCIDR6: true, GeoIP: true,
	IPASN: true, UserAgent: true, URLRegex: true, ProcessName: true, ProcessPath: true,
	DstPort: true, SrcPort: true, InPort: true, SrcIP: true, Protocol: true,
	Subnet: true, RuleSet: true, Final: true, And: true, Or: true, Not: true,
}

// aliases maps dialect spellings onto canonical type names. Keys are upper-case.
var aliases = map[string]Type{
	"HOST":          Domain,
	"HOST-SUFFIX":   DomainSuffix,
	"HOST-KEYWORD":  DomainKeyword,
	"HOST-WILDCARD": DomainWildcard,
	"IP6-CIDR":      IPCIDR6,
	"MATCH":         Final,
	"SRC-IP-CIDR":   SrcIP,
	"DEST-PORT":     DstPort,
	"ASN":           IPASN,
	"IP-ASN":        IPASN,
	"GEOIP":         GeoIP,
}

// CanonicalType maps a raw type token to its canonical form. The second
// result is false for types the output dialect cannot express.
func CanonicalType(raw string) (Type, bool) {
	up := strings.ToUpper(strings.TrimSpace(raw))
	t, ok := aliases[up]
	if !ok {
		t = Type(up)
	}
	return t, supported[t]
}

// IsComposite 是否为逻辑组合规则
func (t Type) IsComposite() bool {
	return t == And || t == Or || t == Not
}

// IsIP reports whether no-resolve applies to the type.
func (t Type) IsIP() bool {
	switch t {
	case IPCIDR, IPCIDR6, GeoIP, IPASN, SrcIP:
		return true
	}
	return false
}

// IsDomain 域名族规则
func (t Type) IsDomain() bool {
	switch t {
	case Domain, DomainSuffix, DomainKeyword, DomainWildcard, DomainRegex:
		return true
	}
	return false
}

// regexValued types keep commas inside their value.
func (t Type) regexValued() bool {
	return t == URLRegex || t == DomainRegex || t == UserAgent || t == ProcessPath
}

// Flag 规则修饰符
type Flag string

const (
	NoResolve        Flag = "no-resolve"
	ExtendedMatching Flag = "extended-matching"
	PreMatching      Flag = "pre-matching"
	DNSFailed        Flag = "dns-failed"
)

var knownFlags = map[string]Flag{
	string(NoResolve):        NoResolve,
	string(ExtendedMatching): ExtendedMatching,
	string(PreMatching):      PreMatching,
	string(DNSFailed):        DNSFailed,
}

func parseFlag(s string) (Flag, bool) {
	f, ok := knownFlags[strings.ToLower(strings.TrimSpace(s))]
	return f, ok
}

// FlagSet is kept sorted and free of duplicates; nil when empty.
type FlagSet []Flag

// Has 是否包含 f
func (s FlagSet) Has(f Flag) bool {
	for _, x := range s {
		if x == f {
			return true
		}
	}
	return false
}

// With returns a copy of s containing f.
func (s FlagSet) With(f Flag) FlagSet {
	if s.Has(f) {
		return s
	}
	out := make(FlagSet, 0, len(s)+1)
	out = append(out, s...)
	out = append(out, f)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Without returns a copy of s without f.
func (s FlagSet) Without(f Flag) FlagSet {
	if !s.Has(f) {
		return s
	}
	var out FlagSet
	for _, x := range s {
		if x != f {
			out = append(out, x)
		}
	}
	return out
}

var policies = map[string]bool{
	"DIRECT":         true,
	"REJECT":         true,
	"REJECT-DROP":    true,
	"REJECT-TINYGIF": true,
	"REJECT-NO-DROP": true,
	"REJECT-DICT":    true,
	"REJECT-ARRAY":   true,
	"PROXY":          true,
	"RULE-SET":       true,
}

// IsPolicy 报告 s 是否属于策略词表（大小写不敏感）
func IsPolicy(s string) bool {
	return policies[strings.ToUpper(strings.TrimSpace(s))]
}

// Rule is one canonical parsed line. Composite rules carry Children and an
// empty Value; simple rules never carry Children.
//
// Extra holds trailing tokens that are neither a known policy nor a known
// flag (custom policy groups such as "MyProxy"), in input order.
type Rule struct {
	Type     Type
	Value    string
	Policy   string
	Extra    []string
	Flags    FlagSet
	Children []Rule
}

// IsComposite 是否为组合规则
func (r Rule) IsComposite() bool { return r.Type.IsComposite() }
