// Package validate holds the per-type value validators used by the rule
// grammar. Validators are pure and never return errors; a failed check is a
// Result with a human-readable reason.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Result 校验结果
type Result struct {
	OK     bool
	Reason string
}

// Func 单个类型的校验函数
type Func func(value string) Result

func pass() Result { return Result{OK: true} }

func failf(format string, args ...interface{}) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// table 按规则类型索引的校验函数
var table = map[string]Func{
	"DOMAIN":          Domain,
	"DOMAIN-SUFFIX":   Domain,
	"DOMAIN-KEYWORD":  Keyword,
	"DOMAIN-WILDCARD": WildcardDomain,
	"DOMAIN-SET":      NonEmpty,
	"DOMAIN-REGEX":    Regex,
	"IP-CIDR":         CIDR4,
	"IP-CIDR6":        CIDR6,
	"SRC-IP":          CIDR,
	"GEOIP":           CountryCode,
	"IP-ASN":          ASN,
	"USER-AGENT":      NonEmpty,
	"URL-REGEX":       Regex,
	"PROCESS-NAME":    NonEmpty,
	"PROCESS-PATH":    NonEmpty,
	"DST-PORT":        PortRange,
	"SRC-PORT":        PortRange,
	"IN-PORT":         PortRange,
	"PROTOCOL":        Protocol,
	"SUBNET":          NonEmpty,
	"RULE-SET":        NonEmpty,
	"SCRIPT":          NonEmpty,
	"FINAL":           func(string) Result { return pass() },
}

// Check 使用为 ruleType 注册的校验函数检查 value
func Check(ruleType, value string) Result {
	f, ok := table[ruleType]
	if !ok {
		return failf("no validator registered for rule type %s", ruleType)
	}
	return f(value)
}

// NonEmpty accepts any value that is not blank and carries no field separator.
func NonEmpty(value string) Result {
	if strings.TrimSpace(value) == "" {
		return failf("empty value")
	}
	if strings.Contains(value, ",") {
		return failf("value %q contains a comma", value)
	}
	return pass()
}

// Keyword 关键字不允许空白和逗号
func Keyword(value string) Result {
	if r := NonEmpty(value); !r.OK {
		return r
	}
	if strings.ContainsAny(value, " \t") {
		return failf("keyword %q contains whitespace", value)
	}
	return pass()
}

// ASN accepts "13335" and "AS13335".
func ASN(value string) Result {
	num := value
	if len(num) > 2 && strings.EqualFold(num[:2], "AS") {
		num = num[2:]
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return failf("ASN %q is not a number", value)
	}
	if n < 1 || n > 4294967295 {
		return failf("ASN %d out of range [1, 4294967295]", n)
	}
	return pass()
}

// pseudoCountries 一些策略系统使用的非 ISO GEOIP 代码
var pseudoCountries = map[string]bool{
	"LAN":        true,
	"PRIVATE":    true,
	"NETFLIX":    true,
	"TELEGRAM":   true,
	"GOOGLE":     true,
	"CLOUDFLARE": true,
	"CLOUDFRONT": true,
	"FASTLY":     true,
	"TWITTER":    true,
	"FACEBOOK":   true,
}

// CountryCode 校验两位国家代码或白名单中的伪代码
func CountryCode(value string) Result {
	upper := strings.ToUpper(value)
	if pseudoCountries[upper] {
		return pass()
	}
	if len(upper) != 2 {
		return failf("country code %q must be 2 letters", value)
	}
	for _, c := range upper {
		if c < 'A' || c > 'Z' {
			return failf("country code %q must be 2 letters", value)
		}
	}
	return pass()
}

// PortRange accepts "N" or "N-M" with 1 <= N <= M <= 65535.
func PortRange(value string) Result {
	lo, hi, isRange := strings.Cut(value, "-")
	from, err := parsePort(lo)
	if err != nil {
		return failf("port %q: %v", value, err)
	}
	if !isRange {
		return pass()
	}
	to, err := parsePort(hi)
	if err != nil {
		return failf("port range %q: %v", value, err)
	}
	if from > to {
		return failf("port range %q: start %d greater than end %d", value, from, to)
	}
	return pass()
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("%d out of range [1, 65535]", n)
	}
	return n, nil
}

// Regex 正则必须能够编译
func Regex(value string) Result {
	if value == "" {
		return failf("empty regex")
	}
	if _, err := regexp.Compile(value); err != nil {
		return failf("invalid regex %q: %v", value, err)
	}
	return pass()
}

var protocols = map[string]bool{
	"TCP": true, "UDP": true, "QUIC": true, "HTTP": true,
	"HTTPS": true, "TLS": true, "STUN": true, "ICMP": true,
}

// Protocol 协议名校验
func Protocol(value string) Result {
	if !protocols[strings.ToUpper(value)] {
		return failf("unknown protocol %q", value)
	}
	return pass()
}
