package validate

import (
	"strings"
	"unicode"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// markerDomains are attribution watermarks that upstream rulesets embed on
// purpose. They break the label rules and are kept as-is.
var markerDomains = map[string]bool{
	"this_ruleset_is_made_by_sukkaw.ruleset.skk.moe":  true,
	"7h1s_rul35et_i5_mad3_by_5ukk4w-ruleset.skk.moe":  true,
	"th1s_rule5et_1s_m4d3_by_5ukk4w_ruleset.skk.moe":  true,
	"this_rule_set_is_made_by_sukkaw.ruleset.skk.moe": true,
}

// Domain 校验普通域名
func Domain(value string) Result {
	return checkDomain(value, false)
}

// WildcardDomain accepts '*' and '?' in any label except the TLD. A value
// without any wildcard is accepted as well.
func WildcardDomain(value string) Result {
	return checkDomain(value, true)
}

func checkDomain(value string, wildcard bool) Result {
	if value == "" {
		return failf("empty domain")
	}
	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return failf("domain %q contains whitespace", value)
	}
	name := strings.ToLower(strings.TrimSuffix(value, "."))
	if markerDomains[name] {
		return pass()
	}
	if len(name) > maxDomainLength {
		return failf("domain %q longer than %d", value, maxDomainLength)
	}

	labels := strings.Split(name, ".")
	for i, label := range labels {
		if label == "" {
			return failf("domain %q has an empty label", value)
		}
		isTLD := i == len(labels)-1 && len(labels) > 1
		if wildcard && isTLD && strings.ContainsAny(label, "*?") {
			return failf("domain %q: wildcard in top-level label", value)
		}
		if r := checkLabel(label, wildcard && !isTLD); !r.OK {
			return failf("domain %q: %s", value, r.Reason)
		}
	}
	return pass()
}

func checkLabel(label string, wildcard bool) Result {
	ascii := true
	for i := 0; i < len(label); i++ {
		if label[i] >= 0x80 {
			ascii = false
			break
		}
	}
	// IDN labels are accepted as long as they carry no whitespace
	if !ascii {
		return pass()
	}
	if len(label) > maxLabelLength {
		return failf("label %q longer than %d", label, maxLabelLength)
	}
	if strings.HasSuffix(label, "-") {
		return failf("label %q ends with a hyphen", label)
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		case wildcard && (c == '*' || c == '?'):
		default:
			return failf("label %q has invalid character %q", label, c)
		}
	}
	return pass()
}
