package rule

import (
	"regexp"
	"strings"

	"github.com/winspan/ruleguard/internal/validate"
)

// Format 源文件方言
type Format string

const (
	// FormatRuleset covers Surge and Clash classical "TYPE,VALUE[,POLICY]" lines.
	FormatRuleset Format = "ruleset"
	// FormatDomainSet is one bare domain per line, leading '.' for suffixes.
	FormatDomainSet Format = "domainset"
)

// Options 控制解析后的修饰符注入
type Options struct {
	NoResolve        bool
	PreMatching      bool
	ExtendedMatching bool
}

var dottedQuad = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}(/\d{1,2})?$`)

// Parse parses one classified line into a Rule.
func Parse(line string, format Format, opts Options) (Rule, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Rule{}, newError(ErrEmptyValue, line, "empty line")
	}
	if up := strings.ToUpper(line); up == "FINAL" || up == "MATCH" {
		return Rule{Type: Final}, nil
	}
	if format == FormatDomainSet || !strings.Contains(line, ",") {
		r, err := Infer(line)
		if err != nil {
			return Rule{}, err
		}
		return Apply(r, opts), nil
	}

	typeTok, rest, _ := strings.Cut(line, ",")
	t, ok := CanonicalType(typeTok)
	if !ok {
		return Rule{}, newError(ErrUnsupportedRuleType, line, "%s", strings.TrimSpace(typeTok))
	}

	var (
		r   Rule
		err error
	)
	if t.IsComposite() {
		r, err = parseComposite(t, rest, line)
	} else {
		r, err = parseSimple(t, rest, line)
	}
	if err != nil {
		return Rule{}, err
	}
	return Apply(r, opts), nil
}

// Infer builds a rule from a bare token that carries no type.
func Infer(token string) (Rule, error) {
	v := strings.TrimSpace(token)
	if v == "" {
		return Rule{}, newError(ErrEmptyValue, token, "empty token")
	}

	var r Rule
	switch {
	case len(v) > 2 && strings.HasPrefix(v, "/") && strings.HasSuffix(v, "/"):
		r = Rule{Type: UserAgent, Value: v[1 : len(v)-1]}
	case strings.HasPrefix(v, "+."):
		r = Rule{Type: DomainSuffix, Value: v[2:]}
	case strings.ContainsAny(v, "*?"):
		r = Rule{Type: DomainWildcard, Value: v}
	case strings.HasPrefix(v, "."):
		r = Rule{Type: DomainSuffix, Value: v[1:]}
	case dottedQuad.MatchString(v):
		r = Rule{Type: IPCIDR, Value: v}
	case strings.Contains(v, ":"):
		r = Rule{Type: IPCIDR6, Value: v}
	default:
		r = Rule{Type: Domain, Value: v}
	}
	r.Value = normalizeValue(r.Type, r.Value)
	if r.Value == "" {
		return Rule{}, newError(ErrEmptyValue, token, "%s has no value", r.Type)
	}
	if res := validate.Check(string(r.Type), r.Value); !res.OK {
		return Rule{}, newError(ErrInvalidValueFormat, token, "%s", res.Reason)
	}
	return r, nil
}

func splitFields(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseSimple(t Type, rest, line string) (Rule, error) {
	fields := splitFields(rest)
	r := Rule{Type: t}

	if t == Final {
		r.addTail(fields)
		return r, nil
	}

	var tail []string
	if t.regexValued() {
		// trailing policy/flags are peeled off; everything else is the value
		end := len(fields)
		for end > 1 {
			if _, ok := parseFlag(fields[end-1]); ok {
				end--
				continue
			}
			break
		}
		if end > 1 && IsPolicy(fields[end-1]) {
			end--
		}
		r.Value = strings.Join(fields[:end], ",")
		tail = fields[end:]
	} else {
		r.Value = fields[0]
		tail = fields[1:]
	}

	r.addTail(tail)

	r.Value = normalizeValue(t, r.Value)
	if r.Value == "" {
		return Rule{}, newError(ErrEmptyValue, line, "%s has no value", t)
	}
	if res := validate.Check(string(t), r.Value); !res.OK {
		return Rule{}, newError(ErrInvalidValueFormat, line, "%s", res.Reason)
	}
	return r, nil
}

// addTail sorts trailing fields into policy, flags and opaque extras. The
// first field is a policy only when it is in the vocabulary.
func (r *Rule) addTail(fields []string) {
	for i, f := range fields {
		switch fl, isFlag := parseFlag(f); {
		case f == "":
		case i == 0 && IsPolicy(f):
			r.Policy = strings.ToUpper(f)
		case isFlag:
			r.Flags = r.Flags.With(fl)
		default:
			r.Extra = append(r.Extra, f)
		}
	}
}

func normalizeValue(t Type, v string) string {
	v = strings.TrimSpace(v)
	switch t {
	case Domain, DomainWildcard, DomainKeyword:
		return strings.TrimSuffix(strings.ToLower(v), ".")
	case DomainSuffix:
		v = strings.TrimPrefix(strings.TrimPrefix(v, "+."), ".")
		return strings.TrimSuffix(strings.ToLower(v), ".")
	case IPCIDR:
		if v != "" && !strings.Contains(v, "/") {
			v += "/32"
		}
		return v
	case IPCIDR6:
		if v != "" && !strings.Contains(v, "/") {
			v += "/128"
		}
		return strings.ToLower(v)
	case SrcIP:
		if v != "" && !strings.Contains(v, "/") {
			if strings.Contains(v, ":") {
				v += "/128"
			} else {
				v += "/32"
			}
		}
		return strings.ToLower(v)
	case GeoIP, Protocol:
		return strings.ToUpper(v)
	case IPASN:
		if len(v) > 2 && strings.EqualFold(v[:2], "AS") {
			return v[2:]
		}
		return v
	}
	return v
}

// Apply injects configured flags. Applying it twice yields the same rule.
func Apply(r Rule, opts Options) Rule {
	if opts.NoResolve && r.Type.IsIP() {
		r.Flags = r.Flags.With(NoResolve)
	}
	if opts.PreMatching && r.Policy == "REJECT" {
		r.Flags = r.Flags.With(PreMatching)
	}
	if opts.ExtendedMatching && r.Type.IsDomain() {
		r.Flags = r.Flags.With(ExtendedMatching)
	}
	return r
}

// WithNoResolve adds no-resolve to IP-family rules.
func WithNoResolve(r Rule) Rule {
	if r.Type.IsIP() {
		r.Flags = r.Flags.With(NoResolve)
	}
	return r
}

// WithoutNoResolve 去掉 no-resolve
func WithoutNoResolve(r Rule) Rule {
	r.Flags = r.Flags.Without(NoResolve)
	return r
}
