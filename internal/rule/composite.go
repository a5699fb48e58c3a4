package rule

import (
	"errors"
	"strings"
	"unicode"
)

// scanner tracks parenthesis depth and quote state while walking a
// composite rule body. A quote only opens at the start of a field, so
// apostrophes inside values such as "O'Reilly" are plain characters.
type scanner struct {
	depth int
	quote rune
	prev  rune // last non-space rune
}

// step feeds one rune and reports whether it sits at top level (depth zero,
// outside quotes) before the rune is applied.
func (s *scanner) step(c rune) (topLevel bool, err error) {
	topLevel = s.depth == 0 && s.quote == 0
	switch {
	case s.quote != 0:
		if c == s.quote {
			s.quote = 0
		}
	case (c == '"' || c == '\'') && s.fieldStart():
		s.quote = c
	case c == '(':
		s.depth++
	case c == ')':
		s.depth--
		if s.depth < 0 {
			return false, errors.New("unbalanced ')'")
		}
	}
	if !unicode.IsSpace(c) {
		s.prev = c
	}
	return topLevel, nil
}

func (s *scanner) fieldStart() bool {
	return s.prev == 0 || s.prev == ',' || s.prev == '('
}

func (s *scanner) done() error {
	if s.quote != 0 {
		return errors.New("unterminated quote")
	}
	if s.depth != 0 {
		return errors.New("unbalanced '('")
	}
	return nil
}

// splitTopLevel splits s at commas outside parentheses and quotes.
func splitTopLevel(s string) ([]string, error) {
	var (
		sc    scanner
		parts []string
		start int
	)
	for i, c := range s {
		top, err := sc.step(c)
		if err != nil {
			return nil, err
		}
		if top && c == ',' {
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if err := sc.done(); err != nil {
		return nil, err
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	for _, p := range parts {
		if p == "" {
			return nil, errors.New("empty sub-rule")
		}
	}
	return parts, nil
}

// lastTopLevelComma returns the byte index of the last top-level comma or -1.
func lastTopLevelComma(s string) (int, error) {
	var sc scanner
	idx := -1
	for i, c := range s {
		top, err := sc.step(c)
		if err != nil {
			return -1, err
		}
		if top && c == ',' {
			idx = i
		}
	}
	if err := sc.done(); err != nil {
		return -1, err
	}
	return idx, nil
}

// isWrapped reports whether s is one balanced parenthesised group, i.e. the
// first '(' closes exactly at the last byte.
func isWrapped(s string) bool {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return false
	}
	var sc scanner
	for i, c := range s {
		if _, err := sc.step(c); err != nil {
			return false
		}
		if sc.depth == 0 && sc.quote == 0 {
			return i == len(s)-1
		}
	}
	return false
}

func unwrap(s string) string {
	return strings.TrimSpace(s[1 : len(s)-1])
}

func allWrapped(parts []string) bool {
	for _, p := range parts {
		if !isWrapped(p) {
			return false
		}
	}
	return true
}

func parseComposite(t Type, rest, line string) (Rule, error) {
	r := Rule{Type: t}
	blob := strings.TrimSpace(rest)

	// peel trailing policy and modifiers; at most one bare token that is
	// neither is kept as a custom policy group
	for {
		idx, err := lastTopLevelComma(blob)
		if err != nil {
			return Rule{}, &ParseError{Kind: ErrMalformedComposite, Line: line, Reason: err.Error()}
		}
		if idx < 0 {
			break
		}
		tok := strings.TrimSpace(blob[idx+1:])
		if f, ok := parseFlag(tok); ok {
			r.Flags = r.Flags.With(f)
		} else if IsPolicy(tok) && r.Policy == "" {
			r.Policy = strings.ToUpper(tok)
		} else if tok != "" && r.Policy == "" && r.Extra == nil && !strings.ContainsAny(tok, "()") {
			r.Extra = []string{tok}
		} else {
			break
		}
		blob = strings.TrimSpace(blob[:idx])
	}

	parts, err := siblings(blob)
	if err != nil {
		return Rule{}, &ParseError{Kind: ErrMalformedComposite, Line: line, Reason: err.Error()}
	}

	switch {
	case t == Not && len(parts) != 1:
		return Rule{}, newError(ErrMalformedComposite, line, "NOT takes exactly one sub-rule, got %d", len(parts))
	case len(parts) < 1:
		return Rule{}, newError(ErrMalformedComposite, line, "%s needs at least one sub-rule", t)
	}

	for _, p := range parts {
		child, err := parseChild(p)
		if err != nil {
			if errors.Is(err, ErrUnsupportedRuleType) {
				return Rule{}, newError(ErrUnsupportedRuleType, line, "sub-rule %q", p)
			}
			return Rule{}, &ParseError{Kind: ErrMalformedComposite, Line: line, Reason: "sub-rule " + p, Cause: err}
		}
		r.Children = append(r.Children, child)
	}
	return r, nil
}

// siblings strips the outer wrapper (one or two layers) and splits the
// remaining blob into sub-rule strings.
func siblings(blob string) ([]string, error) {
	var parts []string
	if isWrapped(blob) {
		inner := unwrap(blob)
		if inner == "" {
			return nil, nil
		}
		var err error
		if parts, err = splitTopLevel(inner); err != nil {
			return nil, err
		}
		switch {
		case len(parts) == 1 && isWrapped(parts[0]):
			// a redundant second wrapper around several groups
			if sub, err := splitTopLevel(unwrap(parts[0])); err == nil && len(sub) > 1 && allWrapped(sub) {
				parts = sub
			}
		case len(parts) > 1 && !anyWrapped(parts):
			// a single bare "TYPE,VALUE" inside one wrapper
			parts = []string{inner}
		}
	} else {
		var err error
		if parts, err = splitTopLevel(blob); err != nil {
			return nil, err
		}
		if !allWrapped(parts) {
			return nil, errors.New("sub-rules must be parenthesised")
		}
	}
	if len(parts) > 1 && !allWrapped(parts) {
		return nil, errors.New("mixed parenthesised and bare sub-rules")
	}
	return parts, nil
}

func anyWrapped(parts []string) bool {
	for _, p := range parts {
		if isWrapped(p) {
			return true
		}
	}
	return false
}

func parseChild(p string) (Rule, error) {
	for i := 0; i < 2 && isWrapped(p); i++ {
		p = unwrap(p)
	}
	if !strings.Contains(p, ",") {
		return Rule{}, newError(ErrMalformedComposite, p, "sub-rule %q is not TYPE,VALUE", p)
	}
	return Parse(p, FormatRuleset, Options{})
}
