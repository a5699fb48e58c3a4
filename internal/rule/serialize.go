package rule

import "strings"

// String renders the canonical line: TYPE,VALUE[,POLICY][,extra...][,flag...].
// Composites render as TYPE,((child),(child))[,POLICY].
func (r Rule) String() string {
	var b strings.Builder
	r.write(&b)
	return b.String()
}

func (r Rule) write(b *strings.Builder) {
	b.WriteString(string(r.Type))
	if r.IsComposite() {
		b.WriteString(",(")
		for i, c := range r.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('(')
			c.write(b)
			b.WriteByte(')')
		}
		b.WriteByte(')')
	} else if r.Value != "" {
		b.WriteByte(',')
		b.WriteString(r.Value)
	}
	if r.Policy != "" {
		b.WriteByte(',')
		b.WriteString(r.Policy)
	}
	for _, x := range r.Extra {
		b.WriteByte(',')
		b.WriteString(x)
	}
	for _, f := range r.Flags {
		b.WriteByte(',')
		b.WriteString(string(f))
	}
}

// DomainSetLine renders DOMAIN and DOMAIN-SUFFIX rules in domain-set form.
func (r Rule) DomainSetLine() (string, bool) {
	switch r.Type {
	case Domain:
		return r.Value, true
	case DomainSuffix:
		return "." + r.Value, true
	}
	return "", false
}

// DomainKey returns the liveness key of a domain rule. It has the same
// shape as the domain-set line.
func (r Rule) DomainKey() (string, bool) {
	return r.DomainSetLine()
}
