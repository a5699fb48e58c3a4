package merge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Header 生成文件头所需信息
type Header struct {
	Title       string
	Description string
	Updated     time.Time
	Counts      map[string]int
	Sources     []string
}

// Render writes the "//" header block followed by one blank line.
func (h Header) Render() string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		b.WriteString("// ")
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("%s", h.Title)
	line("Last updated: %s", h.Updated.Format("2006-01-02 15:04:05 MST"))

	types := lo.Keys(h.Counts)
	sort.Strings(types)
	total := 0
	for _, t := range types {
		if n := h.Counts[t]; n > 0 {
			line("%s: %d", t, n)
			total += n
		}
	}
	line("Total: %d", total)

	if desc := strings.TrimSpace(h.Description); desc != "" {
		b.WriteString("//\n")
		for _, l := range strings.Split(desc, "\n") {
			line("%s", strings.TrimSpace(l))
		}
	}

	if sources := lo.Uniq(h.Sources); len(sources) > 0 {
		b.WriteString("//\n")
		line("Data sources:")
		for _, s := range sources {
			line("  %s", s)
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// StripHeader drops a leading "//" block and the blank line ending it.
func StripHeader(text string) string {
	if !strings.HasPrefix(text, "//") {
		return text
	}
	rest := text
	for rest != "" {
		line, tail, _ := strings.Cut(rest, "\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return tail
		}
		if !strings.HasPrefix(trimmed, "//") {
			return rest
		}
		rest = tail
	}
	return ""
}
