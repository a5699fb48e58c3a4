package rule

import "strings"

// Classify strips whitespace and comments from a raw line. ok is false for
// blank lines, full-line comments and the "###" end-of-file marker.
func Classify(raw string) (line string, ok bool) {
	line = strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
	if line == "" || IsEOFMarker(line) {
		return "", false
	}
	if isCommentStart(line) {
		return "", false
	}
	line = stripInlineComment(line)
	return line, line != ""
}

// IsEOFMarker reports whether the line consists of three or more '#'.
func IsEOFMarker(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) >= 3 && strings.Trim(line, "#") == ""
}

func isCommentStart(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "!")
}

// stripInlineComment cuts at the first comment marker preceded by
// whitespace, so URLs keep their '#' and '//'.
func stripInlineComment(line string) string {
	for i := 1; i < len(line); i++ {
		if line[i-1] != ' ' && line[i-1] != '\t' {
			continue
		}
		rest := line[i:]
		if strings.HasPrefix(rest, "#") || strings.HasPrefix(rest, "//") || strings.HasPrefix(rest, "!") {
			return strings.TrimSpace(line[:i])
		}
	}
	return line
}

// InlineComment returns the trailing comment of a rule line, marker
// included, or "" when the line has none.
func InlineComment(raw string) string {
	line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
	if line == "" || isCommentStart(line) {
		return ""
	}
	return strings.TrimSpace(line[len(stripInlineComment(line)):])
}
