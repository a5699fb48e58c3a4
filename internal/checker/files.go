package checker

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/winspan/ruleguard/internal/rule"
	"github.com/winspan/ruleguard/pkg/utils"
)

var ruleExts = map[string]bool{".list": true, ".conf": true, ".txt": true, ".snippet": true}

// ExpandPaths replaces directories with the rule files below them.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if ruleExts[strings.ToLower(filepath.Ext(path))] {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

// formatFor picks the dialect of a file; forced wins when set.
func formatFor(path, forced string) rule.Format {
	if forced != "" {
		return rule.Format(forced)
	}
	if strings.Contains(strings.ToLower(filepath.ToSlash(path)), "domainset") {
		return rule.FormatDomainSet
	}
	return rule.FormatRuleset
}

// splitLines keeps whether the text ended with a newline.
func splitLines(text string) (lines []string, trailingNewline bool) {
	trailingNewline = strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil, trailingNewline
	}
	lines = strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return lines, trailingNewline
}

func writeLines(path string, lines []string, trailingNewline bool) error {
	text := strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		text += "\n"
	}
	perm := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return utils.WriteFileAtomic(path, []byte(text), perm)
}
