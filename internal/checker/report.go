// Package checker backs the validate and check commands: it reports bad
// or dead rule lines per file and optionally rewrites the files.
package checker

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/samber/lo"
)

// Issue 单行问题
type Issue struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Report 检查结果汇总
type Report struct {
	Files    int     `json:"files"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	Fixed    int     `json:"fixed"`
	Dead     []Issue `json:"dead"`
	Removed  int     `json:"removed"`
	// Corrected is set when the files were rewritten to drop the issues.
	Corrected bool `json:"corrected"`
}

// ExitCode is 1 exactly when errors or dead entries remain uncorrected.
// Warnings alone never fail a run.
func (r *Report) ExitCode() int {
	if r.Corrected {
		return 0
	}
	if len(r.Errors) > 0 || len(r.Dead) > 0 {
		return 1
	}
	return 0
}

// Print writes per-line diagnostics grouped by kind, then a summary.
func (r *Report) Print(w io.Writer) {
	printGroup(w, "error", r.Errors)
	printGroup(w, "warning", r.Warnings)
	printGroup(w, "dead", r.Dead)
	fmt.Fprintf(w, "files=%d errors=%d warnings=%d fixed=%d dead=%d removed=%d\n",
		r.Files, len(r.Errors), len(r.Warnings), r.Fixed, len(r.Dead), r.Removed)
}

func printGroup(w io.Writer, severity string, issues []Issue) {
	groups := lo.GroupBy(issues, func(i Issue) string { return i.Kind })
	kinds := lo.Keys(groups)
	sort.Strings(kinds)
	for _, kind := range kinds {
		items := groups[kind]
		fmt.Fprintf(w, "[%s] %s (%d)\n", severity, kind, len(items))
		for _, it := range items {
			fmt.Fprintf(w, "  %s:%d: %s (%s)\n", it.File, it.Line, it.Raw, it.Reason)
		}
	}
}

// WriteGitHubOutput appends key=value summary lines to path. An empty
// path is a no-op.
func (r *Report) WriteGitHubOutput(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("打开 GITHUB_OUTPUT 失败: %w", err)
	}
	defer f.Close()

	fields := []struct {
		key string
		val int
	}{
		{"errors", len(r.Errors)},
		{"warnings", len(r.Warnings)},
		{"fixed", r.Fixed},
		{"dead", len(r.Dead)},
		{"removed", r.Removed},
		{"files", r.Files},
	}
	for _, kv := range fields {
		if _, err := fmt.Fprintf(f, "%s=%d\n", kv.key, kv.val); err != nil {
			return err
		}
	}
	return nil
}
