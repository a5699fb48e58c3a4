package checker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/winspan/ruleguard/internal/pool"
	"github.com/winspan/ruleguard/internal/rule"
	"github.com/winspan/ruleguard/pkg/logger"
)

// ValidateOptions 校验参数
type ValidateOptions struct {
	// Format forces a dialect for every file; empty means detect per file.
	Format string
	// Fix rewrites files: bad and duplicate lines removed, good lines in
	// canonical form with their inline comments kept.
	Fix     bool
	Workers int
	Logger  *logger.Logger
}

type fileResult struct {
	errors   []Issue
	warnings []Issue
	fixed    int
}

// Validate checks every rule line of the given files.
func Validate(ctx context.Context, paths []string, opts ValidateOptions) (*Report, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	results := pool.Map(ctx, max(opts.Workers, 1), files, func(ctx context.Context, path string) (fileResult, error) {
		return validateFile(path, opts)
	}, nil)

	rep := &Report{Files: len(files), Corrected: opts.Fix}
	for _, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("校验 %s 失败: %w", r.Item, r.Err)
		}
		rep.Errors = append(rep.Errors, r.Value.errors...)
		rep.Warnings = append(rep.Warnings, r.Value.warnings...)
		rep.Fixed += r.Value.fixed
	}
	return rep, nil
}

func validateFile(path string, opts ValidateOptions) (fileResult, error) {
	var res fileResult
	data, err := os.ReadFile(path)
	if err != nil {
		return res, err
	}
	format := formatFor(path, opts.Format)
	lines, trailing := splitLines(string(data))

	out := make([]string, 0, len(lines))
	seen := make(map[string]int)
	for i, raw := range lines {
		lineNo := i + 1
		line, ok := rule.Classify(raw)
		if !ok {
			out = append(out, raw)
			continue
		}

		canonical, err := canonicalLine(line, format)
		if err != nil {
			issue := Issue{File: path, Line: lineNo, Raw: line, Kind: rule.KindName(err), Reason: err.Error()}
			if errors.Is(err, rule.ErrUnsupportedRuleType) {
				res.warnings = append(res.warnings, issue)
			} else {
				res.errors = append(res.errors, issue)
			}
			res.fixed++
			continue
		}
		if first, dup := seen[canonical]; dup {
			res.warnings = append(res.warnings, Issue{
				File: path, Line: lineNo, Raw: line, Kind: "duplicate",
				Reason: fmt.Sprintf("same rule as line %d", first),
			})
			res.fixed++
			continue
		}
		seen[canonical] = lineNo
		if canonical != line {
			res.fixed++
		}
		if c := rule.InlineComment(raw); c != "" {
			canonical += " " + c
		}
		out = append(out, canonical)
	}

	if opts.Fix && res.fixed > 0 {
		if err := writeLines(path, out, trailing); err != nil {
			return res, err
		}
		opts.Logger.Info("已修正 %s: %d 行", path, res.fixed)
	}
	if !opts.Fix {
		res.fixed = 0
	}
	return res, nil
}

// canonicalLine parses line without flag injection and renders it back.
func canonicalLine(line string, format rule.Format) (string, error) {
	r, err := rule.Parse(line, format, rule.Options{})
	if err != nil {
		return "", err
	}
	if format == rule.FormatDomainSet {
		s, ok := r.DomainSetLine()
		if !ok {
			return "", &rule.ParseError{Kind: rule.ErrInvalidValueFormat, Line: line, Reason: fmt.Sprintf("%s is not a domain", r.Type)}
		}
		return s, nil
	}
	return r.String(), nil
}
