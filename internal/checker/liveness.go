package checker

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"

	"github.com/winspan/ruleguard/internal/pool"
	"github.com/winspan/ruleguard/internal/rule"
	"github.com/winspan/ruleguard/pkg/logger"
)

// LivenessChecker 判定域名是否存活
type LivenessChecker interface {
	IsDomainAlive(ctx context.Context, key string) bool
}

// CheckOptions 存活检查参数
type CheckOptions struct {
	Format      string
	AutoRemove  bool
	Concurrency int
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer
	Logger   *logger.Logger
}

type domainLine struct {
	file string
	line int
	raw  string
	key  string
}

// Check runs every DOMAIN and DOMAIN-SUFFIX entry of the files through the
// oracle. Each distinct key is checked once.
func Check(ctx context.Context, paths []string, oracle LivenessChecker, opts CheckOptions) (*Report, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	var entries []domainLine
	for _, path := range files {
		found, err := collectDomains(path, formatFor(path, opts.Format))
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}

	keys := lo.Uniq(lo.Map(entries, func(e domainLine, _ int) string { return e.key }))
	opts.Logger.Info("待检查域名 %d 个（%d 个文件）", len(keys), len(files))

	var tick func()
	// debug 日志会打断进度条
	if opts.Progress != nil && len(keys) > 0 && !opts.Logger.IsDebug() {
		bar := progressbar.NewOptions(len(keys),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("checking"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		tick = func() { _ = bar.Add(1) }
	}

	results := pool.Map(ctx, pool.Clamp(opts.Concurrency), keys, func(ctx context.Context, key string) (bool, error) {
		return oracle.IsDomainAlive(ctx, key), nil
	}, tick)

	dead := make(map[string]bool)
	for _, r := range results {
		if r.Err != nil {
			// 未完成的检查按存活处理
			continue
		}
		if !r.Value {
			dead[r.Item] = true
		}
	}

	rep := &Report{Files: len(files), Corrected: opts.AutoRemove}
	byFile := make(map[string]map[int]bool)
	for _, e := range entries {
		if !dead[e.key] {
			continue
		}
		rep.Dead = append(rep.Dead, Issue{File: e.file, Line: e.line, Raw: e.raw, Kind: "dead_domain", Reason: e.key})
		if byFile[e.file] == nil {
			byFile[e.file] = make(map[int]bool)
		}
		byFile[e.file][e.line] = true
	}

	if opts.AutoRemove {
		for _, path := range files {
			drop := byFile[path]
			if len(drop) == 0 {
				continue
			}
			if err := removeLines(path, drop); err != nil {
				return rep, err
			}
			rep.Removed += len(drop)
			opts.Logger.Info("已删除 %s 中 %d 条失效规则", path, len(drop))
		}
	}
	return rep, nil
}

func collectDomains(path string, format rule.Format) ([]domainLine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines, _ := splitLines(string(data))
	var out []domainLine
	for i, raw := range lines {
		line, ok := rule.Classify(raw)
		if !ok {
			continue
		}
		r, err := rule.Parse(line, format, rule.Options{})
		if err != nil {
			continue
		}
		key, ok := r.DomainKey()
		if !ok || !checkable(key) {
			continue
		}
		out = append(out, domainLine{file: path, line: i + 1, raw: line, key: key})
	}
	return out, nil
}

// checkable skips keys that can never be resolved, like bare TLDs.
func checkable(key string) bool {
	d := strings.TrimPrefix(key, ".")
	return strings.Contains(d, ".") && !strings.ContainsAny(d, "*?")
}

func removeLines(path string, drop map[int]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines, trailing := splitLines(string(data))
	kept := make([]string, 0, len(lines))
	for i, l := range lines {
		if !drop[i+1] {
			kept = append(kept, l)
		}
	}
	return writeLines(path, kept, trailing)
}
