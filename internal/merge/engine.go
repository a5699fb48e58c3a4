// Package merge folds several rule sources into one generated rule file.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/winspan/ruleguard/internal/pool"
	"github.com/winspan/ruleguard/internal/rule"
	"github.com/winspan/ruleguard/internal/storage"
	"github.com/winspan/ruleguard/pkg/config"
	"github.com/winspan/ruleguard/pkg/logger"
	"github.com/winspan/ruleguard/pkg/utils"
)

var mergedRules = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ruleguard_merge_rules_total",
		Help: "Rules written by merge jobs",
	},
	[]string{"job"},
)

func init() {
	prometheus.MustRegister(mergedRules)
}

// Loader 读取本地路径或远程 URL
type Loader interface {
	Load(ctx context.Context, location string) ([]byte, error)
}

// Options 合并引擎参数
type Options struct {
	Rules    rule.Options
	Location *time.Location
	// Store keeps source checksums; nil disables change detection.
	Store   *storage.Cache
	Logger  *logger.Logger
	Now     func() time.Time
	Workers int
}

// Engine 合并引擎
type Engine struct {
	loader  Loader
	opts    Options
	log     *logger.Logger
	now     func() time.Time
	jobLock sync.Map // target -> *sync.Mutex
}

// SourceFailure 读取失败的源
type SourceFailure struct {
	Location string `json:"location"`
	Error    string `json:"error"`
}

// Result 一次合并的结果
type Result struct {
	Job     string          `json:"job"`
	Target  string          `json:"target"`
	Rules   int             `json:"rules"`
	Counts  map[string]int  `json:"counts"`
	Sources []string        `json:"sources"`
	Failed  []SourceFailure `json:"failed,omitempty"`
	Dropped int             `json:"dropped"`
	Deleted []string        `json:"deleted,omitempty"`
	Skipped bool            `json:"skipped"`
}

// NewEngine 创建合并引擎
func NewEngine(loader Loader, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Engine{loader: loader, opts: opts, log: opts.Logger, now: opts.Now}
}

type loaded struct {
	location string
	data     []byte
	state    storage.SourceState
}

// Merge runs one job. Unreadable sources are logged and skipped; only a
// failure to write the target is returned as an error. Unless force is
// set, the job is skipped when no input changed since the last write.
func (e *Engine) Merge(ctx context.Context, job config.MergeJob, force bool) (Result, error) {
	mu, _ := e.jobLock.LoadOrStore(job.Target, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	res := Result{Job: job.Name, Target: job.Target, Counts: map[string]int{}}
	format := rule.Format(job.Format)
	if format == "" {
		format = rule.FormatRuleset
	}

	var inputs []loaded
	for _, loc := range job.Sources {
		data, err := e.loader.Load(ctx, loc)
		if err != nil {
			e.log.Warn("[%s] 读取规则源失败，跳过 %s: %v", job.Name, loc, err)
			res.Failed = append(res.Failed, SourceFailure{Location: loc, Error: err.Error()})
			continue
		}
		inputs = append(inputs, loaded{
			location: loc,
			data:     data,
			state:    storage.SourceState{URL: loc, Checksum: utils.SHA256Hash(data), Size: int64(len(data)), FetchedAt: e.now()},
		})
		res.Sources = append(res.Sources, loc)
	}

	fingerprint := e.fingerprint(job, inputs)
	if !force && len(res.Failed) == 0 && e.unchanged(ctx, job, fingerprint) {
		e.log.Info("[%s] 规则源未变化，跳过合并", job.Name)
		res.Skipped = true
		return res, nil
	}

	b := newBuilder(job, format, e.opts.Rules, e.log.With("job", job.Name))
	// 仅在去重时并入已有目标内容，否则每次合并都会重复追加
	if job.Dedup {
		existing, err := os.ReadFile(job.Target)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, fmt.Errorf("读取目标文件失败: %w", err)
		}
		b.addText(StripHeader(string(existing)), job.Target)
	}
	for _, in := range inputs {
		text := string(in.data)
		if items, ok := ExtractPayload(in.data); ok {
			text = strings.Join(items, "\n")
		}
		b.addText(text, in.location)
	}
	b.addText(strings.Join(job.ExtraRules, "\n"), "extra_rules")
	body := b.body()

	res.Rules = b.ruleCount
	res.Counts = b.counts
	res.Dropped = b.dropped

	title := job.Title
	if title == "" {
		title = job.Name
	}
	header := Header{
		Title:       title,
		Description: job.Description,
		Updated:     e.now().In(e.opts.Location),
		Counts:      b.counts,
		Sources:     res.Sources,
	}
	if err := utils.WriteFileAtomic(job.Target, []byte(header.Render()+body), 0644); err != nil {
		return res, fmt.Errorf("写入目标文件失败: %w", err)
	}
	mergedRules.WithLabelValues(job.Name).Add(float64(res.Rules))
	e.log.Info("[%s] 合并完成 %s: %d 条规则，丢弃 %d 行，失败源 %d 个", job.Name, job.Target, res.Rules, res.Dropped, len(res.Failed))

	if e.opts.Store != nil {
		states := lo.Map(inputs, func(in loaded, _ int) storage.SourceState { return in.state })
		states = append(states, storage.SourceState{URL: jobKey(job), Checksum: fingerprint, FetchedAt: e.now()})
		for _, f := range res.Failed {
			states = append(states, storage.SourceState{URL: f.Location, FetchedAt: e.now(), LastError: f.Error})
		}
		if err := e.opts.Store.PutSources(ctx, states); err != nil {
			e.log.Warn("[%s] 保存规则源状态失败: %v", job.Name, err)
		}
	}

	if job.DeleteSources {
		res.Deleted = e.deleteSources(job, inputs)
	}
	return res, nil
}

// MergeAll runs jobs concurrently; one job failing does not affect others.
func (e *Engine) MergeAll(ctx context.Context, jobs []config.MergeJob, force bool) []pool.Result[config.MergeJob, Result] {
	return pool.Map(ctx, e.opts.Workers, jobs, func(ctx context.Context, job config.MergeJob) (Result, error) {
		return e.Merge(ctx, job, force)
	}, nil)
}

func jobKey(job config.MergeJob) string { return "job:" + job.Name }

// fingerprint covers everything that shapes the output except the clock.
func (e *Engine) fingerprint(job config.MergeJob, inputs []loaded) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%t|%t|%s|%+v\n", job.Target, job.Title, job.Description, job.Format,
		job.Dedup, job.Cleanup, job.NoResolve, e.opts.Rules)
	for _, in := range inputs {
		b.WriteString(in.location + "=" + in.state.Checksum + "\n")
	}
	b.WriteString(strings.Join(job.ExtraRules, "\n"))
	return utils.SHA256Hash([]byte(b.String()))
}

func (e *Engine) unchanged(ctx context.Context, job config.MergeJob, fingerprint string) bool {
	if e.opts.Store == nil || !utils.FileExists(job.Target) {
		return false
	}
	st, ok, err := e.opts.Store.GetSource(ctx, jobKey(job))
	if err != nil {
		e.log.Warn("[%s] 读取规则源状态失败: %v", job.Name, err)
		return false
	}
	return ok && st.Checksum == fingerprint
}

// deleteSources removes consumed local sources. Remote sources and the
// target itself are never touched.
func (e *Engine) deleteSources(job config.MergeJob, inputs []loaded) []string {
	var deleted []string
	for _, in := range inputs {
		if utils.IsRemote(in.location) || in.location == job.Target {
			continue
		}
		if err := os.Remove(in.location); err != nil {
			e.log.Warn("[%s] 删除规则源失败 %s: %v", job.Name, in.location, err)
			continue
		}
		deleted = append(deleted, in.location)
	}
	return deleted
}

// builder accumulates converted lines for one target.
type builder struct {
	job       config.MergeJob
	format    rule.Format
	opts      rule.Options
	log       *logger.Logger
	lines     []string
	seen      map[string]bool
	counts    map[string]int
	ruleCount int
	dropped   int
}

func newBuilder(job config.MergeJob, format rule.Format, opts rule.Options, log *logger.Logger) *builder {
	return &builder{
		job:    job,
		format: format,
		opts:   opts,
		log:    log,
		seen:   make(map[string]bool),
		counts: make(map[string]int),
	}
}

func (b *builder) addText(text, origin string) {
	for i, raw := range strings.Split(text, "\n") {
		line, ok := rule.Classify(raw)
		if !ok {
			if !b.job.Cleanup {
				b.keepComment(raw)
			}
			continue
		}
		r, err := rule.Parse(line, b.format, b.opts)
		if err != nil {
			b.dropped++
			b.log.Warn("丢弃 %s:%d %q: %v", origin, i+1, line, err)
			continue
		}
		switch b.job.NoResolve {
		case "add":
			r = rule.WithNoResolve(r)
		case "strip":
			r = rule.WithoutNoResolve(r)
		}

		out := r.String()
		if b.format == rule.FormatDomainSet {
			s, ok := r.DomainSetLine()
			if !ok {
				b.dropped++
				continue
			}
			out = s
		}
		if !b.add(out) {
			continue
		}
		b.ruleCount++
		b.counts[string(r.Type)]++
	}
}

// keepComment keeps comments and single blank separators for the light pass.
func (b *builder) keepComment(raw string) {
	line := strings.TrimSpace(raw)
	if rule.IsEOFMarker(line) {
		return
	}
	if line == "" {
		if n := len(b.lines); n > 0 && b.lines[n-1] != "" {
			b.lines = append(b.lines, "")
		}
		return
	}
	b.add(line)
}

// add appends line unless dedup is on and it was already seen.
func (b *builder) add(line string) bool {
	if b.job.Dedup {
		if b.seen[line] {
			return false
		}
		b.seen[line] = true
	}
	b.lines = append(b.lines, line)
	return true
}

func (b *builder) body() string {
	lines := b.lines
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if b.job.Cleanup {
		lines = append([]string(nil), lines...)
		sort.Strings(lines)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
