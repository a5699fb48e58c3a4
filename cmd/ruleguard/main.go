package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/winspan/ruleguard/internal/checker"
	"github.com/winspan/ruleguard/internal/merge"
	"github.com/winspan/ruleguard/internal/pool"
	"github.com/winspan/ruleguard/internal/web"
	"github.com/winspan/ruleguard/pkg/config"
	"github.com/winspan/ruleguard/pkg/logger"
)

const usage = `usage: ruleguard [-config path] <command> [flags] [paths...]

commands:
  merge     run merge jobs (-job name, -force)
  validate  check rule syntax (--fix|--apply, -format)
  check     check domain liveness (--auto-remove, -concurrency, -format)
  sweep     delete expired cache entries
  serve     admin http, scheduled merges and cache sweeps
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ruleguard", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "merge":
		return a.runMerge(ctx, rest)
	case "validate":
		return a.runValidate(ctx, rest)
	case "check":
		return a.runCheck(ctx, rest)
	case "sweep":
		return a.runSweep(ctx)
	case "serve":
		return a.runServe(ctx, *configPath)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
}

func (a *app) runMerge(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	jobName := fs.String("job", "", "run only this job")
	force := fs.Bool("force", false, "merge even when no source changed")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	jobs := a.cfg.MergeJobs
	if *jobName != "" {
		job, ok := a.cfg.Job(*jobName)
		if !ok {
			a.log.Error("未知的合并任务: %s", *jobName)
			return 1
		}
		jobs = []config.MergeJob{job}
	}
	if len(jobs) == 0 {
		a.log.Warn("没有配置合并任务")
		return 0
	}

	engine, err := a.engine(a.cfg)
	if err != nil {
		a.log.Error("%v", err)
		return 1
	}
	results := engine.MergeAll(ctx, jobs, *force)
	for _, r := range results {
		switch {
		case r.Err != nil:
			a.log.Error("[%s] 合并失败: %v", r.Item.Name, r.Err)
		case r.Value.Skipped:
			fmt.Printf("%s: unchanged\n", r.Item.Name)
		default:
			fmt.Printf("%s: %d rules -> %s (failed sources: %d)\n", r.Item.Name, r.Value.Rules, r.Value.Target, len(r.Value.Failed))
		}
	}
	if failed := pool.Errors(results); len(failed) > 0 {
		a.log.Error("%d/%d 个合并任务失败", len(failed), len(results))
		return 1
	}
	return 0
}

func (a *app) runValidate(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fix := fs.Bool("fix", false, "rewrite files without invalid lines")
	apply := fs.Bool("apply", false, "same as -fix")
	format := fs.String("format", "", "force dialect: ruleset|domainset")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "validate: no paths given")
		return 2
	}

	rep, err := checker.Validate(ctx, fs.Args(), checker.ValidateOptions{
		Format:  *format,
		Fix:     *fix || *apply,
		Workers: pool.Clamp(a.cfg.Liveness.Concurrency),
		Logger:  a.log,
	})
	if err != nil {
		a.log.Error("%v", err)
		return 1
	}
	return a.finish(rep)
}

func (a *app) runCheck(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	autoRemove := fs.Bool("auto-remove", false, "delete dead rules from the files")
	concurrency := fs.Int("concurrency", a.cfg.Liveness.Concurrency, "parallel domain checks (32-64)")
	format := fs.String("format", "", "force dialect: ruleset|domainset")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "check: no paths given")
		return 2
	}

	oracle, _, err := a.oracle(a.cfg)
	if err != nil {
		a.log.Error("%v", err)
		return 1
	}
	rep, err := checker.Check(ctx, fs.Args(), oracle, checker.CheckOptions{
		Format:      *format,
		AutoRemove:  *autoRemove,
		Concurrency: *concurrency,
		Progress:    os.Stderr,
		Logger:      a.log,
	})
	if err != nil {
		a.log.Error("%v", err)
		return 1
	}
	return a.finish(rep)
}

func (a *app) finish(rep *checker.Report) int {
	rep.Print(os.Stdout)
	if err := rep.WriteGitHubOutput(os.Getenv("GITHUB_OUTPUT")); err != nil {
		a.log.Warn("%v", err)
	}
	return rep.ExitCode()
}

func (a *app) runSweep(ctx context.Context) int {
	n, err := a.cache.SweepExpired(ctx)
	if err != nil {
		a.log.Error("清理缓存失败: %v", err)
		return 1
	}
	fmt.Printf("removed %d expired entries\n", n)
	return 0
}

func (a *app) runServe(ctx context.Context, configPath string) int {
	var current atomic.Pointer[config.Config]
	current.Store(a.cfg)

	engine, err := a.engine(a.cfg)
	if err != nil {
		a.log.Error("%v", err)
		return 1
	}
	oracle, client, err := a.oracle(a.cfg)
	if err != nil {
		a.log.Error("%v", err)
		return 1
	}
	sched := merge.NewScheduler(engine, func() []config.MergeJob { return current.Load().MergeJobs })

	r := chi.NewRouter()
	web.BindRoutes(r, web.Deps{
		Cache:     a.cache,
		Oracle:    oracle,
		Jobs:      sched,
		Resolvers: client,
		Token:     a.cfg.HTTP.Token,
	})
	httpSrv := &http.Server{
		Addr:              a.cfg.HTTP.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info("admin http listening on %s", a.cfg.HTTP.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatal("http listen: %v", err)
		}
	}()

	go sched.Start(ctx, a.cfg.HTTP.MergeInterval)
	go a.sweepLoop(ctx, a.cfg.Cache.SweepInterval)

	// Hot reload on SIGHUP
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP)
	defer signal.Stop(sigc)
	for {
		select {
		case <-sigc:
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				a.log.Error("reload config failed: %v", err)
				continue
			}
			current.Store(cfg)
			if lvl := logger.ParseLevel(cfg.Logging.Level); lvl != a.log.GetLevel() {
				a.log.Info("log level %s -> %s", a.log.GetLevel(), lvl)
				a.log.SetLevel(lvl)
			}
			a.log.Info("config reloaded, %d merge jobs", len(cfg.MergeJobs))
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
			a.log.Info("shutdown complete")
			return 0
		}
	}
}

// sweepLoop 定期清理过期缓存
func (a *app) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.cache.SweepExpired(ctx)
			if err != nil {
				a.log.Warn("清理缓存失败: %v", err)
				continue
			}
			if n > 0 {
				a.log.Info("清理过期缓存 %d 条", n)
			}
		}
	}
}
