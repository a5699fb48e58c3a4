package merge

import (
	"context"
	"sync"
	"time"

	"github.com/winspan/ruleguard/pkg/config"
)

// JobStatus 最近一次运行状态
type JobStatus struct {
	Job     string    `json:"job"`
	LastRun time.Time `json:"last_run"`
	Result  *Result   `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Scheduler 定期执行合并任务
type Scheduler struct {
	engine *Engine
	jobs   func() []config.MergeJob

	mu     sync.RWMutex
	status map[string]JobStatus
}

// NewScheduler jobs is called before every run so reloaded config applies.
func NewScheduler(engine *Engine, jobs func() []config.MergeJob) *Scheduler {
	return &Scheduler{engine: engine, jobs: jobs, status: make(map[string]JobStatus)}
}

// Start runs all jobs now and then every interval until ctx ends.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 初始合并
	s.RunAll(ctx, false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx, false)
		}
	}
}

// RunAll 执行全部任务
func (s *Scheduler) RunAll(ctx context.Context, force bool) []JobStatus {
	results := s.engine.MergeAll(ctx, s.jobs(), force)
	out := make([]JobStatus, 0, len(results))
	for _, r := range results {
		out = append(out, s.record(r.Item.Name, r.Value, r.Err))
	}
	return out
}

// Run 执行单个任务
func (s *Scheduler) Run(ctx context.Context, name string, force bool) (JobStatus, bool) {
	for _, job := range s.jobs() {
		if job.Name == name {
			res, err := s.engine.Merge(ctx, job, force)
			return s.record(name, res, err), true
		}
	}
	return JobStatus{}, false
}

func (s *Scheduler) record(name string, res Result, err error) JobStatus {
	st := JobStatus{Job: name, LastRun: s.engine.now(), Result: &res}
	if err != nil {
		st.Error = err.Error()
		s.engine.log.Error("[%s] 合并失败: %v", name, err)
	}
	s.mu.Lock()
	s.status[name] = st
	s.mu.Unlock()
	return st
}

// Status 返回所有任务的最近状态，未运行过的任务只有名称
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []JobStatus
	for _, job := range s.jobs() {
		st, ok := s.status[job.Name]
		if !ok {
			st = JobStatus{Job: job.Name}
		}
		out = append(out, st)
	}
	return out
}
