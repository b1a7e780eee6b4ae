package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnknownJob is returned by RunNow for a name that was never added.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrBusy is returned by RunNow while the job is already running.
	ErrBusy = errors.New("scheduler: job already running")
)

// Job is one unit of periodic background work. ctx ends when the job is
// removed, its timeout passes, or the scheduler stops.
type Job func(ctx context.Context) error

// Option configures a job at registration.
type Option func(*job)

// Immediately runs the job once as soon as it is added.
func Immediately() Option {
	return func(j *job) { j.immediate = true }
}

// WithTimeout bounds each run of the job.
func WithTimeout(d time.Duration) Option {
	return func(j *job) { j.timeout = d }
}

// TaskInfo is the admin view of a job.
type TaskInfo struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	Skipped      uint64        `json:"skipped"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

type job struct {
	name      string
	interval  time.Duration
	fn        Job
	immediate bool
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64

	mu       sync.Mutex
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

// Scheduler runs named jobs on fixed intervals. A job never overlaps
// itself: a tick that finds the previous run still going is skipped.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	wg     sync.WaitGroup
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler with no jobs.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]*job),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every registers fn to run each interval under name, replacing any job
// already registered with that name. Adding after Stop, or with a
// non-positive interval, is a no-op.
func (s *Scheduler) Every(name string, interval time.Duration, fn Job, opts ...Option) {
	if interval <= 0 {
		s.logger.Warn("scheduler job ignored: interval must be positive", zap.String("job", name))
		return
	}
	j := &job{name: name, interval: interval, fn: fn}
	for _, o := range opts {
		o(j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.jobs[name]; ok {
		old.cancel()
	}
	j.ctx, j.cancel = context.WithCancel(s.ctx)
	s.jobs[name] = j

	s.wg.Add(1)
	go s.loop(j)
	s.logger.Info("scheduler job added",
		zap.String("job", name),
		zap.Duration("interval", interval))
}

func (s *Scheduler) loop(j *job) {
	defer s.wg.Done()
	if j.immediate {
		s.fire(j.ctx, j)
	}
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.fire(j.ctx, j)
		case <-j.ctx.Done():
			return
		}
	}
}

// fire runs j unless a run is in flight. It reports ErrBusy when skipped.
func (s *Scheduler) fire(ctx context.Context, j *job) error {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		return ErrBusy
	}
	defer j.running.Store(false)

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	start := time.Now()
	err := s.call(ctx, j)
	took := time.Since(start)

	j.runs.Add(1)
	j.mu.Lock()
	j.lastRun, j.lastTook, j.lastErr = start, took, ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.mu.Unlock()

	if err != nil {
		j.failures.Add(1)
		s.logger.Warn("scheduler job failed",
			zap.String("job", j.name),
			zap.Duration("took", took),
			zap.Error(err))
	}
	return err
}

func (s *Scheduler) call(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(ctx)
}

// RunNow runs the named job on the caller's goroutine and returns its
// error. The run is bounded by ctx as well as the job's own lifetime.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(j.ctx, cancel)
	defer stop()
	return s.fire(ctx, j)
}

// Remove stops the named job and cancels a run in progress.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		j.cancel()
		delete(s.jobs, name)
	}
}

// Stop cancels every job and waits for their loops to return. It is safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.jobs = make(map[string]*job)
	s.mu.Unlock()
	s.wg.Wait()
}

// Names returns the registered job names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the current view of one job.
func (s *Scheduler) Info(name string) (TaskInfo, bool) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return TaskInfo{}, false
	}
	return j.info(), true
}

// Tasks returns a view of every job, sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (j *job) info() TaskInfo {
	ti := TaskInfo{
		Name:     j.name,
		Interval: j.interval,
		Running:  j.running.Load(),
		Runs:     j.runs.Load(),
		Failures: j.failures.Load(),
		Skipped:  j.skipped.Load(),
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.lastRun.IsZero() {
		last := j.lastRun
		ti.LastRun = &last
	}
	ti.LastDuration = j.lastTook
	ti.LastError = j.lastErr
	return ti
}
