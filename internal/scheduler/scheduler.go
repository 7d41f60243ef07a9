// Package scheduler runs copydesk's periodic housekeeping jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/logs"
)

// Run outcomes, as reported to the Recorder and in JobStatus.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
	OutcomeSkipped = "skipped"
)

const lockPrefix = "copydesk:housekeeping:"

var (
	ErrUnknownJob = errors.New("scheduler: unknown job")
	ErrNotRunning = errors.New("scheduler: not running")
)

// Job is one housekeeping task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Recorder receives one call per finished run. *metrics.Collector satisfies it.
type Recorder interface {
	HousekeepingRun(job, outcome string, elapsed time.Duration)
}

// Options configures a Scheduler.
type Options struct {
	Logger   *zap.SugaredLogger
	Recorder Recorder
	// Lock backs Exclusive jobs with a redsync mutex so only one replica runs
	// them per tick. Without it Exclusive is a no-op.
	Lock redis.UniversalClient
}

// JobOption tunes a single registration.
type JobOption func(*entry)

// AtStartup runs the job once as soon as the scheduler starts.
func AtStartup() JobOption { return func(e *entry) { e.atStartup = true } }

// Exclusive makes replicas sharing Options.Lock take turns. A run that finds
// the lock held is recorded as skipped.
func Exclusive() JobOption { return func(e *entry) { e.exclusive = true } }

// Timeout bounds each run. It also becomes the lock expiry of an Exclusive job.
func Timeout(d time.Duration) JobOption { return func(e *entry) { e.timeout = d } }

// JobStatus is the admin view of one job.
type JobStatus struct {
	Name         string    `json:"name"`
	Interval     string    `json:"interval"`
	Exclusive    bool      `json:"exclusive,omitempty"`
	Runs         int64     `json:"runs"`
	Skipped      int64     `json:"skipped"`
	Failures     int64     `json:"failures"`
	LastOutcome  string    `json:"last_outcome,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastRun      time.Time `json:"last_run,omitzero"`
	LastDuration string    `json:"last_duration,omitempty"`
}

type entry struct {
	job       Job
	every     time.Duration
	atStartup bool
	exclusive bool
	timeout   time.Duration
	trigger   chan struct{}

	mu     sync.Mutex
	status JobStatus
}

func (e *entry) lockTTL() time.Duration {
	if e.timeout > 0 {
		return e.timeout
	}
	return e.every
}

func (e *entry) record(outcome string, err error, at time.Time, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch outcome {
	case OutcomeSkipped:
		e.status.Skipped++
	case OutcomeError, OutcomePanic:
		e.status.Runs++
		e.status.Failures++
	default:
		e.status.Runs++
	}
	e.status.LastOutcome = outcome
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}
	e.status.LastRun = at
	e.status.LastDuration = elapsed.Round(time.Millisecond).String()
}

// Scheduler runs each job on its own ticker. Runs of one job never overlap.
type Scheduler struct {
	entries []*entry
	byName  map[string]*entry
	log     *zap.SugaredLogger
	rec     Recorder
	rs      *redsync.Redsync
	now     func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		byName: make(map[string]*entry),
		log:    logs.OrNop(opts.Logger),
		rec:    opts.Recorder,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	if opts.Lock != nil {
		s.rs = redsync.New(redsyncredis.NewPool(opts.Lock))
	}
	return s
}

// Add registers job to run every interval. Registering after Start or
// reusing a name panics.
func (s *Scheduler) Add(job Job, every time.Duration, opts ...JobOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("scheduler: Add after Start")
	}
	name := job.Name()
	if _, dup := s.byName[name]; dup {
		panic(fmt.Sprintf("scheduler: job %q registered twice", name))
	}
	e := &entry{job: job, every: every, trigger: make(chan struct{}, 1)}
	for _, o := range opts {
		o(e)
	}
	e.status = JobStatus{Name: name, Interval: every.String(), Exclusive: e.exclusive && s.rs != nil}
	s.entries = append(s.entries, e)
	s.byName[name] = e
}

// Start launches one goroutine per job.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(e)
	}
	s.log.Infof("scheduler: started %d housekeeping jobs", len(s.entries))
}

// Stop cancels in-flight runs and waits for every job goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler: stopped")
}

// Trigger asks a job to run now, outside its ticker. A trigger that arrives
// while one is already pending is folded into it.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	running := s.started && !s.stopped
	s.mu.Unlock()
	e, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !running {
		return ErrNotRunning
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Status reports every job sorted by name.
func (s *Scheduler) Status() []JobStatus {
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		out = append(out, e.status)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(e *entry) {
	defer s.wg.Done()

	if e.atStartup {
		s.run(e)
	}

	ticker := time.NewTicker(e.every)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.run(e)
		case <-e.trigger:
			s.run(e)
		}
	}
}

func (s *Scheduler) run(e *entry) {
	name := e.job.Name()
	start := s.now()
	outcome, err := s.execute(e)
	elapsed := s.now().Sub(start)

	switch outcome {
	case OutcomeSkipped:
		s.log.Debugf("scheduler: %s skipped, another replica holds the lock: %v", name, err)
	case OutcomeError:
		s.log.Warnf("scheduler: %s failed after %s: %v", name, elapsed, err)
	case OutcomePanic:
		s.log.Errorf("scheduler: %s %v", name, err)
	}

	e.record(outcome, err, start, elapsed)
	if s.rec != nil {
		s.rec.HousekeepingRun(name, outcome, elapsed)
	}
}

func (s *Scheduler) execute(e *entry) (outcome string, err error) {
	ctx := s.ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if e.exclusive && s.rs != nil {
		mutex := s.rs.NewMutex(lockPrefix+e.job.Name(),
			redsync.WithExpiry(e.lockTTL()),
			redsync.WithTries(1),
		)
		if err := mutex.LockContext(ctx); err != nil {
			return OutcomeSkipped, err
		}
		defer func() { _, _ = mutex.UnlockContext(context.WithoutCancel(ctx)) }()
	}

	defer func() {
		if r := recover(); r != nil {
			outcome, err = OutcomePanic, fmt.Errorf("panicked: %v", r)
		}
	}()
	if err := e.job.Run(ctx); err != nil {
		return OutcomeError, err
	}
	return OutcomeOK, nil
}
