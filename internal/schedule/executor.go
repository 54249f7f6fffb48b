package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/delivery"
	"github.com/JonMunkholm/bulkio/internal/logging"
)

// DefaultJobHistory is how many finished jobs are kept per config.
const DefaultJobHistory = 50

// Exporter runs one export to completion. core.Service satisfies it.
type Exporter interface {
	RunExport(ctx context.Context, spec core.ExportSpecification) (*core.ExportResult, error)
}

// Deliverer routes artifacts and outcome notices. delivery.Dispatcher
// satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) (core.ArtifactDescriptor, error)
	Notify(ctx context.Context, n delivery.Notice) error
}

// ExecutorOptions tunes an Executor.
type ExecutorOptions struct {
	// JobHistory caps finished jobs kept per config.
	JobHistory int
	Logger     *slog.Logger
	// Hub receives job snapshots. A new hub is made when nil.
	Hub *core.Hub[Job]
}

// Executor runs jobs. Only the call executing a job mutates it; everyone
// else reads copies.
type Executor struct {
	exporter  Exporter
	deliverer Deliverer
	clock     Clock
	logger    *slog.Logger
	hub       *core.Hub[Job]
	history   int

	mu       sync.Mutex
	jobs     map[string]*jobEntry
	byConfig map[string][]string // job IDs, oldest first
	onChange func()
	stopped  bool
}

type jobEntry struct {
	mu    sync.Mutex
	job   Job
	retry Timer
}

// NewExecutor returns an Executor. deliverer may be nil, in which case
// artifacts are not routed anywhere.
func NewExecutor(exporter Exporter, deliverer Deliverer, clock Clock, opts ExecutorOptions) *Executor {
	if opts.JobHistory <= 0 {
		opts.JobHistory = DefaultJobHistory
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = core.NewHub[Job](opts.Logger)
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Executor{
		exporter:  exporter,
		deliverer: deliverer,
		clock:     clock,
		logger:    opts.Logger,
		hub:       opts.Hub,
		history:   opts.JobHistory,
		jobs:      make(map[string]*jobEntry),
		byConfig:  make(map[string][]string),
	}
}

// NewJob registers a pending job for cfg.
func (e *Executor) NewJob(cfg Config, manual bool) Job {
	job := Job{
		ID:          uuid.New().String(),
		ConfigID:    cfg.ID,
		Manual:      manual,
		Status:      JobPending,
		ScheduledAt: e.clock.Now(),
		MaxRetries:  max(cfg.MaxRetries, 0),
	}

	e.mu.Lock()
	e.jobs[job.ID] = &jobEntry{job: job}
	e.byConfig[cfg.ID] = append(e.byConfig[cfg.ID], job.ID)
	e.trimLocked(cfg.ID)
	e.mu.Unlock()

	e.publish(job)
	return job
}

// Execute runs one attempt of a pending job. On failure with retries left
// the job goes back to pending and the next attempt is scheduled after
// 2^RetryCount minutes. The returned job is the state after this attempt.
func (e *Executor) Execute(ctx context.Context, cfg Config, jobID string) (Job, error) {
	entry, ok := e.entry(jobID)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	logger := logging.ForJob(e.logger, jobID, cfg.ID)

	started, ok := e.mutate(entry, func(j *Job) bool {
		if j.Status != JobPending {
			return false
		}
		now := e.clock.Now()
		j.Status = JobRunning
		j.StartedAt = &now
		return true
	})
	if !ok {
		return started, fmt.Errorf("job %s is %s, not pending", jobID, started.Status)
	}
	logger.Info("scheduled export started", "attempt", started.RetryCount+1, "manual", started.Manual)

	result, err := e.runExport(ctx, cfg)
	if err != nil {
		return e.failed(ctx, cfg, entry, err, logger), err
	}

	desc := result.Descriptor
	job, _ := e.mutate(entry, func(j *Job) bool {
		now := e.clock.Now()
		j.Status = JobCompleted
		j.CompletedAt = &now
		j.Result = &JobResult{Success: true, Artifact: &desc, RecordCount: result.RecordCount}
		return true
	})
	logger.Info("scheduled export completed", "records", result.RecordCount, "file", desc.Filename)

	if e.deliverer == nil {
		return job, nil
	}
	delivered, derr := e.deliverer.Deliver(ctx, delivery.Request{
		Config:   cfg.Delivery,
		Name:     cfg.Name,
		JobID:    jobID,
		Artifact: result.Artifact,
	})
	if derr != nil {
		logger.Error("delivery failed", "method", cfg.Delivery.Method, "error", derr)
	}
	if delivered.Filename != "" {
		job, _ = e.mutate(entry, func(j *Job) bool {
			j.Result.Artifact = &delivered
			return true
		})
	}
	e.notify(ctx, cfg, job, logger)
	return job, nil
}

// runExport shields the job from a panicking exporter.
func (e *Executor) runExport(ctx context.Context, cfg Config) (result *core.ExportResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("export panicked: %v", r)
		}
	}()
	if e.exporter == nil {
		return nil, errors.New("no exporter configured")
	}
	return e.exporter.RunExport(ctx, cfg.Export)
}

func (e *Executor) failed(ctx context.Context, cfg Config, entry *jobEntry, cause error, logger *slog.Logger) Job {
	var delay time.Duration
	job, retry := e.mutate(entry, func(j *Job) bool {
		j.Result = &JobResult{Error: cause.Error()}
		if j.RetryCount < j.MaxRetries {
			delay = backoff(j.RetryCount)
			j.RetryCount++
			j.Status = JobPending
			return true
		}
		now := e.clock.Now()
		j.Status = JobFailed
		j.CompletedAt = &now
		return false
	})

	if !retry {
		logger.Error("scheduled export failed", "attempts", job.RetryCount+1, "error", cause)
		e.notify(ctx, cfg, job, logger)
		return job
	}

	logger.Warn("scheduled export failed, will retry", "retry", job.RetryCount, "max_retries", job.MaxRetries, "delay", delay, "error", cause)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return job
	}
	retryCtx := context.WithoutCancel(ctx)
	entry.mu.Lock()
	entry.retry = e.clock.AfterFunc(delay, func() {
		e.Execute(retryCtx, cfg, job.ID)
	})
	entry.mu.Unlock()
	e.mu.Unlock()
	return job
}

// backoff is 2^retry minutes.
func backoff(retry int) time.Duration {
	return time.Duration(1<<retry) * time.Minute
}

func (e *Executor) notify(ctx context.Context, cfg Config, job Job, logger *slog.Logger) {
	if e.deliverer == nil {
		return
	}
	n := delivery.Notice{
		Config:  cfg.Delivery,
		Name:    cfg.Name,
		JobID:   job.ID,
		Success: job.Status == JobCompleted,
		At:      e.clock.Now(),
	}
	if job.Result != nil {
		n.Error = job.Result.Error
		n.Artifact = job.Result.Artifact
		n.RecordCount = job.Result.RecordCount
	}
	if err := e.deliverer.Notify(ctx, n); err != nil {
		logger.Error("notification failed", "error", err)
	}
}

// CancelPending cancels jobs of configID waiting for a retry. Running jobs
// are left to finish. It returns the number cancelled.
func (e *Executor) CancelPending(configID string) int {
	e.mu.Lock()
	ids := append([]string(nil), e.byConfig[configID]...)
	e.mu.Unlock()

	n := 0
	for _, id := range ids {
		entry, ok := e.entry(id)
		if !ok {
			continue
		}
		_, cancelled := e.mutate(entry, func(j *Job) bool {
			if j.Status != JobPending {
				return false
			}
			now := e.clock.Now()
			j.Status = JobCancelled
			j.CompletedAt = &now
			return true
		})
		if cancelled {
			entry.stopRetry()
			n++
		}
	}
	if n > 0 {
		e.logger.Info("cancelled pending jobs", "config_id", configID, "count", n)
	}
	return n
}

// Stop disarms every retry timer. Jobs waiting for a retry stay pending.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	entries := make([]*jobEntry, 0, len(e.jobs))
	for _, entry := range e.jobs {
		entries = append(entries, entry)
	}
	e.mu.Unlock()

	for _, entry := range entries {
		entry.stopRetry()
	}
}

func (en *jobEntry) terminal() bool {
	if en == nil {
		return true
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.job.Status.Terminal()
}

func (en *jobEntry) stopRetry() {
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.retry != nil {
		en.retry.Stop()
		en.retry = nil
	}
}

// Job returns a copy of the job.
func (e *Executor) Job(id string) (Job, error) {
	entry, ok := e.entry(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.clone(), nil
}

// Jobs returns the jobs of configID, newest first.
func (e *Executor) Jobs(configID string) []Job {
	e.mu.Lock()
	ids := append([]string(nil), e.byConfig[configID]...)
	e.mu.Unlock()

	jobs := make([]Job, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if j, err := e.Job(ids[i]); err == nil {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// All returns every job, ordered by config then schedule time.
func (e *Executor) All() []Job {
	e.mu.Lock()
	configs := make([]string, 0, len(e.byConfig))
	for id := range e.byConfig {
		configs = append(configs, id)
	}
	e.mu.Unlock()
	sort.Strings(configs)

	var all []Job
	for _, id := range configs {
		jobs := e.Jobs(id)
		for i := len(jobs) - 1; i >= 0; i-- {
			all = append(all, jobs[i])
		}
	}
	return all
}

// SubscribeJob calls cb with a snapshot after every change to the job.
func (e *Executor) SubscribeJob(jobID string, cb func(Job)) (func(), error) {
	if _, ok := e.entry(jobID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return e.hub.Subscribe(jobID, cb), nil
}

// restore loads persisted jobs. Jobs that were pending or running when the
// process stopped are marked cancelled.
func (e *Executor) restore(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt) })

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, job := range jobs {
		if _, dup := e.jobs[job.ID]; dup {
			continue
		}
		if !job.Status.Terminal() {
			now := e.clock.Now()
			job.Status = JobCancelled
			job.CompletedAt = &now
			if job.Result == nil {
				job.Result = &JobResult{}
			}
			job.Result.Error = "interrupted by restart"
		}
		e.jobs[job.ID] = &jobEntry{job: job}
		e.byConfig[job.ConfigID] = append(e.byConfig[job.ConfigID], job.ID)
	}
	for id := range e.byConfig {
		e.trimLocked(id)
	}
}

func (e *Executor) entry(id string) (*jobEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.jobs[id]
	return entry, ok
}

// mutate applies fn under the job lock and publishes the result when fn
// reports a change.
func (e *Executor) mutate(entry *jobEntry, fn func(j *Job) bool) (Job, bool) {
	entry.mu.Lock()
	changed := fn(&entry.job)
	snap := entry.job.clone()
	entry.mu.Unlock()

	if changed {
		e.publish(snap)
	}
	return snap, changed
}

func (e *Executor) publish(job Job) {
	e.hub.Publish(job.ID, job)
	e.changed()
}

func (e *Executor) changed() {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// trimLocked drops the oldest finished jobs beyond the history cap.
func (e *Executor) trimLocked(configID string) {
	ids := e.byConfig[configID]
	excess := len(ids) - e.history
	if excess <= 0 {
		return
	}
	kept := ids[:0:0]
	for _, id := range ids {
		if excess > 0 && e.jobs[id].terminal() {
			delete(e.jobs, id)
			e.hub.Drop(id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	e.byConfig[configID] = kept
}
