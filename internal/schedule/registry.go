package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulkio/internal/core"
)

// DefaultMaxRetries applies to configs created with MaxRetries 0.
const DefaultMaxRetries = 3

// RegistryOptions tunes a Registry.
type RegistryOptions struct {
	DefaultMaxRetries int
	Logger            *slog.Logger
}

// Registry owns the schedule configs and the control loop that fires them.
// Each enabled config has at most one armed fire time in timers.
type Registry struct {
	exec   *Executor
	store  Store
	clock  Clock
	logger *slog.Logger
	opts   RegistryOptions

	mu      sync.Mutex
	configs map[string]*Config
	timers  map[string]time.Time
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	wake chan struct{}
	wg   sync.WaitGroup

	configsMu sync.Mutex
	jobsMu    sync.Mutex
}

// RegistryStatus is a point-in-time view of the scheduler.
type RegistryStatus struct {
	Running      bool       `json:"running"`
	Configs      int        `json:"configs"`
	Enabled      int        `json:"enabled"`
	Armed        int        `json:"armed"`
	NextFire     *time.Time `json:"nextFire,omitempty"`
	NextConfigID string     `json:"nextConfigId,omitempty"`
}

// NewRegistry wires a Registry. Job changes made by exec are persisted
// through store from here on.
func NewRegistry(exec *Executor, store Store, clock Clock, opts RegistryOptions) *Registry {
	if opts.DefaultMaxRetries == 0 {
		opts.DefaultMaxRetries = DefaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if clock == nil {
		clock = RealClock{}
	}
	r := &Registry{
		exec:    exec,
		store:   store,
		clock:   clock,
		logger:  opts.Logger,
		opts:    opts,
		configs: make(map[string]*Config),
		timers:  make(map[string]time.Time),
		wake:    make(chan struct{}, 1),
	}

	exec.mu.Lock()
	exec.onChange = r.saveJobs
	exec.mu.Unlock()
	return r
}

// Start loads persisted state, arms the enabled configs and starts the
// control loop. Overdue configs fire on the first pass.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRegistryRunning
	}
	r.mu.Unlock()

	configs, err := r.store.LoadConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	jobs, err := r.store.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load schedule jobs: %w", err)
	}
	r.exec.restore(jobs)

	now := r.clock.Now()
	loopCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	for _, loaded := range configs {
		if _, exists := r.configs[loaded.ID]; exists {
			continue
		}
		c := loaded.clone()
		if c.Enabled && c.NextRun == nil {
			r.planLocked(&c, now)
		}
		r.armLocked(&c)
		r.configs[c.ID] = &c
	}
	armed := len(r.timers)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go r.loop(loopCtx, done)

	r.logger.Info("schedule registry started", "configs", len(configs), "jobs", len(jobs), "armed", armed)
	return nil
}

// Stop ends the control loop, disarms retry timers and waits for fired
// jobs to finish.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	r.exec.Stop()
	r.wg.Wait()
	r.logger.Info("schedule registry stopped")
}

func (r *Registry) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		var timer Timer
		var fire <-chan time.Time
		if at, _, ok := r.nextFire(); ok {
			timer = r.clock.NewTimer(max(at.Sub(r.clock.Now()), 0))
			fire = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-r.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			r.fireDue(ctx, true)
		}
	}
}

// poke makes the loop recompute its sleep.
func (r *Registry) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) nextFire() (time.Time, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		next time.Time
		id   string
		ok   bool
	)
	for cid, at := range r.timers {
		if !ok || at.Before(next) || (at.Equal(next) && cid < id) {
			next, id, ok = at, cid, true
		}
	}
	return next, id, ok
}

// RunDue fires every config whose time has come, on the calling goroutine,
// and returns how many fired.
func (r *Registry) RunDue(ctx context.Context) int {
	return r.fireDue(ctx, false)
}

func (r *Registry) fireDue(ctx context.Context, async bool) int {
	now := r.clock.Now()

	r.mu.Lock()
	var ids []string
	for id, at := range r.timers {
		if !at.After(now) {
			ids = append(ids, id)
			delete(r.timers, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if !async {
			r.fire(ctx, id, now)
			continue
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.fire(ctx, id, now)
		}()
	}
	return len(ids)
}

// fire runs one timer-driven job, then records the run and re-arms.
func (r *Registry) fire(ctx context.Context, id string, firedAt time.Time) {
	cfg, err := r.Get(id)
	if err != nil || !cfg.Enabled {
		return
	}

	job := r.exec.NewJob(cfg, false)
	r.exec.Execute(context.WithoutCancel(ctx), cfg, job.ID)

	r.mu.Lock()
	c, ok := r.configs[id]
	if ok {
		last := firedAt
		c.LastRun = &last
		r.planLocked(c, r.clock.Now())
		r.armLocked(c)
		if c.NextRun == nil {
			r.logger.Info("schedule disarmed", "config_id", id, "kind", c.Recurrence.Kind)
		}
	}
	r.mu.Unlock()

	if ok {
		r.persistConfigs(context.WithoutCancel(ctx))
		r.poke()
	}
}

// planLocked computes NextRun. A fired once-schedule, or one whose next
// time would not move past LastRun, gets no next run.
func (r *Registry) planLocked(c *Config, now time.Time) {
	c.NextRun = nil
	if c.Recurrence.Kind == Once && c.LastRun != nil {
		return
	}
	next, err := NextRun(c.Recurrence, now)
	if err != nil {
		r.logger.Error("cannot compute next run", "config_id", c.ID, "error", err)
		return
	}
	if c.LastRun != nil && !next.After(*c.LastRun) {
		return
	}
	c.NextRun = &next
}

func (r *Registry) armLocked(c *Config) {
	delete(r.timers, c.ID)
	if c.Enabled && c.NextRun != nil {
		r.timers[c.ID] = *c.NextRun
	}
}

func (r *Registry) validate(cfg Config) error {
	var problems []string
	if strings.TrimSpace(cfg.Name) == "" {
		problems = append(problems, "name is required")
	}
	if _, ok := core.Get(cfg.Export.EntityType); !ok {
		problems = append(problems, fmt.Sprintf("unknown entity type %q", cfg.Export.EntityType))
	}
	if _, err := core.ParseFormat(string(cfg.Export.Format)); err != nil {
		problems = append(problems, err.Error())
	}
	if err := cfg.Delivery.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := cfg.Recurrence.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Create adds a config and arms it when enabled.
func (r *Registry) Create(ctx context.Context, cfg Config) (Config, error) {
	if err := r.validate(cfg); err != nil {
		return Config{}, err
	}
	now := r.clock.Now()

	c := cfg.clone()
	c.ID = uuid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.LastRun = nil
	c.NextRun = nil
	if c.MaxRetries == 0 {
		c.MaxRetries = r.opts.DefaultMaxRetries
	}

	r.mu.Lock()
	if c.Enabled {
		r.planLocked(&c, now)
	}
	r.armLocked(&c)
	r.configs[c.ID] = &c
	out := c.clone()
	r.mu.Unlock()

	r.logger.Info("schedule created", "config_id", out.ID, "name", out.Name, "kind", out.Recurrence.Kind, "next_run", out.NextRun)
	r.poke()
	return out, r.persistConfigs(ctx)
}

// Update replaces a config's definition, keeping its identity and run
// history, and re-arms it.
func (r *Registry) Update(ctx context.Context, id string, cfg Config) (Config, error) {
	if err := r.validate(cfg); err != nil {
		return Config{}, err
	}
	now := r.clock.Now()

	r.mu.Lock()
	existing, ok := r.configs[id]
	if !ok {
		r.mu.Unlock()
		return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	c := cfg.clone()
	c.ID = id
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = now
	c.LastRun = copyTime(existing.LastRun)
	c.NextRun = nil
	if c.MaxRetries == 0 {
		c.MaxRetries = r.opts.DefaultMaxRetries
	}
	if c.Enabled {
		r.planLocked(&c, now)
	}
	r.armLocked(&c)
	r.configs[id] = &c
	out := c.clone()
	r.mu.Unlock()

	if !out.Enabled {
		r.exec.CancelPending(id)
	}
	r.logger.Info("schedule updated", "config_id", id, "enabled", out.Enabled, "next_run", out.NextRun)
	r.poke()
	return out, r.persistConfigs(ctx)
}

// Delete removes a config, clears its timer and cancels its pending jobs.
// Job history is kept.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.configs[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	delete(r.configs, id)
	delete(r.timers, id)
	r.mu.Unlock()

	r.exec.CancelPending(id)
	r.logger.Info("schedule deleted", "config_id", id)
	r.poke()
	return r.persistConfigs(ctx)
}

// SetEnabled arms or disarms a config. Disabling cancels pending jobs.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) (Config, error) {
	now := r.clock.Now()

	r.mu.Lock()
	c, ok := r.configs[id]
	if !ok {
		r.mu.Unlock()
		return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	c.Enabled = enabled
	c.UpdatedAt = now
	if enabled {
		r.planLocked(c, now)
	} else {
		c.NextRun = nil
	}
	r.armLocked(c)
	out := c.clone()
	r.mu.Unlock()

	if !enabled {
		r.exec.CancelPending(id)
	}
	r.logger.Info("schedule enablement changed", "config_id", id, "enabled", enabled, "next_run", out.NextRun)
	r.poke()
	return out, r.persistConfigs(ctx)
}

// Get returns a copy of a config.
func (r *Registry) Get(id string) (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	return c.clone(), nil
}

// List returns every config, oldest first.
func (r *Registry) List() []Config {
	r.mu.Lock()
	out := make([]Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c.clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Trigger runs a config now on the calling goroutine, whether or not it is
// enabled. The schedule's timer is not touched. A failed export is reported
// in the job, not as an error.
func (r *Registry) Trigger(ctx context.Context, id string) (Job, error) {
	cfg, err := r.Get(id)
	if err != nil {
		return Job{}, err
	}
	job := r.exec.NewJob(cfg, true)
	r.logger.Info("manual trigger", "config_id", id, "job_id", job.ID)

	done, err := r.exec.Execute(ctx, cfg, job.ID)
	if done.ID == "" {
		return Job{}, err
	}
	return done, nil
}

// TriggerAsync starts a manual run in the background and returns the
// pending job.
func (r *Registry) TriggerAsync(ctx context.Context, id string) (Job, error) {
	cfg, err := r.Get(id)
	if err != nil {
		return Job{}, err
	}
	job := r.exec.NewJob(cfg, true)
	r.logger.Info("manual trigger", "config_id", id, "job_id", job.ID, "async", true)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.exec.Execute(context.WithoutCancel(ctx), cfg, job.ID)
	}()
	return job, nil
}

// Jobs returns the job history of a config, newest first.
func (r *Registry) Jobs(configID string) ([]Job, error) {
	if _, err := r.Get(configID); err != nil {
		return nil, err
	}
	return r.exec.Jobs(configID), nil
}

// Job returns one job.
func (r *Registry) Job(id string) (Job, error) {
	return r.exec.Job(id)
}

// SubscribeJob calls cb on every change to the job.
func (r *Registry) SubscribeJob(jobID string, cb func(Job)) (func(), error) {
	return r.exec.SubscribeJob(jobID, cb)
}

// Status reports the loop state and the earliest armed fire time.
func (r *Registry) Status() RegistryStatus {
	next, id, ok := r.nextFire()

	r.mu.Lock()
	defer r.mu.Unlock()
	st := RegistryStatus{
		Running: r.running,
		Configs: len(r.configs),
		Armed:   len(r.timers),
	}
	for _, c := range r.configs {
		if c.Enabled {
			st.Enabled++
		}
	}
	if ok {
		st.NextFire = &next
		st.NextConfigID = id
	}
	return st
}

func (r *Registry) persistConfigs(ctx context.Context) error {
	r.configsMu.Lock()
	defer r.configsMu.Unlock()

	if err := r.store.SaveConfigs(ctx, r.List()); err != nil {
		r.logger.Error("failed to persist schedules", "error", err)
		return fmt.Errorf("save schedules: %w", err)
	}
	return nil
}

func (r *Registry) saveJobs() {
	r.jobsMu.Lock()
	defer r.jobsMu.Unlock()

	if err := r.store.SaveJobs(context.Background(), r.exec.All()); err != nil {
		r.logger.Error("failed to persist schedule jobs", "error", err)
	}
}
