package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/delivery"
)

func init() {
	if _, ok := core.Get("products"); !ok {
		core.Register(core.EntityDefinition{
			Type:   "products",
			Fields: []core.FieldSpec{{Name: "sku", Kind: core.KindString}},
		})
	}
}

type registryFixture struct {
	clock *FakeClock
	exp   *fakeExporter
	store *MemoryStore
	reg   *Registry
}

func newRegistryFixture(t *testing.T, failures int) *registryFixture {
	t.Helper()
	f := &registryFixture{
		clock: NewFakeClock(epoch),
		exp:   &fakeExporter{failures: failures},
		store: NewMemoryStore(),
	}
	f.reg = f.newRegistry()
	return f
}

func (f *registryFixture) newRegistry() *Registry {
	exec := NewExecutor(f.exp, nil, f.clock, ExecutorOptions{Logger: discardLogger()})
	return NewRegistry(exec, f.store, f.clock, RegistryOptions{Logger: discardLogger()})
}

func newConfig(rec RecurrenceSpec) Config {
	return Config{
		Name:       "Nightly products",
		Export:     core.ExportSpecification{EntityType: "products"},
		Recurrence: rec,
		Delivery:   delivery.Config{Method: delivery.MethodDownload},
		Enabled:    true,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistry_CreateValidates(t *testing.T) {
	f := newRegistryFixture(t, 0)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(c *Config)
		isRec  bool
	}{
		{"missing name", func(c *Config) { c.Name = "" }, false},
		{"unknown entity", func(c *Config) { c.Export.EntityType = "spaceships" }, false},
		{"bad format", func(c *Config) { c.Export.Format = "pdf" }, false},
		{"bad delivery", func(c *Config) { c.Delivery = delivery.Config{Method: delivery.MethodEmail} }, false},
		{"bad recurrence", func(c *Config) { c.Recurrence = RecurrenceSpec{Kind: Custom} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig(RecurrenceSpec{Kind: Daily, TimeOfDay: "09:00"})
			tt.mutate(&cfg)
			_, err := f.reg.Create(ctx, cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
			if tt.isRec && !errors.Is(err, ErrInvalidRecurrence) {
				t.Errorf("error = %v, want ErrInvalidRecurrence too", err)
			}
		})
	}
	if len(f.reg.List()) != 0 {
		t.Error("invalid configs were stored")
	}
}

func TestRegistry_FireRecordsRunAndRearms(t *testing.T) {
	f := newRegistryFixture(t, 0)
	ctx := context.Background()

	cfg, err := f.reg.Create(ctx, newConfig(RecurrenceSpec{Kind: Daily, TimeOfDay: "09:00"}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if cfg.NextRun == nil || !cfg.NextRun.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("NextRun = %v, want 09:00", cfg.NextRun)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want default %d", cfg.MaxRetries, DefaultMaxRetries)
	}

	if n := f.reg.RunDue(ctx); n != 0 {
		t.Fatalf("RunDue before time fired %d", n)
	}
	f.clock.Advance(time.Hour)
	if n := f.reg.RunDue(ctx); n != 1 {
		t.Fatalf("RunDue fired %d, want 1", n)
	}

	got, _ := f.reg.Get(cfg.ID)
	if got.LastRun == nil || !got.LastRun.Equal(epoch.Add(time.Hour)) {
		t.Errorf("LastRun = %v", got.LastRun)
	}
	if got.NextRun == nil || !got.NextRun.Equal(epoch.Add(25*time.Hour)) {
		t.Errorf("NextRun = %v, want next day 09:00", got.NextRun)
	}
	jobs, _ := f.reg.Jobs(cfg.ID)
	if len(jobs) != 1 || jobs[0].Status != JobCompleted || jobs[0].Manual {
		t.Errorf("jobs = %+v", jobs)
	}
	if st := f.reg.Status(); st.Armed != 1 || st.NextConfigID != cfg.ID {
		t.Errorf("status = %+v", st)
	}
}

func TestRegistry_DisableThenManualTrigger(t *testing.T) {
	f := newRegistryFixture(t, 0)
	ctx := context.Background()

	cfg, _ := f.reg.Create(ctx, newConfig(RecurrenceSpec{Kind: Weekly, DayOfWeek: 1, TimeOfDay: "09:00"}))
	disabled, err := f.reg.SetEnabled(ctx, cfg.ID, false)
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if disabled.NextRun != nil || f.reg.Status().Armed != 0 {
		t.Fatalf("disabled config still armed: %+v", f.reg.Status())
	}

	job, err := f.reg.Trigger(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if job.Status != JobCompleted || !job.Manual {
		t.Errorf("job = %+v", job)
	}
	if f.exp.Calls() != 1 {
		t.Errorf("exporter calls = %d, want 1", f.exp.Calls())
	}
	if st := f.reg.Status(); st.Armed != 0 {
		t.Error("manual trigger re-armed a disabled config")
	}

	enabled, _ := f.reg.SetEnabled(ctx, cfg.ID, true)
	if enabled.NextRun == nil || !enabled.NextRun.Equal(epoch.Add(7*24*time.Hour+time.Hour)) {
		t.Errorf("re-enabled NextRun = %v", enabled.NextRun)
	}
}

func TestRegistry_OnceDisarmsAfterFiring(t *testing.T) {
	f := newRegistryFixture(t, 0)
	ctx := context.Background()

	cfg, _ := f.reg.Create(ctx, newConfig(RecurrenceSpec{Kind: Once}))
	if n := f.reg.RunDue(ctx); n != 1 {
		t.Fatalf("RunDue = %d, want 1", n)
	}
	got, _ := f.reg.Get(cfg.ID)
	if got.NextRun != nil || f.reg.Status().Armed != 0 {
		t.Errorf("once schedule still armed: %+v", got)
	}
	f.clock.Advance(24 * time.Hour)
	if n := f.reg.RunDue(ctx); n != 0 {
		t.Errorf("once schedule fired again")
	}
}

func TestRegistry_EndAtDisarms(t *testing.T) {
	f := newRegistryFixture(t, 0)
	ctx := context.Background()

	end := epoch.Add(90 * time.Minute)
	cfg, _ := f.reg.Create(ctx, newConfig(RecurrenceSpec{Kind: Custom, Interval: Duration(time.Hour), EndAt: &end}))

	f.clock.Advance(time.Hour)
	f.reg.RunDue(ctx)
	got, _ := f.reg.Get(cfg.ID)
	if got.NextRun == nil || !got.NextRun.Equal(end) {
		t.Fatalf("NextRun = %v, want clamped to %v", got.NextRun, end)
	}

	f.clock.Advance(30 * time.Minute)
	f.reg.RunDue(ctx)
	got, _ = f.reg.Get(cfg.ID)
	if got.NextRun != nil {
		t.Errorf("NextRun = %v after reaching EndAt, want nil", got.NextRun)
	}
	if f.exp.Calls() != 2 {
		t.Errorf("exporter calls = %d, want 2", f.exp.Calls())
	}
}

func TestRegistry_DeleteCancelsPending(t *testing.T) {
	f := newRegistryFixture(t, 100)
	ctx := context.Background()

	cfg, _ := f.reg.Create(ctx, newConfig(RecurrenceSpec{Kind: Daily}))
	job, err := f.reg.Trigger(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if job.Status != JobPending || job.RetryCount != 1 {
		t.Fatalf("job after failure = %+v", job)
	}

	if err := f.reg.Delete(ctx, cfg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ := f.reg.Job(job.ID)
	if got.Status != JobCancelled {
		t.Errorf("job status = %s, want cancelled", got.Status)
	}
	if _, err := f.reg.Get(cfg.ID); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if err := f.reg.Delete(ctx, cfg.ID); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("second Delete = %v", err)
	}
}

func TestRegistry_LoopFiresOnClock(t *testing.T) {
	f := newRegistryFixture(t, 0)
	ctx := context.Background()

	if err := f.reg.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.reg.Stop()
	if err := f.reg.Start(ctx); !errors.Is(err, ErrRegistryRunning) {
		t.Errorf("second Start = %v", err)
	}

	start := epoch.Add(time.Minute)
	cfg, err := f.reg.Create(ctx, newConfig(RecurrenceSpec{Kind: Once, StartAt: &start}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, "loop to arm its timer", func() bool { return f.clock.Pending() > 0 })
	f.clock.Advance(time.Minute)

	waitFor(t, "scheduled job", func() bool {
		jobs, _ := f.reg.Jobs(cfg.ID)
		return len(jobs) == 1 && jobs[0].Status == JobCompleted
	})
	waitFor(t, "disarm", func() bool { return f.reg.Status().Armed == 0 })
}

func TestRegistry_RestoresFromStore(t *testing.T) {
	f := newRegistryFixture(t, 0)
	ctx := context.Background()

	cfg, _ := f.reg.Create(ctx, newConfig(RecurrenceSpec{Kind: Daily, TimeOfDay: "09:00"}))
	running := Job{ID: "job-1", ConfigID: cfg.ID, Status: JobRunning, ScheduledAt: epoch}
	if err := f.store.SaveJobs(ctx, []Job{running}); err != nil {
		t.Fatal(err)
	}

	// The schedule is overdue by the time the second process starts.
	f.clock.Advance(2 * time.Hour)
	reg := f.newRegistry()
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer reg.Stop()

	got, err := reg.Get(cfg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, epoch)
	}

	old, err := reg.Job("job-1")
	if err != nil || old.Status != JobCancelled {
		t.Errorf("interrupted job = %+v, %v", old, err)
	}

	waitFor(t, "overdue schedule to fire", func() bool {
		jobs, _ := reg.Jobs(cfg.ID)
		for _, j := range jobs {
			if j.ID != "job-1" && j.Status == JobCompleted {
				return true
			}
		}
		return false
	})
	waitFor(t, "re-armed for tomorrow", func() bool {
		c, _ := reg.Get(cfg.ID)
		return c.NextRun != nil && c.NextRun.Equal(epoch.Add(25*time.Hour))
	})
}
