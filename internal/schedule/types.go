// Package schedule runs exports on a recurring timetable.
//
// A Registry holds the schedule configurations and a single control loop
// that sleeps until the earliest armed fire time. Each fire creates a Job
// that the Executor runs through the export service, retrying failures with
// exponential backoff and handing results to the delivery dispatcher.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/delivery"
)

var (
	ErrConfigNotFound    = errors.New("schedule not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
	ErrInvalidConfig     = errors.New("invalid schedule")
	ErrRegistryRunning   = errors.New("schedule registry already running")
)

// RecurrenceKind selects how NextRun advances.
type RecurrenceKind string

const (
	Once    RecurrenceKind = "once"
	Daily   RecurrenceKind = "daily"
	Weekly  RecurrenceKind = "weekly"
	Monthly RecurrenceKind = "monthly"
	Custom  RecurrenceKind = "custom"
)

// Duration is a time.Duration that reads and writes JSON as "1h30m".
// Plain numbers are read as seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// RecurrenceSpec describes when a schedule fires.
type RecurrenceSpec struct {
	Kind RecurrenceKind `json:"kind"`
	// TimeOfDay is "HH:MM" in Location. Empty means midnight.
	TimeOfDay string `json:"timeOfDay,omitempty"`
	// DayOfWeek is 0 (Sunday) to 6.
	DayOfWeek int `json:"dayOfWeek"`
	// DayOfMonth is 1 to 31; short months clamp to their last day.
	DayOfMonth int        `json:"dayOfMonth,omitempty"`
	Interval   Duration   `json:"interval,omitempty"`
	StartAt    *time.Time `json:"startAt,omitempty"`
	EndAt      *time.Time `json:"endAt,omitempty"`
	// Location is an IANA zone name. Empty means UTC.
	Location string `json:"location,omitempty"`
}

// Config is one scheduled export.
type Config struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	Export     core.ExportSpecification `json:"export"`
	Recurrence RecurrenceSpec           `json:"recurrence"`
	Delivery   delivery.Config          `json:"delivery"`
	Enabled    bool                     `json:"enabled"`
	// MaxRetries of 0 takes the registry default; negative disables retries.
	MaxRetries int        `json:"maxRetries"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (c Config) clone() Config {
	out := c
	out.LastRun = copyTime(c.LastRun)
	out.NextRun = copyTime(c.NextRun)
	out.Recurrence.StartAt = copyTime(c.Recurrence.StartAt)
	out.Recurrence.EndAt = copyTime(c.Recurrence.EndAt)
	return out
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobResult is the outcome of the last attempt.
type JobResult struct {
	Success     bool                     `json:"success"`
	Artifact    *core.ArtifactDescriptor `json:"artifact,omitempty"`
	RecordCount int                      `json:"recordCount"`
	Error       string                   `json:"error,omitempty"`
}

// Job is one execution of a Config, including its retries.
type Job struct {
	ID          string     `json:"id"`
	ConfigID    string     `json:"configId"`
	Manual      bool       `json:"manual"`
	Status      JobStatus  `json:"status"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	RetryCount  int        `json:"retryCount"`
	MaxRetries  int        `json:"maxRetries"`
}

func (j Job) clone() Job {
	out := j
	out.StartedAt = copyTime(j.StartedAt)
	out.CompletedAt = copyTime(j.CompletedAt)
	if j.Result != nil {
		r := *j.Result
		if r.Artifact != nil {
			a := *r.Artifact
			r.Artifact = &a
		}
		out.Result = &r
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
