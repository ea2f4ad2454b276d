// Package clock provides the daily-trigger primitive: given a wall-clock
// time of day and a callback, it invokes the callback once per calendar
// day at that local time until the job is cancelled.
//
// Triggers are absolute-time timers, not a polling loop. Each job holds
// one timer armed for the next occurrence; after a firing the job re-arms
// for the occurrence strictly after the one that just fired, so a single
// calendar day can never see two firings of the same job.
package clock

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrStopped is returned by ScheduleDaily after Stop has been called.
var ErrStopped = errors.New("scheduler is stopped")

// JobContext is the opaque value carried from registration to firing.
type JobContext struct {
	UserID  int64
	ChatID  int64
	TimeStr string
}

// FireFunc is invoked on the job's own goroutine each time it fires.
// It must not call Cancel on the job that fired it.
type FireFunc func(jc JobContext)

// Daily schedules recurring per-day triggers in a single process-wide
// location.
type Daily struct {
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time // injectable for tests

	mu      sync.Mutex
	jobs    map[string]*Job
	stopped bool
}

// New creates a scheduler that fires in loc.
func New(loc *time.Location, logger *slog.Logger) *Daily {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daily{
		loc:    loc,
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*Job),
	}
}

// Job is a live daily trigger. Cancel is guaranteed-effective: once it
// returns, no firing is in flight and none can start.
type Job struct {
	id   string
	tod  TimeOfDay
	jc   JobContext
	fire FireFunc
	d    *Daily

	mu      sync.Mutex
	timer   *time.Timer
	next    time.Time // the instant the armed timer targets
	stopped bool
}

// ScheduleDaily installs a trigger that calls fire once per day at tod.
func (d *Daily) ScheduleDaily(tod TimeOfDay, fire FireFunc, jc JobContext) (*Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil, ErrStopped
	}

	j := &Job{
		id:   uuid.NewString(),
		tod:  tod,
		jc:   jc,
		fire: fire,
		d:    d,
	}

	now := d.now()
	j.next = NextOccurrence(tod, now, d.loc)
	j.timer = time.AfterFunc(j.next.Sub(now), j.onFire)
	d.jobs[j.id] = j

	d.logger.Debug("daily trigger scheduled",
		"job_id", j.id,
		"time", tod.String(),
		"next", j.next,
	)

	return j, nil
}

// onFire runs a single firing and re-arms for the next day. The job
// mutex is held across the callback so that Cancel, which takes the same
// mutex, cannot return while a firing is in flight.
func (j *Job) onFire() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopped {
		return
	}

	fired := j.next

	// Re-arm relative to the occurrence that fired, not the current
	// instant. An early-firing timer therefore cannot schedule a second
	// firing on the same calendar day.
	now := j.d.now()
	if now.Before(fired) {
		now = fired
	}
	j.next = NextOccurrence(j.tod, now, j.d.loc)
	j.timer = time.AfterFunc(j.next.Sub(j.d.now()), j.onFire)

	j.d.logger.Info("daily trigger fired",
		"job_id", j.id,
		"time", j.tod.String(),
		"next", j.next,
	)

	j.fire(j.jc)
}

// Cancel stops the job. After Cancel returns no late firing can be
// delivered. Idempotent.
func (j *Job) Cancel() {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return
	}
	j.stopped = true
	if j.timer != nil {
		j.timer.Stop()
	}
	j.mu.Unlock()

	j.d.remove(j.id)

	j.d.logger.Debug("daily trigger cancelled",
		"job_id", j.id,
		"time", j.tod.String(),
	)
}

func (d *Daily) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, id)
}

// Stop cancels every outstanding job. New ScheduleDaily calls fail with
// ErrStopped afterwards.
func (d *Daily) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	jobs := make([]*Job, 0, len(d.jobs))
	for _, j := range d.jobs {
		jobs = append(jobs, j)
	}
	d.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}

	d.logger.Info("scheduler stopped", "cancelled", len(jobs))
}

// Stats returns scheduler statistics for the ops surface.
func (d *Daily) Stats() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	return map[string]any{
		"active_jobs": len(d.jobs),
		"timezone":    d.loc.String(),
		"running":     !d.stopped,
	}
}

// NextOccurrence returns the first instant strictly after `after` whose
// wall clock in loc reads tod. Day arithmetic goes through time.Date so
// DST transitions normalize instead of skipping a day.
func NextOccurrence(tod TimeOfDay, after time.Time, loc *time.Location) time.Time {
	after = after.In(loc)
	candidate := time.Date(after.Year(), after.Month(), after.Day(), tod.Hour, tod.Minute, 0, 0, loc)
	if !candidate.After(after) {
		candidate = time.Date(after.Year(), after.Month(), after.Day()+1, tod.Hour, tod.Minute, 0, 0, loc)
	}
	return candidate
}
