// Package alarm owns the registry of daily wake-up alarms: the mapping
// from (user, time-of-day) to a live scheduled trigger.
package alarm

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fmarino/despierto/internal/catalog"
	"github.com/fmarino/despierto/internal/clock"
	"github.com/fmarino/despierto/internal/events"
)

// Registry precondition and validation failures. All of them are
// user-correctable and carry a ready-to-forward display message.
var (
	ErrInvalidFormat = errors.New("invalid time format")
	ErrAlreadyExists = errors.New("alarm already exists")
	ErrNotFound      = errors.New("alarm not found")
	ErrNoAlarms      = errors.New("user has no alarms")
)

// Job is the cancellation handle the scheduler returns for a trigger.
type Job interface {
	Cancel()
}

// Scheduler installs daily triggers. Satisfied by the clock package
// through NewDailyScheduler; tests substitute a fake.
type Scheduler interface {
	ScheduleDaily(tod clock.TimeOfDay, fire clock.FireFunc, jc clock.JobContext) (Job, error)
}

// dailyScheduler adapts *clock.Daily to the Scheduler interface.
type dailyScheduler struct {
	d *clock.Daily
}

func (s dailyScheduler) ScheduleDaily(tod clock.TimeOfDay, fire clock.FireFunc, jc clock.JobContext) (Job, error) {
	return s.d.ScheduleDaily(tod, fire, jc)
}

// NewDailyScheduler wraps a clock.Daily for use as a registry Scheduler.
func NewDailyScheduler(d *clock.Daily) Scheduler {
	return dailyScheduler{d: d}
}

// Registry maps (user, time-of-day) to live triggers. All methods are
// safe for concurrent use; mutations are serialized on one mutex so a
// concurrent Add and Remove on the same key cannot interleave.
type Registry struct {
	sched  Scheduler
	fire   clock.FireFunc
	msgs   *catalog.Catalog
	logger *slog.Logger
	bus    *events.Bus

	mu     sync.Mutex
	alarms map[int64]map[string]Job // userID -> normalized "HH:MM" -> handle
}

// New creates a registry. fire is invoked each time any alarm fires,
// on the trigger's own goroutine.
func New(sched Scheduler, fire clock.FireFunc, msgs *catalog.Catalog, bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sched:  sched,
		fire:   fire,
		msgs:   msgs,
		logger: logger,
		bus:    bus,
		alarms: make(map[int64]map[string]Job),
	}
}

// Add registers a daily alarm for userID at timeStr. The returned string
// is always a display message ready to forward to the chat; a non-nil
// error carries the failure taxonomy for callers that need it.
func (r *Registry) Add(userID, chatID int64, timeStr string) (string, error) {
	tod, err := clock.ParseTimeOfDay(timeStr)
	if err != nil {
		return r.formatMessage(err), fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	key := tod.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.alarms[userID][key]; ok {
		return r.msgs.Errors.AlarmExists, ErrAlreadyExists
	}

	jc := clock.JobContext{UserID: userID, ChatID: chatID, TimeStr: key}
	job, err := r.sched.ScheduleDaily(tod, r.onFire, jc)
	if err != nil {
		r.logger.Error("failed to schedule alarm",
			"user_id", userID,
			"time", key,
			"error", err,
		)
		return r.msgs.Errors.General, fmt.Errorf("schedule alarm: %w", err)
	}

	if r.alarms[userID] == nil {
		r.alarms[userID] = make(map[string]Job)
	}
	r.alarms[userID][key] = job

	r.logger.Info("alarm set", "user_id", userID, "time", key)
	r.bus.Publish(events.Event{
		Source: events.SourceAlarm,
		Kind:   events.KindAlarmSet,
		Data:   map[string]any{"user_id": userID, "time": key},
	})

	return catalog.FormatTime(r.msgs.Success.AlarmSet, key), nil
}

// Remove cancels the alarm at timeStr for userID. The trigger is
// cancelled before the record is dropped, so no firing can be delivered
// after Remove returns.
func (r *Registry) Remove(userID int64, timeStr string) (string, error) {
	key := normalize(timeStr)

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.alarms[userID][key]
	if !ok {
		return r.msgs.Errors.AlarmNotFound, ErrNotFound
	}

	job.Cancel()
	delete(r.alarms[userID], key)
	if len(r.alarms[userID]) == 0 {
		delete(r.alarms, userID)
	}

	r.logger.Info("alarm removed", "user_id", userID, "time", key)
	r.bus.Publish(events.Event{
		Source: events.SourceAlarm,
		Kind:   events.KindAlarmRemoved,
		Data:   map[string]any{"user_id": userID, "time": key},
	})

	return catalog.FormatTime(r.msgs.Success.AlarmRemoved, key), nil
}

// RemoveAll cancels every alarm userID owns.
func (r *Registry) RemoveAll(userID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := r.alarms[userID]
	if len(jobs) == 0 {
		return r.msgs.Errors.NoAlarms, ErrNoAlarms
	}

	for _, job := range jobs {
		job.Cancel()
	}
	count := len(jobs)
	delete(r.alarms, userID)

	r.logger.Info("all alarms removed", "user_id", userID, "count", count)
	r.bus.Publish(events.Event{
		Source: events.SourceAlarm,
		Kind:   events.KindAlarmRemoved,
		Data:   map[string]any{"user_id": userID, "count": count},
	})

	return r.msgs.Success.AllAlarmsRemoved, nil
}

// List returns userID's alarm times in ascending order. Empty slice,
// not an error, when none exist.
func (r *Registry) List(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	times := make([]string, 0, len(r.alarms[userID]))
	for key := range r.alarms[userID] {
		times = append(times, key)
	}
	// Zero-padded keys sort lexically in time order.
	sort.Strings(times)
	return times
}

// Stats returns registry counters for the ops surface.
func (r *Registry) Stats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, jobs := range r.alarms {
		total += len(jobs)
	}
	return map[string]any{
		"users":  len(r.alarms),
		"alarms": total,
	}
}

// onFire publishes the firing event and hands off to the configured
// callback.
func (r *Registry) onFire(jc clock.JobContext) {
	r.bus.Publish(events.Event{
		Source: events.SourceAlarm,
		Kind:   events.KindAlarmFired,
		Data:   map[string]any{"user_id": jc.UserID, "time": jc.TimeStr},
	})
	r.fire(jc)
}

// formatMessage maps a parse failure to its user-facing message.
func (r *Registry) formatMessage(err error) string {
	switch {
	case errors.Is(err, clock.ErrHourOutOfRange):
		return r.msgs.Errors.InvalidHour
	case errors.Is(err, clock.ErrMinuteOutOfRange):
		return r.msgs.Errors.InvalidMinute
	default:
		return r.msgs.Errors.InvalidTime
	}
}

// normalize maps any accepted spelling of a time to its canonical key.
// Unparseable input is returned as-is; lookups with it simply miss.
func normalize(timeStr string) string {
	tod, err := clock.ParseTimeOfDay(timeStr)
	if err != nil {
		return timeStr
	}
	return tod.String()
}
