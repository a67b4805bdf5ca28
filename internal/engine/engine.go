// Package engine drives the routine lifecycle: materializing dated task
// instances, nudging patients while a task is still answerable, and
// escalating to caregivers once the response window has closed.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memoraid/memoraid/internal/domain/alert"
	"github.com/memoraid/memoraid/internal/domain/carelink"
	"github.com/memoraid/memoraid/internal/domain/identity"
	"github.com/memoraid/memoraid/internal/domain/routine"
	"github.com/memoraid/memoraid/internal/domain/tasklog"
	"github.com/memoraid/memoraid/internal/platform/push"
)

// reminderJitter absorbs tick scheduling drift: a reminder due in less than
// this is sent now rather than a full tick late.
const reminderJitter = 6 * time.Second

// Clock abstracts time so passes can be tested at fixed instants.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// RoutineSource yields the routines eligible for instantiation.
type RoutineSource interface {
	ListActive(ctx context.Context) ([]*routine.Routine, error)
}

// TaskStore is the slice of the task repository the engine writes through.
// RecordReminder and MarkMissed are conditional updates so concurrent passes
// cannot double-send or double-escalate.
type TaskStore interface {
	CreateIfAbsent(ctx context.Context, t *tasklog.TaskLog) (bool, error)
	ListDuePending(ctx context.Context, now time.Time) ([]tasklog.DueTask, error)
	RecordReminder(ctx context.Context, id uuid.UUID, prevCount int, now time.Time) (bool, error)
	MarkMissed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// AlertSink records missed-task alerts.
type AlertSink interface {
	Create(ctx context.Context, a *alert.Alert) error
}

type Engine struct {
	routines   RoutineSource
	tasks      TaskStore
	alerts     AlertSink
	caregivers carelink.CaregiverLister
	users      identity.UserRepository
	notifier   push.Notifier
	clock      Clock
	logger     zerolog.Logger
}

func New(routines RoutineSource, tasks TaskStore, alerts AlertSink,
	caregivers carelink.CaregiverLister, users identity.UserRepository,
	notifier push.Notifier, clock Clock, logger zerolog.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		routines:   routines,
		tasks:      tasks,
		alerts:     alerts,
		caregivers: caregivers,
		users:      users,
		notifier:   notifier,
		clock:      clock,
		logger:     logger,
	}
}

// EnsureInstancesForDate creates the task instance for every active routine
// whose recurrence rule matches the date. Existing instances are left alone,
// so the pass is idempotent and safe to run opportunistically. Routines with
// broken schedules are skipped, never fatal.
func (e *Engine) EnsureInstancesForDate(ctx context.Context, date time.Time) (int, error) {
	routines, err := e.routines.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active routines: %w", err)
	}

	created := 0
	for _, r := range routines {
		matches, err := r.Matches(date)
		if err != nil {
			e.logger.Warn().Err(err).Str("routine_id", r.ID.String()).
				Msg("Skipping routine with invalid schedule")
			continue
		}
		if !matches {
			continue
		}
		at, err := r.ScheduledAt(date)
		if err != nil {
			e.logger.Warn().Err(err).Str("routine_id", r.ID.String()).
				Msg("Skipping routine with invalid time of day")
			continue
		}
		t := &tasklog.TaskLog{
			RoutineID:   r.ID,
			Date:        truncateToDate(date),
			ScheduledAt: at,
		}
		inserted, err := e.tasks.CreateIfAbsent(ctx, t)
		if err != nil {
			e.logger.Error().Err(err).Str("routine_id", r.ID.String()).
				Msg("Failed to create task instance")
			continue
		}
		if inserted {
			created++
		}
	}
	if created > 0 {
		e.logger.Info().Int("created", created).
			Str("date", truncateToDate(date).Format("2006-01-02")).
			Msg("Task instances created")
	}
	return created, nil
}

// RunReminderPass notifies patients about pending tasks inside their
// response window. The first reminder goes out as soon as the task is due;
// repeats follow at the routine's alert interval. The alert_count compare
// and swap makes concurrent passes send at most one reminder per interval.
func (e *Engine) RunReminderPass(ctx context.Context) (int, error) {
	now := e.clock.Now()
	due, err := e.tasks.ListDuePending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}

	sent := 0
	for _, d := range due {
		if !e.inWindow(d, now) {
			continue
		}
		if !reminderDue(d, now) {
			continue
		}
		won, err := e.tasks.RecordReminder(ctx, d.Task.ID, d.Task.AlertCount, now)
		if err != nil {
			e.logger.Error().Err(err).Str("task_id", d.Task.ID.String()).
				Msg("Failed to record reminder")
			continue
		}
		if !won {
			continue
		}
		e.notifier.Notify(ctx, d.Routine.PatientID,
			d.Routine.Name,
			fmt.Sprintf("Time for: %s", d.Routine.Name),
			map[string]string{
				"task_id": d.Task.ID.String(),
				"type":    "routine_reminder",
			})
		sent++
	}
	if sent > 0 {
		e.logger.Info().Int("sent", sent).Msg("Reminders sent")
	}
	return sent, nil
}

// RunMissedPass closes out pending tasks whose response window has elapsed:
// each becomes missed, gets a missed-task alert, and, when the routine has
// escalation enabled, triggers notifications to the patient's approved
// caregivers and every admin. The pending-only status update guarantees a
// task escalates exactly once even under concurrent passes. One failing
// task never aborts the rest of the pass.
func (e *Engine) RunMissedPass(ctx context.Context) (int, error) {
	now := e.clock.Now()
	due, err := e.tasks.ListDuePending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}

	missed := 0
	for _, d := range due {
		if e.inWindow(d, now) {
			continue
		}
		won, err := e.tasks.MarkMissed(ctx, d.Task.ID, now)
		if err != nil {
			e.logger.Error().Err(err).Str("task_id", d.Task.ID.String()).
				Msg("Failed to mark task missed")
			continue
		}
		if !won {
			continue
		}
		missed++
		if err := e.escalate(ctx, d); err != nil {
			e.logger.Error().Err(err).Str("task_id", d.Task.ID.String()).
				Msg("Escalation failed")
		}
	}
	if missed > 0 {
		e.logger.Info().Int("missed", missed).Msg("Tasks marked missed")
	}
	return missed, nil
}

// escalate records the missed-task alert and fans out notifications. The
// alert row is written even when escalation is disabled so the history is
// complete; only the fan-out is gated.
func (e *Engine) escalate(ctx context.Context, d tasklog.DueTask) error {
	patientName := "the patient"
	if patient, err := e.users.GetByID(ctx, d.Routine.PatientID); err == nil {
		patientName = patient.FullName
	} else {
		e.logger.Warn().Err(err).Str("patient_id", d.Routine.PatientID.String()).
			Msg("Failed to resolve patient name")
	}

	taskID := d.Task.ID
	routineID := d.Routine.ID
	a := &alert.Alert{
		PatientID: d.Routine.PatientID,
		RoutineID: &routineID,
		TaskID:    &taskID,
		Kind:      alert.KindMissedTask,
		Status:    alert.StatusActive,
		Message: fmt.Sprintf("%s missed routine '%s' scheduled at %s.",
			patientName, d.Routine.Name, d.Task.ScheduledAt.Format("03:04 PM")),
	}
	if err := e.alerts.Create(ctx, a); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}

	if !d.Routine.EscalationEnabled {
		return nil
	}

	recipients := map[uuid.UUID]bool{}
	refs, err := e.caregivers.ApprovedCaregivers(ctx, d.Routine.PatientID)
	if err != nil {
		e.logger.Error().Err(err).Str("patient_id", d.Routine.PatientID.String()).
			Msg("Failed to load caregivers for escalation")
	}
	for _, ref := range refs {
		recipients[ref.CaregiverID] = true
	}
	admins, err := e.users.AdminIDs(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to load admins for escalation")
	}
	for _, id := range admins {
		recipients[id] = true
	}

	data := map[string]string{
		"task_id":  taskID.String(),
		"type":     "escalation",
		"alert_id": a.ID.String(),
	}

	var wg sync.WaitGroup
	for id := range recipients {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			e.notifier.Notify(ctx, userID, "Missed routine", a.Message, data)
		}(id)
	}
	wg.Wait()
	return nil
}

// inWindow reports whether the task can still be answered at the instant.
func (e *Engine) inWindow(d tasklog.DueTask, now time.Time) bool {
	return now.Before(d.Task.ScheduledAt.Add(d.Routine.ResponseWindow()))
}

// reminderDue reports whether the task is owed a reminder right now: the
// first one immediately, repeats once the interval (less jitter) has passed
// since the last one.
func reminderDue(d tasklog.DueTask, now time.Time) bool {
	if d.Task.AlertCount == 0 || d.Task.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*d.Task.LastNotifiedAt) >= d.Routine.AlertInterval()-reminderJitter
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
