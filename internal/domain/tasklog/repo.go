package tasklog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// CreateIfAbsent inserts the task unless an instance already exists
	// for its (routine_id, date). Returns true when a row was inserted.
	CreateIfAbsent(ctx context.Context, t *TaskLog) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*TaskLog, error)
	// ListDuePending returns pending tasks scheduled at or before now,
	// joined with their routines.
	ListDuePending(ctx context.Context, now time.Time) ([]DueTask, error)
	// RecordReminder bumps alert_count from prevCount and stamps
	// last_notified_at, but only while the task is still pending and the
	// count has not moved underneath us. Returns true when the row won.
	RecordReminder(ctx context.Context, id uuid.UUID, prevCount int, now time.Time) (bool, error)
	// MarkMissed flips a still-pending task to missed. Returns true when
	// this call performed the transition.
	MarkMissed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Complete(ctx context.Context, id, userID uuid.UUID, now time.Time) (bool, error)
	UndoComplete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ListByPatientAndDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]*TaskLog, error)
	PurgeUpcomingByRoutine(ctx context.Context, routineID uuid.UUID, fromDate time.Time) (int, error)
}
