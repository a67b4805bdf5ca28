package tasklog

import (
	"time"

	"github.com/google/uuid"

	"github.com/memoraid/memoraid/internal/domain/routine"
)

// Task statuses. Pending tasks are the only ones the reminder and missed
// passes act on; completed and missed are terminal except for undo.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusMissed    = "missed"
)

// TaskLog maps to the task_log table: one dated instance of a routine.
// The (routine_id, date) pair is unique so instantiation is idempotent.
type TaskLog struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RoutineID      uuid.UUID  `db:"routine_id" json:"routine_id"`
	Date           time.Time  `db:"date" json:"date"`
	ScheduledAt    time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status         string     `db:"status" json:"status"`
	CompletedBy    *uuid.UUID `db:"completed_by" json:"completed_by,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	LastNotifiedAt *time.Time `db:"last_notified_at" json:"last_notified_at,omitempty"`
	AlertCount     int        `db:"alert_count" json:"alert_count"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// DueTask pairs a pending task with its owning routine so the engine can
// evaluate reminder and escalation timing without extra lookups.
type DueTask struct {
	Task    TaskLog
	Routine routine.Routine
}
