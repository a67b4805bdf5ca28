package alert

import (
	"time"

	"github.com/google/uuid"
)

// Alert kinds.
const (
	KindMissedTask = "missed_task"
	KindSOS        = "sos"
	KindEscalation = "escalation"
)

// Alert statuses.
const (
	StatusActive  = "active"
	StatusHandled = "handled"
)

// Alert maps to the alert table. RoutineID is nullable: SOS alerts have no
// routine, and a deleted routine leaves its historical alerts behind.
type Alert struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	RoutineID *uuid.UUID `db:"routine_id" json:"routine_id,omitempty"`
	TaskID    *uuid.UUID `db:"task_id" json:"task_id,omitempty"`
	Kind      string     `db:"kind" json:"kind"`
	Status    string     `db:"status" json:"status"`
	Message   string     `db:"message" json:"message"`
	Latitude  *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64   `db:"longitude" json:"longitude,omitempty"`
	HandledBy *uuid.UUID `db:"handled_by" json:"handled_by,omitempty"`
	HandledAt *time.Time `db:"handled_at" json:"handled_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
