package routine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Routine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Routine, error)
	Update(ctx context.Context, r *Routine) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Routine, int, error)
	// ListActive returns all active, non-deleted routines; the instantiator
	// filters them by recurrence rule.
	ListActive(ctx context.Context) ([]*Routine, error)
}

// TaskPurger removes a deleted routine's upcoming non-terminal task
// instances. Implemented by the tasklog repository.
type TaskPurger interface {
	PurgeUpcomingByRoutine(ctx context.Context, routineID uuid.UUID, fromDate time.Time) (int, error)
}
