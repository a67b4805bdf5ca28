package alert

import (
	"context"

	"github.com/google/uuid"
)

type Filter struct {
	PatientID uuid.UUID
	Status    string
	Kind      string
}

type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	Handle(ctx context.Context, id, userID uuid.UUID) (bool, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Alert, int, error)
}
