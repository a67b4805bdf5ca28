package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListByRole(ctx context.Context, role string) ([]*User, error)
	AdminIDs(ctx context.Context) ([]uuid.UUID, error)
}
