package identity

import (
	"time"

	"github.com/google/uuid"
)

// Roles assignable to a user account.
const (
	RoleAdmin     = "admin"
	RoleCaregiver = "caregiver"
	RolePatient   = "patient"
)

// Account statuses.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User maps to the app_user table. Registration and profile management are
// handled by a separate service; this package only reads accounts.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
