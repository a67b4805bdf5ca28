package carelink

import (
	"context"

	"github.com/google/uuid"
)

// CaregiverLister is the slice of the repository that alerting and the
// escalation engine need: who gets notified for a patient.
type CaregiverLister interface {
	ApprovedCaregivers(ctx context.Context, patientID uuid.UUID) ([]CaregiverRef, error)
}

type Repository interface {
	Create(ctx context.Context, l *CareLink) error
	GetByID(ctx context.Context, id uuid.UUID) (*CareLink, error)
	Approve(ctx context.Context, id, approverID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*CareLink, error)
	ListByCaregiver(ctx context.Context, caregiverID uuid.UUID) ([]*CareLink, error)
	ApprovedCaregivers(ctx context.Context, patientID uuid.UUID) ([]CaregiverRef, error)
}
