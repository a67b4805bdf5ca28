package carelink

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("care link not found")
	ErrAlreadyApproved = errors.New("care link is already approved")
)

type Service struct {
	links Repository
}

func NewService(links Repository) *Service {
	return &Service{links: links}
}

func (s *Service) RequestLink(ctx context.Context, l *CareLink) error {
	if l.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if l.CaregiverID == uuid.Nil {
		return fmt.Errorf("caregiver_id is required")
	}
	if l.Level == "" {
		l.Level = LevelSecondary
	}
	if l.Level != LevelPrimary && l.Level != LevelSecondary {
		return fmt.Errorf("invalid level: %s", l.Level)
	}
	// New links always start unapproved; approval is an admin action.
	l.Approved = false
	return s.links.Create(ctx, l)
}

func (s *Service) Approve(ctx context.Context, id, approverID uuid.UUID) error {
	l, err := s.links.GetByID(ctx, id)
	if err != nil {
		return ErrNotFound
	}
	if l.Approved {
		return ErrAlreadyApproved
	}
	return s.links.Approve(ctx, id, approverID)
}

func (s *Service) Revoke(ctx context.Context, id uuid.UUID) error {
	if _, err := s.links.GetByID(ctx, id); err != nil {
		return ErrNotFound
	}
	return s.links.Delete(ctx, id)
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*CareLink, error) {
	return s.links.ListByPatient(ctx, patientID)
}

func (s *Service) ListForCaregiver(ctx context.Context, caregiverID uuid.UUID) ([]*CareLink, error) {
	return s.links.ListByCaregiver(ctx, caregiverID)
}

// ApprovedCaregivers resolves the approved caregivers for a patient. This is
// the read-only view the escalation engine consumes.
func (s *Service) ApprovedCaregivers(ctx context.Context, patientID uuid.UUID) ([]CaregiverRef, error) {
	return s.links.ApprovedCaregivers(ctx, patientID)
}
