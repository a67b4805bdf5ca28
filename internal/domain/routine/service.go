package routine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("routine not found")

type Service struct {
	repo   Repository
	purger TaskPurger
}

func NewService(repo Repository, purger TaskPurger) *Service {
	return &Service{repo: repo, purger: purger}
}

func (s *Service) Create(ctx context.Context, r *Routine) error {
	applyDefaults(r)
	if err := r.Validate(); err != nil {
		return err
	}
	if r.PatientID == uuid.Nil {
		return errors.New("patient_id is required")
	}
	return s.repo.Create(ctx, r)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Routine, error) {
	r, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, r *Routine) (*Routine, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.ID = existing.ID
	r.PatientID = existing.PatientID
	applyDefaults(r)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete soft-deletes the routine and purges its upcoming pending task
// instances so no further reminders fire for it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, today time.Time) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	purged, err := s.purger.PurgeUpcomingByRoutine(ctx, id, today)
	if err != nil {
		// The routine is already gone; a failed purge leaves orphan
		// pending tasks that the missed pass will eventually close out.
		log.Warn().Err(err).Str("routine_id", id.String()).
			Msg("Failed to purge tasks for deleted routine")
		return nil
	}
	log.Info().Str("routine_id", id.String()).Int("purged", purged).
		Msg("Routine deleted")
	return nil
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Routine, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func applyDefaults(r *Routine) {
	if r.AlertIntervalMins == 0 {
		r.AlertIntervalMins = 5
	}
	if r.ResponseWindowMins == 0 {
		r.ResponseWindowMins = 30
	}
}
