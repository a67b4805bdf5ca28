package tasklog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound       = errors.New("task not found")
	ErrNotCompletable = errors.New("task is not pending or missed")
	ErrNotUndoable    = errors.New("task is not completed")
)

// Instantiator materializes task instances for a calendar date before a
// listing is served, so a freshly created routine shows up same-day.
type Instantiator interface {
	EnsureInstancesForDate(ctx context.Context, date time.Time) (int, error)
}

type Service struct {
	repo         Repository
	instantiator Instantiator
}

func NewService(repo Repository, instantiator Instantiator) *Service {
	return &Service{repo: repo, instantiator: instantiator}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*TaskLog, error) {
	t, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Complete marks a pending or missed task completed. Completing a missed
// task is a late acknowledgement; its alert stays for the history.
func (s *Service) Complete(ctx context.Context, id, userID uuid.UUID, now time.Time) (*TaskLog, error) {
	ok, err := s.repo.Complete(ctx, id, userID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotCompletable
	}
	return s.Get(ctx, id)
}

// Undo reverts a completed task back to pending. Missed tasks cannot be
// undone; reopening them would rearm escalation for a window already spent.
func (s *Service) Undo(ctx context.Context, id uuid.UUID, now time.Time) (*TaskLog, error) {
	ok, err := s.repo.UndoComplete(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotUndoable
	}
	return s.Get(ctx, id)
}

// ListForDate returns the patient's tasks for the given date, materializing
// instances first so the list reflects the current routine set.
func (s *Service) ListForDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]*TaskLog, error) {
	if _, err := s.instantiator.EnsureInstancesForDate(ctx, date); err != nil {
		return nil, err
	}
	return s.repo.ListByPatientAndDate(ctx, patientID, date)
}
