package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/memoraid/memoraid/internal/domain/carelink"
	"github.com/memoraid/memoraid/internal/domain/identity"
	"github.com/memoraid/memoraid/internal/platform/push"
)

var (
	ErrNotFound       = errors.New("alert not found")
	ErrAlreadyHandled = errors.New("alert already handled")
)

type Service struct {
	repo     Repository
	links    carelink.CaregiverLister
	users    identity.UserRepository
	notifier push.Notifier
}

func NewService(repo Repository, links carelink.CaregiverLister, users identity.UserRepository, notifier push.Notifier) *Service {
	return &Service{repo: repo, links: links, users: users, notifier: notifier}
}

// Create records an alert without any notification fan-out. The engine uses
// it for missed-task alerts and handles its own notifications.
func (s *Service) Create(ctx context.Context, a *Alert) error {
	if a.Status == "" {
		a.Status = StatusActive
	}
	return s.repo.Create(ctx, a)
}

// CreateSOS records a patient-initiated SOS alert and notifies every
// approved caregiver and all admins. Notification failures are logged, not
// returned; the alert row is the durable record.
func (s *Service) CreateSOS(ctx context.Context, patientID uuid.UUID, lat, long *float64) (*Alert, error) {
	patient, err := s.users.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	a := &Alert{
		PatientID: patientID,
		Kind:      KindSOS,
		Status:    StatusActive,
		Message:   fmt.Sprintf("SOS from %s", patient.FullName),
		Latitude:  lat,
		Longitude: long,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.fanOut(ctx, a, "Emergency", a.Message)
	return a, nil
}

// fanOut pushes the alert to the patient's approved caregivers and all
// admins, each recipient in parallel and best-effort.
func (s *Service) fanOut(ctx context.Context, a *Alert, title, body string) {
	recipients := map[uuid.UUID]bool{}
	refs, err := s.links.ApprovedCaregivers(ctx, a.PatientID)
	if err != nil {
		log.Error().Err(err).Str("alert_id", a.ID.String()).Msg("Failed to load caregivers for alert")
	}
	for _, ref := range refs {
		recipients[ref.CaregiverID] = true
	}
	admins, err := s.users.AdminIDs(ctx)
	if err != nil {
		log.Error().Err(err).Str("alert_id", a.ID.String()).Msg("Failed to load admins for alert")
	}
	for _, id := range admins {
		recipients[id] = true
	}

	data := map[string]string{
		"type":     a.Kind,
		"alert_id": a.ID.String(),
	}

	var wg sync.WaitGroup
	for id := range recipients {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			s.notifier.Notify(ctx, userID, title, body, data)
		}(id)
	}
	wg.Wait()
}

// Handle marks an active alert handled by the acting user.
func (s *Service) Handle(ctx context.Context, id, userID uuid.UUID) (*Alert, error) {
	ok, err := s.repo.Handle(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyHandled
	}
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Alert, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}
