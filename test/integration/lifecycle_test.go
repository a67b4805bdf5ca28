package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/memoraid/memoraid/internal/domain/alert"
	"github.com/memoraid/memoraid/internal/domain/carelink"
	"github.com/memoraid/memoraid/internal/domain/identity"
	"github.com/memoraid/memoraid/internal/domain/routine"
	"github.com/memoraid/memoraid/internal/domain/tasklog"
	"github.com/memoraid/memoraid/internal/engine"
	"github.com/memoraid/memoraid/internal/platform/push"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

var day = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// buildTestEngine wires the engine onto the shared pool with an in-memory
// push transport so deliveries can be asserted.
func buildTestEngine(clock engine.Clock) (*engine.Engine, *push.MemoryTokenStore, *push.MockSender) {
	tokens := push.NewMemoryTokenStore()
	sender := &push.MockSender{}
	notifier := push.NewGateway(tokens, sender, zerolog.Nop())
	eng := engine.New(
		routine.NewRepoPG(globalDB.Pool),
		tasklog.NewRepoPG(globalDB.Pool),
		alert.NewRepoPG(globalDB.Pool),
		carelink.NewRepoPG(globalDB.Pool),
		identity.NewUserRepoPG(globalDB.Pool),
		notifier, clock, zerolog.Nop())
	return eng, tokens, sender
}

func messagesForToken(sender *push.MockSender, token string) []push.SentMessage {
	var out []push.SentMessage
	for _, m := range sender.Messages() {
		if m.Token == token {
			out = append(out, m)
		}
	}
	return out
}

func TestRoutineLifecycle(t *testing.T) {
	ctx := context.Background()

	patient := createTestUser(t, ctx, identity.RolePatient, "Rose Martin")
	caregiver := createTestUser(t, ctx, identity.RoleCaregiver, "Jamie Lee")
	admin := createTestUser(t, ctx, identity.RoleAdmin, "Admin One")

	// Approved care link so escalations reach the caregiver.
	linkRepo := carelink.NewRepoPG(globalDB.Pool)
	link := &carelink.CareLink{PatientID: patient.ID, CaregiverID: caregiver.ID, Level: carelink.LevelPrimary}
	if err := linkRepo.Create(ctx, link); err != nil {
		t.Fatalf("create care link: %v", err)
	}
	if err := linkRepo.Approve(ctx, link.ID, admin.ID); err != nil {
		t.Fatalf("approve care link: %v", err)
	}

	rt := createTestRoutine(t, ctx, patient.ID, "Morning medication", "08:00")
	scheduled := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := &fixedClock{t: day}
	eng, tokens, sender := buildTestEngine(clock)

	tokens.Register(ctx, patient.ID, "patient-device", "android")
	tokens.Register(ctx, caregiver.ID, "caregiver-device", "ios")
	tokens.Register(ctx, admin.ID, "admin-device", "ios")

	taskRepo := tasklog.NewRepoPG(globalDB.Pool)

	t.Run("Instantiate", func(t *testing.T) {
		created, err := eng.EnsureInstancesForDate(ctx, day)
		if err != nil {
			t.Fatalf("instantiate: %v", err)
		}
		if created != 1 {
			t.Fatalf("expected 1 instance, got %d", created)
		}
		// Idempotent on the unique (routine_id, date) pair.
		created, err = eng.EnsureInstancesForDate(ctx, day)
		if err != nil {
			t.Fatalf("instantiate again: %v", err)
		}
		if created != 0 {
			t.Errorf("second pass must create nothing, got %d", created)
		}
	})

	t.Run("Reminder", func(t *testing.T) {
		clock.t = scheduled
		sent, err := eng.RunReminderPass(ctx)
		if err != nil {
			t.Fatalf("reminder pass: %v", err)
		}
		if sent != 1 {
			t.Fatalf("expected 1 reminder, got %d", sent)
		}
		got := messagesForToken(sender, "patient-device")
		if len(got) != 1 {
			t.Fatalf("expected 1 patient delivery, got %d", len(got))
		}
		if got[0].Data["type"] != "routine_reminder" {
			t.Errorf("unexpected payload type %q", got[0].Data["type"])
		}

		// Same instant again: the interval gates a repeat.
		sent, _ = eng.RunReminderPass(ctx)
		if sent != 0 {
			t.Errorf("expected no repeat inside the interval, got %d", sent)
		}
	})

	t.Run("CompleteAndUndo", func(t *testing.T) {
		tasks, err := taskRepo.ListByPatientAndDate(ctx, patient.ID, day)
		if err != nil {
			t.Fatalf("list tasks: %v", err)
		}
		if len(tasks) != 1 {
			t.Fatalf("expected 1 task, got %d", len(tasks))
		}
		id := tasks[0].ID

		ok, err := taskRepo.Complete(ctx, id, caregiver.ID, clock.t)
		if err != nil || !ok {
			t.Fatalf("complete: ok=%v err=%v", ok, err)
		}
		ok, err = taskRepo.UndoComplete(ctx, id, clock.t)
		if err != nil || !ok {
			t.Fatalf("undo: ok=%v err=%v", ok, err)
		}
		got, err := taskRepo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if got.Status != tasklog.StatusPending || got.CompletedBy != nil {
			t.Errorf("undo must restore pending: status=%q", got.Status)
		}
	})

	t.Run("Escalation", func(t *testing.T) {
		clock.t = scheduled.Add(30 * time.Minute)
		missed, err := eng.RunMissedPass(ctx)
		if err != nil {
			t.Fatalf("missed pass: %v", err)
		}
		if missed != 1 {
			t.Fatalf("expected 1 missed task, got %d", missed)
		}

		alerts, total, err := alert.NewRepoPG(globalDB.Pool).List(ctx,
			alert.Filter{PatientID: patient.ID, Kind: alert.KindMissedTask}, 20, 0)
		if err != nil {
			t.Fatalf("list alerts: %v", err)
		}
		if total != 1 {
			t.Fatalf("expected 1 alert, got %d", total)
		}
		if alerts[0].RoutineID == nil || *alerts[0].RoutineID != rt.ID {
			t.Error("alert must reference the routine")
		}

		for _, token := range []string{"caregiver-device", "admin-device"} {
			if got := messagesForToken(sender, token); len(got) != 1 {
				t.Errorf("expected 1 escalation on %s, got %d", token, len(got))
			}
		}

		// Re-running does not escalate again.
		missed, _ = eng.RunMissedPass(ctx)
		if missed != 0 {
			t.Errorf("expected no further transitions, got %d", missed)
		}
	})

	t.Run("DeletePurges", func(t *testing.T) {
		rt2 := createTestRoutine(t, ctx, patient.ID, "Evening walk", "18:00")
		if _, err := eng.EnsureInstancesForDate(ctx, day); err != nil {
			t.Fatalf("instantiate: %v", err)
		}

		routineRepo := routine.NewRepoPG(globalDB.Pool)
		if err := routineRepo.SoftDelete(ctx, rt2.ID); err != nil {
			t.Fatalf("soft delete: %v", err)
		}
		purged, err := taskRepo.PurgeUpcomingByRoutine(ctx, rt2.ID, day)
		if err != nil {
			t.Fatalf("purge: %v", err)
		}
		if purged != 1 {
			t.Errorf("expected 1 purged task, got %d", purged)
		}

		// Soft-deleted routines no longer instantiate.
		created, err := eng.EnsureInstancesForDate(ctx, day)
		if err != nil {
			t.Fatalf("instantiate after delete: %v", err)
		}
		if created != 0 {
			t.Errorf("deleted routine must not instantiate, got %d", created)
		}
	})
}

func TestSOSRoundTrip(t *testing.T) {
	ctx := context.Background()

	patient := createTestUser(t, ctx, identity.RolePatient, "Sam Ortiz")
	caregiver := createTestUser(t, ctx, identity.RoleCaregiver, "Lee Park")

	linkRepo := carelink.NewRepoPG(globalDB.Pool)
	link := &carelink.CareLink{PatientID: patient.ID, CaregiverID: caregiver.ID, Level: carelink.LevelSecondary}
	if err := linkRepo.Create(ctx, link); err != nil {
		t.Fatalf("create care link: %v", err)
	}
	if err := linkRepo.Approve(ctx, link.ID, caregiver.ID); err != nil {
		t.Fatalf("approve care link: %v", err)
	}

	tokens := push.NewMemoryTokenStore()
	sender := &push.MockSender{}
	tokens.Register(ctx, caregiver.ID, "sos-caregiver-device", "ios")

	svc := alert.NewService(
		alert.NewRepoPG(globalDB.Pool),
		linkRepo,
		identity.NewUserRepoPG(globalDB.Pool),
		push.NewGateway(tokens, sender, zerolog.Nop()))

	lat, long := 48.85, 2.35
	a, err := svc.CreateSOS(ctx, patient.ID, &lat, &long)
	if err != nil {
		t.Fatalf("create sos: %v", err)
	}
	if a.Kind != alert.KindSOS {
		t.Errorf("unexpected kind %q", a.Kind)
	}

	got := messagesForToken(sender, "sos-caregiver-device")
	if len(got) != 1 {
		t.Fatalf("expected 1 sos delivery, got %d", len(got))
	}
	if got[0].Data["alert_id"] != a.ID.String() {
		t.Error("expected alert_id in sos payload")
	}

	handled, err := svc.Handle(ctx, a.ID, caregiver.ID)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if handled.Status != alert.StatusHandled {
		t.Errorf("expected handled, got %q", handled.Status)
	}
	if _, err := svc.Handle(ctx, a.ID, caregiver.ID); err != alert.ErrAlreadyHandled {
		t.Errorf("expected ErrAlreadyHandled, got %v", err)
	}
}
