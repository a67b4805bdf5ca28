package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memoraid/memoraid/internal/domain/alert"
	"github.com/memoraid/memoraid/internal/domain/carelink"
	"github.com/memoraid/memoraid/internal/domain/identity"
	"github.com/memoraid/memoraid/internal/domain/routine"
	"github.com/memoraid/memoraid/internal/domain/tasklog"
)

// -- Fakes --

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRoutines struct {
	items []*routine.Routine
}

func (f *fakeRoutines) ListActive(_ context.Context) ([]*routine.Routine, error) {
	return f.items, nil
}

// fakeTasks mimics the conditional updates of the Postgres repository.
type fakeTasks struct {
	mu       sync.Mutex
	store    map[uuid.UUID]*tasklog.TaskLog
	routines map[uuid.UUID]*routine.Routine
}

func newFakeTasks(routines *fakeRoutines) *fakeTasks {
	f := &fakeTasks{
		store:    make(map[uuid.UUID]*tasklog.TaskLog),
		routines: make(map[uuid.UUID]*routine.Routine),
	}
	for _, r := range routines.items {
		f.routines[r.ID] = r
	}
	return f
}

func (f *fakeTasks) CreateIfAbsent(_ context.Context, t *tasklog.TaskLog) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.store {
		if existing.RoutineID == t.RoutineID && existing.Date.Equal(t.Date) {
			return false, nil
		}
	}
	t.ID = uuid.New()
	t.Status = tasklog.StatusPending
	f.store[t.ID] = t
	return true, nil
}

func (f *fakeTasks) ListDuePending(_ context.Context, now time.Time) ([]tasklog.DueTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []tasklog.DueTask
	for _, t := range f.store {
		if t.Status == tasklog.StatusPending && !t.ScheduledAt.After(now) {
			due = append(due, tasklog.DueTask{Task: *t, Routine: *f.routines[t.RoutineID]})
		}
	}
	return due, nil
}

func (f *fakeTasks) RecordReminder(_ context.Context, id uuid.UUID, prevCount int, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.store[id]
	if !ok || t.Status != tasklog.StatusPending || t.AlertCount != prevCount {
		return false, nil
	}
	t.AlertCount++
	ts := now
	t.LastNotifiedAt = &ts
	return true, nil
}

func (f *fakeTasks) MarkMissed(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.store[id]
	if !ok || t.Status != tasklog.StatusPending {
		return false, nil
	}
	t.Status = tasklog.StatusMissed
	t.UpdatedAt = now
	return true, nil
}

func (f *fakeTasks) get(id uuid.UUID) *tasklog.TaskLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[id]
}

func (f *fakeTasks) byRoutine(routineID uuid.UUID) *tasklog.TaskLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.store {
		if t.RoutineID == routineID {
			return t
		}
	}
	return nil
}

type fakeAlerts struct {
	mu      sync.Mutex
	created []*alert.Alert
	failFor map[uuid.UUID]bool // keyed by task id
}

func (f *fakeAlerts) Create(_ context.Context, a *alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.TaskID != nil && f.failFor[*a.TaskID] {
		return errors.New("alert store unavailable")
	}
	a.ID = uuid.New()
	f.created = append(f.created, a)
	return nil
}

func (f *fakeAlerts) all() []*alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*alert.Alert(nil), f.created...)
}

type fakeLinks struct {
	caregivers map[uuid.UUID][]carelink.CaregiverRef
}

func (f *fakeLinks) ApprovedCaregivers(_ context.Context, patientID uuid.UUID) ([]carelink.CaregiverRef, error) {
	return f.caregivers[patientID], nil
}

type fakeUsers struct {
	users  map[uuid.UUID]*identity.User
	admins []uuid.UUID
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func (f *fakeUsers) ListByRole(_ context.Context, role string) ([]*identity.User, error) {
	var r []*identity.User
	for _, u := range f.users {
		if u.Role == role {
			r = append(r, u)
		}
	}
	return r, nil
}

func (f *fakeUsers) AdminIDs(_ context.Context) ([]uuid.UUID, error) {
	return f.admins, nil
}

type notification struct {
	UserID uuid.UUID
	Title  string
	Data   map[string]string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, title, _ string, data map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{UserID: userID, Title: title, Data: data})
}

func (f *fakeNotifier) all() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.sent...)
}

func (f *fakeNotifier) forUser(id uuid.UUID) []notification {
	var out []notification
	for _, n := range f.all() {
		if n.UserID == id {
			out = append(out, n)
		}
	}
	return out
}

// -- Fixture --

type fixture struct {
	engine   *Engine
	clock    *fakeClock
	tasks    *fakeTasks
	alerts   *fakeAlerts
	notifier *fakeNotifier

	patientID   uuid.UUID
	caregiverID uuid.UUID
	adminID     uuid.UUID
	routine     *routine.Routine
}

// Monday 2026-06-01, routine at 08:00 with a 5 minute reminder interval and
// a 30 minute response window.
var testDay = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newFixture(mutate ...func(*routine.Routine)) *fixture {
	patientID := uuid.New()
	caregiverID := uuid.New()
	adminID := uuid.New()

	rt := &routine.Routine{
		ID:                 uuid.New(),
		PatientID:          patientID,
		Name:               "Morning medication",
		TimeOfDay:          "08:00",
		Frequency:          routine.FreqDaily,
		AlertIntervalMins:  5,
		ResponseWindowMins: 30,
		EscalationEnabled:  true,
		Active:             true,
	}
	for _, m := range mutate {
		m(rt)
	}

	routines := &fakeRoutines{items: []*routine.Routine{rt}}
	tasks := newFakeTasks(routines)
	alerts := &fakeAlerts{failFor: map[uuid.UUID]bool{}}
	links := &fakeLinks{caregivers: map[uuid.UUID][]carelink.CaregiverRef{
		patientID: {{CaregiverID: caregiverID, Level: carelink.LevelPrimary}},
	}}
	users := &fakeUsers{
		users: map[uuid.UUID]*identity.User{
			patientID: {ID: patientID, FullName: "Rose Martin", Role: identity.RolePatient},
		},
		admins: []uuid.UUID{adminID},
	}
	notifier := &fakeNotifier{}
	clock := &fakeClock{now: testDay}

	return &fixture{
		engine:      New(routines, tasks, alerts, links, users, notifier, clock, zerolog.Nop()),
		clock:       clock,
		tasks:       tasks,
		alerts:      alerts,
		notifier:    notifier,
		patientID:   patientID,
		caregiverID: caregiverID,
		adminID:     adminID,
		routine:     rt,
	}
}

func (fx *fixture) instantiate(t *testing.T) *tasklog.TaskLog {
	t.Helper()
	if _, err := fx.engine.EnsureInstancesForDate(context.Background(), testDay); err != nil {
		t.Fatalf("instantiation failed: %v", err)
	}
	task := fx.tasks.byRoutine(fx.routine.ID)
	if task == nil {
		t.Fatal("expected a task instance")
	}
	return task
}

// scheduled is 08:00 on the test day.
func scheduled() time.Time {
	return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
}

// -- Instantiation --

func TestEnsureInstances_Idempotent(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	created, err := fx.engine.EnsureInstancesForDate(ctx, testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 instance, got %d", created)
	}

	created, err = fx.engine.EnsureInstancesForDate(ctx, testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 0 {
		t.Errorf("second pass must create nothing, got %d", created)
	}
	if len(fx.tasks.store) != 1 {
		t.Errorf("expected exactly 1 stored task, got %d", len(fx.tasks.store))
	}
}

func TestEnsureInstances_ScheduledAtCombinesDateAndTime(t *testing.T) {
	fx := newFixture()
	task := fx.instantiate(t)
	if !task.ScheduledAt.Equal(scheduled()) {
		t.Errorf("expected scheduled at %v, got %v", scheduled(), task.ScheduledAt)
	}
}

func TestEnsureInstances_WeeklySkipsOtherDays(t *testing.T) {
	// Weekday set {1} is Tuesday; the test day is a Monday.
	fx := newFixture(func(r *routine.Routine) {
		r.Frequency = routine.FreqWeekly
		r.DaysOfWeek = []int32{1}
	})
	created, err := fx.engine.EnsureInstancesForDate(context.Background(), testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 0 {
		t.Errorf("Tuesday-only routine must not instantiate on Monday, got %d", created)
	}
}

func TestEnsureInstances_OnceMatchesTargetOnly(t *testing.T) {
	target := testDay.AddDate(0, 0, 3)
	fx := newFixture(func(r *routine.Routine) {
		r.Frequency = routine.FreqOnce
		r.TargetDate = &target
	})
	ctx := context.Background()

	if created, _ := fx.engine.EnsureInstancesForDate(ctx, testDay); created != 0 {
		t.Errorf("one-off must not instantiate before its target date, got %d", created)
	}
	if created, _ := fx.engine.EnsureInstancesForDate(ctx, target); created != 1 {
		t.Error("one-off must instantiate on its target date")
	}
}

func TestEnsureInstances_InvalidRoutineSkipped(t *testing.T) {
	// A broken weekly routine must not take down the pass for the rest.
	broken := &routine.Routine{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		Name:      "Broken",
		TimeOfDay: "09:00",
		Frequency: routine.FreqWeekly, // no weekday set
		Active:    true,
	}
	fx := newFixture()
	routines := &fakeRoutines{items: []*routine.Routine{broken, fx.routine}}
	tasks := newFakeTasks(routines)
	eng := New(routines, tasks, fx.alerts, &fakeLinks{}, &fakeUsers{}, fx.notifier, fx.clock, zerolog.Nop())

	created, err := eng.EnsureInstancesForDate(context.Background(), testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Errorf("valid routine must still instantiate, got %d", created)
	}
}

// -- Reminder pass --

func TestReminderPass_FirstReminderAtDueTime(t *testing.T) {
	fx := newFixture()
	task := fx.instantiate(t)
	fx.clock.Set(scheduled())

	sent, err := fx.engine.RunReminderPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 reminder, got %d", sent)
	}

	got := fx.notifier.forUser(fx.patientID)
	if len(got) != 1 {
		t.Fatalf("expected reminder for patient, got %d", len(got))
	}
	if got[0].Data["type"] != "routine_reminder" {
		t.Errorf("unexpected payload type %q", got[0].Data["type"])
	}
	if got[0].Data["task_id"] != task.ID.String() {
		t.Error("expected task_id in payload")
	}
	if fx.tasks.get(task.ID).AlertCount != 1 {
		t.Errorf("expected alert_count 1, got %d", fx.tasks.get(task.ID).AlertCount)
	}
}

func TestReminderPass_NothingBeforeDueTime(t *testing.T) {
	fx := newFixture()
	fx.instantiate(t)
	fx.clock.Set(scheduled().Add(-1 * time.Minute))

	sent, _ := fx.engine.RunReminderPass(context.Background())
	if sent != 0 {
		t.Errorf("expected no reminders before the scheduled time, got %d", sent)
	}
}

func TestReminderPass_RespectsInterval(t *testing.T) {
	fx := newFixture()
	fx.instantiate(t)
	ctx := context.Background()

	fx.clock.Set(scheduled())
	fx.engine.RunReminderPass(ctx)

	// 3 minutes in: interval is 5 minutes, nothing new.
	fx.clock.Advance(3 * time.Minute)
	if sent, _ := fx.engine.RunReminderPass(ctx); sent != 0 {
		t.Errorf("expected no reminder 3m after the first, got %d", sent)
	}

	// 5 minutes in: second reminder fires.
	fx.clock.Advance(2 * time.Minute)
	if sent, _ := fx.engine.RunReminderPass(ctx); sent != 1 {
		t.Errorf("expected a reminder at the interval, got %d", sent)
	}
	if got := fx.notifier.forUser(fx.patientID); len(got) != 2 {
		t.Errorf("expected 2 reminders total, got %d", len(got))
	}
}

func TestReminderPass_JitterAbsorbsTickDrift(t *testing.T) {
	fx := newFixture()
	fx.instantiate(t)
	ctx := context.Background()

	fx.clock.Set(scheduled())
	fx.engine.RunReminderPass(ctx)

	// 4m55s elapsed: within jitter of the 5 minute interval, send now.
	fx.clock.Advance(5*time.Minute - 5*time.Second)
	if sent, _ := fx.engine.RunReminderPass(ctx); sent != 1 {
		t.Error("expected jitter to allow a slightly early reminder")
	}
}

func TestReminderPass_StopsAtWindowEnd(t *testing.T) {
	fx := newFixture()
	fx.instantiate(t)
	fx.clock.Set(scheduled().Add(30 * time.Minute))

	sent, _ := fx.engine.RunReminderPass(context.Background())
	if sent != 0 {
		t.Errorf("expected no reminders once the window has closed, got %d", sent)
	}
}

func TestReminderPass_ConcurrentPassesSendOnce(t *testing.T) {
	fx := newFixture()
	fx.instantiate(t)
	fx.clock.Set(scheduled())

	var wg sync.WaitGroup
	results := make([]int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sent, _ := fx.engine.RunReminderPass(context.Background())
			results[i] = sent
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range results {
		total += n
	}
	if total != 1 {
		t.Errorf("expected exactly 1 reminder across concurrent passes, got %d", total)
	}
}

// -- Missed pass --

func TestMissedPass_MarksAndEscalates(t *testing.T) {
	fx := newFixture()
	task := fx.instantiate(t)
	fx.clock.Set(scheduled().Add(30 * time.Minute))

	missed, err := fx.engine.RunMissedPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missed != 1 {
		t.Fatalf("expected 1 missed task, got %d", missed)
	}
	if fx.tasks.get(task.ID).Status != tasklog.StatusMissed {
		t.Error("expected task status missed")
	}

	alerts := fx.alerts.all()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Kind != alert.KindMissedTask || a.Status != alert.StatusActive {
		t.Errorf("unexpected alert: kind=%q status=%q", a.Kind, a.Status)
	}
	if a.TaskID == nil || *a.TaskID != task.ID {
		t.Error("alert must reference the missed task")
	}
	// The message carries the routine name and the scheduled time so a
	// caregiver knows what was missed and when without opening the app.
	if !strings.Contains(a.Message, "Morning medication") || !strings.Contains(a.Message, "08:00 AM") {
		t.Errorf("alert message must name the routine and its scheduled time, got %q", a.Message)
	}

	for _, id := range []uuid.UUID{fx.caregiverID, fx.adminID} {
		got := fx.notifier.forUser(id)
		if len(got) != 1 {
			t.Fatalf("expected escalation for %s, got %d", id, len(got))
		}
		if got[0].Data["type"] != "escalation" {
			t.Errorf("unexpected payload type %q", got[0].Data["type"])
		}
		if got[0].Data["alert_id"] != a.ID.String() {
			t.Error("expected alert_id in escalation payload")
		}
	}
	// The patient is not notified about the escalation.
	if got := fx.notifier.forUser(fx.patientID); len(got) != 0 {
		t.Errorf("patient must not receive escalations, got %d", len(got))
	}
}

func TestMissedPass_NothingInsideWindow(t *testing.T) {
	fx := newFixture()
	task := fx.instantiate(t)
	fx.clock.Set(scheduled().Add(29 * time.Minute))

	missed, _ := fx.engine.RunMissedPass(context.Background())
	if missed != 0 {
		t.Errorf("expected no missed tasks inside the window, got %d", missed)
	}
	if fx.tasks.get(task.ID).Status != tasklog.StatusPending {
		t.Error("task must stay pending inside the window")
	}
}

func TestMissedPass_EscalationDisabledStillRecordsAlert(t *testing.T) {
	fx := newFixture(func(r *routine.Routine) { r.EscalationEnabled = false })
	fx.instantiate(t)
	fx.clock.Set(scheduled().Add(30 * time.Minute))

	missed, _ := fx.engine.RunMissedPass(context.Background())
	if missed != 1 {
		t.Fatalf("expected 1 missed task, got %d", missed)
	}
	if len(fx.alerts.all()) != 1 {
		t.Error("alert must be recorded even with escalation disabled")
	}
	if len(fx.notifier.all()) != 0 {
		t.Errorf("no notifications expected with escalation disabled, got %d", len(fx.notifier.all()))
	}
}

func TestMissedPass_ConcurrentPassesEscalateOnce(t *testing.T) {
	fx := newFixture()
	fx.instantiate(t)
	fx.clock.Set(scheduled().Add(30 * time.Minute))

	var wg sync.WaitGroup
	results := make([]int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			missed, _ := fx.engine.RunMissedPass(context.Background())
			results[i] = missed
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range results {
		total += n
	}
	if total != 1 {
		t.Errorf("expected exactly 1 missed transition across concurrent passes, got %d", total)
	}
	if len(fx.alerts.all()) != 1 {
		t.Errorf("expected exactly 1 alert, got %d", len(fx.alerts.all()))
	}
	if got := fx.notifier.forUser(fx.caregiverID); len(got) != 1 {
		t.Errorf("expected exactly 1 caregiver escalation, got %d", len(got))
	}
}

func TestMissedPass_AlertFailureDoesNotBlockOthers(t *testing.T) {
	fx := newFixture()
	second := &routine.Routine{
		ID:                 uuid.New(),
		PatientID:          fx.patientID,
		Name:               "Evening walk",
		TimeOfDay:          "08:00",
		Frequency:          routine.FreqDaily,
		AlertIntervalMins:  5,
		ResponseWindowMins: 30,
		EscalationEnabled:  true,
		Active:             true,
	}
	routines := &fakeRoutines{items: []*routine.Routine{fx.routine, second}}
	tasks := newFakeTasks(routines)
	users := &fakeUsers{
		users:  map[uuid.UUID]*identity.User{fx.patientID: {ID: fx.patientID, FullName: "Rose Martin"}},
		admins: []uuid.UUID{fx.adminID},
	}
	eng := New(routines, tasks, fx.alerts, &fakeLinks{}, users, fx.notifier, fx.clock, zerolog.Nop())
	ctx := context.Background()

	if _, err := eng.EnsureInstancesForDate(ctx, testDay); err != nil {
		t.Fatalf("instantiation failed: %v", err)
	}
	failing := tasks.byRoutine(fx.routine.ID)
	fx.alerts.failFor[failing.ID] = true

	fx.clock.Set(scheduled().Add(30 * time.Minute))
	missed, err := eng.RunMissedPass(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missed != 2 {
		t.Errorf("both tasks must be marked missed, got %d", missed)
	}
	if len(fx.alerts.all()) != 1 {
		t.Errorf("expected 1 alert from the healthy task, got %d", len(fx.alerts.all()))
	}
}

// Completing during the window, then the missed pass runs: the task stays
// completed and nothing escalates.
func TestMissedPass_CompletedTaskNotTouched(t *testing.T) {
	fx := newFixture()
	task := fx.instantiate(t)

	fx.tasks.mu.Lock()
	fx.tasks.store[task.ID].Status = tasklog.StatusCompleted
	fx.tasks.mu.Unlock()

	fx.clock.Set(scheduled().Add(30 * time.Minute))
	missed, _ := fx.engine.RunMissedPass(context.Background())
	if missed != 0 {
		t.Errorf("completed task must not be marked missed, got %d", missed)
	}
	if len(fx.alerts.all()) != 0 {
		t.Error("no alert expected for a completed task")
	}
}
