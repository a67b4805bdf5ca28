package tasklog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type taskRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &taskRepoPG{pool: pool}
}

const taskCols = `id, routine_id, date, scheduled_at, status, completed_by,
	acknowledged_at, last_notified_at, alert_count, created_at, updated_at`

func scanTask(row pgx.Row) (*TaskLog, error) {
	var t TaskLog
	err := row.Scan(&t.ID, &t.RoutineID, &t.Date, &t.ScheduledAt, &t.Status, &t.CompletedBy,
		&t.AcknowledgedAt, &t.LastNotifiedAt, &t.AlertCount, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *taskRepoPG) CreateIfAbsent(ctx context.Context, t *TaskLog) (bool, error) {
	t.ID = uuid.New()
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO task_log (id, routine_id, date, scheduled_at, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (routine_id, date) DO NOTHING`,
		t.ID, t.RoutineID, t.Date, t.ScheduledAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TaskLog, error) {
	return scanTask(r.pool.QueryRow(ctx,
		`SELECT `+taskCols+` FROM task_log WHERE id = $1`, id))
}

func (r *taskRepoPG) ListDuePending(ctx context.Context, now time.Time) ([]DueTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.routine_id, t.date, t.scheduled_at, t.status, t.completed_by,
			t.acknowledged_at, t.last_notified_at, t.alert_count, t.created_at, t.updated_at,
			r.id, r.patient_id, r.name, r.time_of_day, r.frequency, r.days_of_week,
			r.target_date, r.alert_interval_mins, r.response_window_mins,
			r.escalation_enabled, r.active, r.deleted, r.created_at
		FROM task_log t
		JOIN routine r ON r.id = t.routine_id
		WHERE t.status = 'pending' AND t.scheduled_at <= $1
		ORDER BY t.scheduled_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []DueTask
	for rows.Next() {
		var d DueTask
		t, rt := &d.Task, &d.Routine
		err := rows.Scan(&t.ID, &t.RoutineID, &t.Date, &t.ScheduledAt, &t.Status, &t.CompletedBy,
			&t.AcknowledgedAt, &t.LastNotifiedAt, &t.AlertCount, &t.CreatedAt, &t.UpdatedAt,
			&rt.ID, &rt.PatientID, &rt.Name, &rt.TimeOfDay, &rt.Frequency, &rt.DaysOfWeek,
			&rt.TargetDate, &rt.AlertIntervalMins, &rt.ResponseWindowMins,
			&rt.EscalationEnabled, &rt.Active, &rt.Deleted, &rt.CreatedAt)
		if err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func (r *taskRepoPG) RecordReminder(ctx context.Context, id uuid.UUID, prevCount int, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_log
		SET alert_count = alert_count + 1, last_notified_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND alert_count = $2`,
		id, prevCount, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepoPG) MarkMissed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_log SET status = 'missed', updated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepoPG) Complete(ctx context.Context, id, userID uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_log
		SET status = 'completed', completed_by = $2, acknowledged_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'missed')`, id, userID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepoPG) UndoComplete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE task_log
		SET status = 'pending', completed_by = NULL, acknowledged_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'completed'`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepoPG) ListByPatientAndDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]*TaskLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColsPrefixed+`
		FROM task_log t
		JOIN routine r ON r.id = t.routine_id
		WHERE r.patient_id = $1 AND t.date = $2
		ORDER BY t.scheduled_at`, patientID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TaskLog
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const taskColsPrefixed = `t.id, t.routine_id, t.date, t.scheduled_at, t.status, t.completed_by,
	t.acknowledged_at, t.last_notified_at, t.alert_count, t.created_at, t.updated_at`

func (r *taskRepoPG) PurgeUpcomingByRoutine(ctx context.Context, routineID uuid.UUID, fromDate time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM task_log
		WHERE routine_id = $1 AND status = 'pending' AND date >= $2`,
		routineID, fromDate)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
