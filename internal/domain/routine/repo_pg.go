package routine

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type routineRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &routineRepoPG{pool: pool}
}

const routineCols = `id, patient_id, name, time_of_day, frequency, days_of_week,
	target_date, alert_interval_mins, response_window_mins,
	escalation_enabled, active, deleted, created_at`

func (r *routineRepoPG) scanRoutine(row pgx.Row) (*Routine, error) {
	var rt Routine
	err := row.Scan(&rt.ID, &rt.PatientID, &rt.Name, &rt.TimeOfDay, &rt.Frequency, &rt.DaysOfWeek,
		&rt.TargetDate, &rt.AlertIntervalMins, &rt.ResponseWindowMins,
		&rt.EscalationEnabled, &rt.Active, &rt.Deleted, &rt.CreatedAt)
	return &rt, err
}

func (r *routineRepoPG) Create(ctx context.Context, rt *Routine) error {
	rt.ID = uuid.New()
	return r.pool.QueryRow(ctx, `
		INSERT INTO routine (id, patient_id, name, time_of_day, frequency, days_of_week,
			target_date, alert_interval_mins, response_window_mins,
			escalation_enabled, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		rt.ID, rt.PatientID, rt.Name, rt.TimeOfDay, rt.Frequency, rt.DaysOfWeek,
		rt.TargetDate, rt.AlertIntervalMins, rt.ResponseWindowMins,
		rt.EscalationEnabled, rt.Active).Scan(&rt.CreatedAt)
}

func (r *routineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Routine, error) {
	return r.scanRoutine(r.pool.QueryRow(ctx,
		`SELECT `+routineCols+` FROM routine WHERE id = $1 AND deleted = FALSE`, id))
}

func (r *routineRepoPG) Update(ctx context.Context, rt *Routine) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE routine SET name=$2, time_of_day=$3, frequency=$4, days_of_week=$5,
			target_date=$6, alert_interval_mins=$7, response_window_mins=$8,
			escalation_enabled=$9, active=$10
		WHERE id = $1 AND deleted = FALSE`,
		rt.ID, rt.Name, rt.TimeOfDay, rt.Frequency, rt.DaysOfWeek,
		rt.TargetDate, rt.AlertIntervalMins, rt.ResponseWindowMins,
		rt.EscalationEnabled, rt.Active)
	return err
}

func (r *routineRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE routine SET deleted = TRUE, active = FALSE WHERE id = $1`, id)
	return err
}

func (r *routineRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Routine, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM routine WHERE patient_id = $1 AND deleted = FALSE`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+routineCols+` FROM routine
		 WHERE patient_id = $1 AND deleted = FALSE
		 ORDER BY time_of_day LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Routine
	for rows.Next() {
		rt, err := r.scanRoutine(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rt)
	}
	return items, total, rows.Err()
}

func (r *routineRepoPG) ListActive(ctx context.Context) ([]*Routine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+routineCols+` FROM routine WHERE active = TRUE AND deleted = FALSE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Routine
	for rows.Next() {
		rt, err := r.scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rt)
	}
	return items, rows.Err()
}
