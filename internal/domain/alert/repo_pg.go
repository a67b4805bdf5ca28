package alert

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &alertRepoPG{pool: pool}
}

const alertCols = `id, patient_id, routine_id, task_id, kind, status, message,
	latitude, longitude, handled_by, handled_at, created_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.PatientID, &a.RoutineID, &a.TaskID, &a.Kind, &a.Status, &a.Message,
		&a.Latitude, &a.Longitude, &a.HandledBy, &a.HandledAt, &a.CreatedAt)
	return &a, err
}

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) error {
	a.ID = uuid.New()
	return r.pool.QueryRow(ctx, `
		INSERT INTO alert (id, patient_id, routine_id, task_id, kind, status, message, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, 'active', $6, $7, $8)
		RETURNING created_at`,
		a.ID, a.PatientID, a.RoutineID, a.TaskID, a.Kind, a.Message, a.Latitude, a.Longitude).
		Scan(&a.CreatedAt)
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(r.pool.QueryRow(ctx,
		`SELECT `+alertCols+` FROM alert WHERE id = $1`, id))
}

func (r *alertRepoPG) Handle(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alert SET status = 'handled', handled_by = $2, handled_at = NOW()
		WHERE id = $1 AND status = 'active'`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *alertRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Alert, int, error) {
	where := "WHERE patient_id = $1"
	args := []interface{}{f.PatientID}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM alert "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM alert %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		alertCols, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
