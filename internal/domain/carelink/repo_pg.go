package carelink

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type careLinkRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &careLinkRepoPG{pool: pool}
}

const careLinkCols = `id, patient_id, caregiver_id, level, approved, created_at, approved_at, approved_by`

func (r *careLinkRepoPG) scanLink(row pgx.Row) (*CareLink, error) {
	var l CareLink
	err := row.Scan(&l.ID, &l.PatientID, &l.CaregiverID, &l.Level, &l.Approved,
		&l.CreatedAt, &l.ApprovedAt, &l.ApprovedBy)
	return &l, err
}

func (r *careLinkRepoPG) Create(ctx context.Context, l *CareLink) error {
	l.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO care_link (id, patient_id, caregiver_id, level, approved)
		VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.PatientID, l.CaregiverID, l.Level, l.Approved)
	return err
}

func (r *careLinkRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CareLink, error) {
	return r.scanLink(r.pool.QueryRow(ctx, `SELECT `+careLinkCols+` FROM care_link WHERE id = $1`, id))
}

func (r *careLinkRepoPG) Approve(ctx context.Context, id, approverID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE care_link SET approved = TRUE, approved_at = $2, approved_by = $3
		WHERE id = $1`,
		id, time.Now().UTC(), approverID)
	return err
}

func (r *careLinkRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM care_link WHERE id = $1`, id)
	return err
}

func (r *careLinkRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*CareLink, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+careLinkCols+` FROM care_link WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *careLinkRepoPG) ListByCaregiver(ctx context.Context, caregiverID uuid.UUID) ([]*CareLink, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+careLinkCols+` FROM care_link WHERE caregiver_id = $1 ORDER BY created_at`, caregiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *careLinkRepoPG) collect(rows pgx.Rows) ([]*CareLink, error) {
	var items []*CareLink
	for rows.Next() {
		l, err := r.scanLink(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *careLinkRepoPG) ApprovedCaregivers(ctx context.Context, patientID uuid.UUID) ([]CaregiverRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT caregiver_id, level FROM care_link
		WHERE patient_id = $1 AND approved = TRUE`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []CaregiverRef
	for rows.Next() {
		var ref CaregiverRef
		if err := rows.Scan(&ref.CaregiverID, &ref.Level); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
