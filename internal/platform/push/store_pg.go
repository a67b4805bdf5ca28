package push

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type tokenStorePG struct{ pool *pgxpool.Pool }

func NewTokenStorePG(pool *pgxpool.Pool) TokenStore {
	return &tokenStorePG{pool: pool}
}

func (s *tokenStorePG) Register(ctx context.Context, userID uuid.UUID, token, platform string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_token (id, user_id, token, platform)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET user_id = $2, platform = $4`,
		uuid.New(), userID, token, platform)
	return err
}

func (s *tokenStorePG) Unregister(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM device_token WHERE token = $1`, token)
	return err
}

func (s *tokenStorePG) TokensForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT token FROM device_token WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
