package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpilot-backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, email, display_name, vehicle_vin, is_active, created_at, last_seen_at
		FROM users WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.VehicleVIN,
		&user.IsActive, &user.CreatedAt, &user.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// TouchLastSeen updates the user's activity timestamp. Best effort; callers
// ignore the result.
func (r *UserRepo) TouchLastSeen(ctx context.Context, id uuid.UUID) {
	r.pool.Exec(ctx, "UPDATE users SET last_seen_at = NOW() WHERE id = $1", id)
}
