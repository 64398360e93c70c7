package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/contribux/tokend/internal/tokens/domain"
)

type usersRepo struct {
	q querier
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, email, username, provider, locked_at, created_at, updated_at
		FROM users
		WHERE id = ?`, id)

	var (
		u        domain.User
		lockedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Provider, &lockedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.LockedAt = mapNullTimePtr(lockedAt)
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, email, username, provider, locked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.Provider, mapOptionalTime(u.LockedAt), u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (r *usersRepo) LockUser(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx, `
		UPDATE users
		SET locked_at = ?, updated_at = ?
		WHERE id = ? AND locked_at IS NULL`,
		now, now, userID)
	return err
}

func (r *usersRepo) UnlockUser(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE users
		SET locked_at = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), userID)
	return err
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	return err
}
