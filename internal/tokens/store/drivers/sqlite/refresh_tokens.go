package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/contribux/tokend/internal/tokens/domain"
)

type refreshTokensRepo struct {
	q querier
}

const refreshTokenColumns = `id, user_id, session_id, token_hash, auth_method,
	expires_at, revoked_at, replaced_by, created_at`

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, session_id, token_hash, auth_method, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.SessionID, t.TokenHash, t.AuthMethod, t.ExpiresAt, t.CreatedAt,
	)
	return err
}

func (r *refreshTokensRepo) GetRefreshTokenByID(
	ctx context.Context,
	id string,
) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE id = ?`, id)
	return scanRefreshToken(row)
}

func (r *refreshTokensRepo) GetActiveRefreshTokenByHash(
	ctx context.Context,
	hash string,
	now time.Time,
) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?`,
		hash, now)
	return scanRefreshToken(row)
}

func (r *refreshTokensRepo) GetAnyRefreshTokenByHash(
	ctx context.Context,
	hash string,
) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE token_hash = ?`, hash)
	return scanRefreshToken(row)
}

// MarkRefreshTokenRotated is the single-use guard. The WHERE clause only
// matches an unrevoked row, so exactly one of any number of concurrent
// rotations can succeed.
func (r *refreshTokensRepo) MarkRefreshTokenRotated(
	ctx context.Context,
	id, successorID string,
	now time.Time,
) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?, replaced_by = ?
		WHERE id = ? AND revoked_at IS NULL`,
		now, successorID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		now, id)
	return err
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(
	ctx context.Context,
	userID string,
	now time.Time,
) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?
		WHERE user_id = ? AND revoked_at IS NULL`,
		now, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(
	ctx context.Context,
	now time.Time,
) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRefreshToken(row *sql.Row) (domain.RefreshToken, error) {
	var (
		t          domain.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.SessionID, &t.TokenHash, &t.AuthMethod,
		&t.ExpiresAt, &revokedAt, &replacedBy, &t.CreatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.RevokedAt = mapNullTimePtr(revokedAt)
	t.ReplacedBy = mapNullStringPtr(replacedBy)
	return t, nil
}
