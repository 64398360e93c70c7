package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/contribux/tokend/internal/tokens/domain"
)

type signingKeysRepo struct {
	q querier
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO signing_keys (id, kid, algorithm, private_key_encrypted, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key.ID, key.Kid, key.Algorithm, key.PrivateKeyEncrypted, key.CreatedAt, key.ExpiresAt,
	)
	return err
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at
		FROM signing_keys
		WHERE kid = ?`, kid)
	return scanSigningKey(row)
}

func (r *signingKeysRepo) ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at
		FROM signing_keys
		WHERE retired_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC`, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return collectSigningKeys(rows)
}

func (r *signingKeysRepo) ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at
		FROM signing_keys
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collectSigningKeys(rows)
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE signing_keys
		SET retired_at = ?
		WHERE kid = ? AND retired_at IS NULL`,
		time.Now().UTC(), kid)
	return err
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM signing_keys
		WHERE expires_at <= ?`, time.Now().UTC())
	return err
}

func scanSigningKey(row *sql.Row) (domain.SigningKey, error) {
	var (
		k         domain.SigningKey
		retiredAt sql.NullTime
	)
	err := row.Scan(&k.ID, &k.Kid, &k.Algorithm, &k.PrivateKeyEncrypted, &k.CreatedAt, &retiredAt, &k.ExpiresAt)
	if err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	k.RetiredAt = mapNullTimePtr(retiredAt)
	return k, nil
}

func collectSigningKeys(rows *sql.Rows) ([]domain.SigningKey, error) {
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		var (
			k         domain.SigningKey
			retiredAt sql.NullTime
		)
		if err := rows.Scan(&k.ID, &k.Kid, &k.Algorithm, &k.PrivateKeyEncrypted, &k.CreatedAt, &retiredAt, &k.ExpiresAt); err != nil {
			return nil, err
		}
		k.RetiredAt = mapNullTimePtr(retiredAt)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
