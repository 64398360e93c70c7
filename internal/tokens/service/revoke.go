package service

import (
	"context"
	"errors"
	"time"

	"github.com/contribux/tokend/internal/tokens/store"
	"github.com/contribux/tokend/pkg/cryptox"
	"github.com/contribux/tokend/pkg/slogx"
)

// RevocationService invalidates refresh tokens ahead of their natural expiry.
type RevocationService struct {
	Store store.Store
	Audit AuditSink
}

func (s *RevocationService) audit(ctx context.Context, e AuditEvent) {
	if s.Audit == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.Audit.Emit(ctx, e)
}

// Revoke invalidates a single refresh token by its opaque value. Following
// RFC 7009 the call succeeds even when the token is unknown or already
// revoked; a revocation endpoint must not be an oracle for token validity.
func (s *RevocationService) Revoke(ctx context.Context, refreshOpaque string) error {
	if refreshOpaque == "" {
		return nil
	}
	now := time.Now().UTC()

	fp := cryptox.FingerprintToken(refreshOpaque)
	rt, err := s.Store.RefreshTokens().GetAnyRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.Store.RefreshTokens().RevokeRefreshToken(ctx, rt.ID, now); err != nil {
		return err
	}

	s.audit(ctx, AuditEvent{
		EventType: AuditTokenRevoked,
		UserID:    rt.UserID,
		SessionID: rt.SessionID,
		TokenID:   rt.ID,
		Success:   true,
	})
	return nil
}

// RevokeAllForUser revokes every active refresh token the user holds and
// returns how many were newly revoked. With terminateSessions the user's
// sessions are deleted too, so nothing can be re-issued against them.
func (s *RevocationService) RevokeAllForUser(
	ctx context.Context,
	userID string,
	terminateSessions bool,
) (int64, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	var revoked int64
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID, now)
		if err != nil {
			return err
		}
		revoked = n

		if terminateSessions {
			return tx.Sessions().DeleteAllUserSessions(ctx, userID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.Info("bulk revocation",
		"user_id", userID,
		"revoked", revoked,
		"sessions_terminated", terminateSessions,
	)
	s.audit(ctx, AuditEvent{
		EventType: AuditBulkRevoked,
		UserID:    userID,
		Success:   true,
		Metadata: map[string]string{
			"terminate_sessions": boolString(terminateSessions),
		},
	})
	return revoked, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
