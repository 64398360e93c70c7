package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/contribux/tokend/internal/tokens/service"
	"github.com/contribux/tokend/pkg/httpx"
	"github.com/contribux/tokend/pkg/slogx"
)

// RotateHandler serves POST /v1/tokens/rotate.
// Accepts application/x-www-form-urlencoded per the RFC 6749 framework.
//
// Every rotation failure collapses into the same invalid_grant response.
// An attacker probing with stolen tokens learns nothing about whether a
// token was expired, revoked, or tripped reuse detection; that distinction
// lives in the audit trail only.
type RotateHandler struct {
	TokenService *service.TokenService
}

func (h *RotateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	// 1. Ensure the right content-type
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		ErrInvalidContentType.WriteError(w)
		return
	}

	// 2. Parse the form body
	if err := r.ParseForm(); err != nil {
		ErrInvalidBody.WriteError(w)
		return
	}

	refreshToken := strings.TrimSpace(r.Form.Get("refresh_token"))
	if refreshToken == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Rotate(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRefresh),
			errors.Is(err, service.ErrRefreshExpired),
			errors.Is(err, service.ErrRefreshRevoked),
			errors.Is(err, service.ErrTokenReuse),
			errors.Is(err, service.ErrInvalidGrant):
			ErrInvalidGrant.WriteError(w)
		default:
			log.Error("refresh rotation failed", "err", err)
			ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
	})
}
