package http

import (
	"net/http"
	"strings"

	"github.com/contribux/tokend/internal/tokens/service"
	"github.com/contribux/tokend/pkg/httpx"
	"github.com/contribux/tokend/pkg/slogx"
)

// RevokeAllHandler serves POST /v1/tokens/revoke-all. The caller must hold a
// valid access token and can only revoke their own refresh tokens. With
// terminate_sessions=true the user's sessions die too, so nothing can be
// re-issued against them.
type RevokeAllHandler struct {
	RevocationService *service.RevocationService
}

func (h *RevokeAllHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromCtx(ctx)
	if userID == "" {
		// AuthnMiddleware should have rejected already; fail closed.
		ErrInvalidGrant.WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		ErrInvalidBody.WriteError(w)
		return
	}
	terminateSessions := strings.EqualFold(r.Form.Get("terminate_sessions"), "true")

	revoked, err := h.RevocationService.RevokeAllForUser(ctx, userID, terminateSessions)
	if err != nil {
		log.Error("bulk revocation failed", "err", err, "user_id", userID)
		ErrServerError.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"revoked":             revoked,
		"sessions_terminated": terminateSessions,
	})
}
