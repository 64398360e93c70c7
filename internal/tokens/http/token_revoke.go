package http

import (
	"net/http"
	"strings"

	"github.com/contribux/tokend/internal/tokens/service"
	"github.com/contribux/tokend/pkg/httpx"
	"github.com/contribux/tokend/pkg/slogx"
)

// RevokeHandler serves POST /v1/tokens/revoke following the RFC 7009 spec.
// It revokes refresh tokens only. Access tokens expire naturally. All tokens
// even if invalid/unknown return 200 OK to prevent token scanning attacks.
type RevokeHandler struct {
	RevocationService *service.RevocationService
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	token := r.Form.Get("token")
	tokenTypeHint := r.Form.Get("token_type_hint")

	if token == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	// 3. Revoke the token. Only refresh tokens are revocable.
	if tokenTypeHint == "" || tokenTypeHint == "refresh_token" {
		if err := h.RevocationService.Revoke(ctx, token); err != nil {
			// Per RFC 7009, the server responds 200 OK even if the token is invalid/unknown.
			log.Warn("revoke refresh failed", "err", err)
		}
	}

	// 4. Return 200 OK with empty body per spec
	httpx.NoCache(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}
