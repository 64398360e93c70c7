package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/contribux/tokend/internal/tokens/service"
	"github.com/contribux/tokend/pkg/httpx"
	"github.com/contribux/tokend/pkg/slogx"
)

// TokenResponse is the body returned by the issue and rotate endpoints.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// IssueHandler serves POST /internal/v1/tokens/issue. The route is internal:
// whatever fronts this service (the auth ceremony) has already authenticated
// the user and created the session, so the body just names both.
type IssueHandler struct {
	TokenService *service.TokenService
}

type issueRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (h *IssueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/json") {
		ErrInvalidBody.WriteError(w)
		return
	}

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrInvalidBody.WriteError(w)
		return
	}
	if req.UserID == "" || req.SessionID == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.IssueInitialPair(ctx, req.UserID, req.SessionID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidGrant) {
			ErrInvalidGrant.WriteError(w)
			return
		}
		log.Error("token issue failed", "err", err)
		ErrServerError.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
	})
}
