package http

import (
	"net/http"
	"strings"

	"github.com/contribux/tokend/pkg/httpx"
	"github.com/contribux/tokend/pkg/jwtx"
	"github.com/contribux/tokend/pkg/slogx"
)

// IntrospectionResponse represents the RFC7662 introspection response.
// When a token is inactive, only the "active" field should be returned.
type IntrospectionResponse struct {
	Active bool `json:"active"`

	// Optional fields (only present when active=true)
	Username   string   `json:"username,omitempty"`
	TokenType  string   `json:"token_type,omitempty"`
	Exp        int64    `json:"exp,omitempty"`
	Iat        int64    `json:"iat,omitempty"`
	Sub        string   `json:"sub,omitempty"`
	Aud        []string `json:"aud,omitempty"`
	Iss        string   `json:"iss,omitempty"`
	Jti        string   `json:"jti,omitempty"`
	SessionID  string   `json:"sid,omitempty"`
	AuthMethod string   `json:"auth_method,omitempty"`
}

// IntrospectHandler serves POST /v1/tokens/introspect following RFC7662.
// It verifies the provided access token and returns metadata about it.
type IntrospectHandler struct {
	Verifier jwtx.Verifier
}

func (h *IntrospectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	if token == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	// 3. Verify. Per RFC 7662 an invalid token is not an error, it is an
	// inactive token.
	claims, err := h.Verifier.Verify(token)
	if err != nil {
		log.Debug("introspected token inactive", "err", err)
		httpx.WriteJSON(w, http.StatusOK, IntrospectionResponse{Active: false})
		return
	}

	resp := IntrospectionResponse{
		Active:     true,
		Username:   claims.Username,
		TokenType:  "Bearer",
		Sub:        claims.Subject,
		Iss:        claims.Issuer,
		Aud:        claims.Audience,
		Jti:        claims.ID,
		SessionID:  claims.SID,
		AuthMethod: claims.AuthMethod,
	}
	if claims.ExpiresAt != nil {
		resp.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		resp.Iat = claims.IssuedAt.Unix()
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}
