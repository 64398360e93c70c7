package http

import (
	"net/http"

	"github.com/contribux/tokend/pkg/httpx"
	"github.com/contribux/tokend/pkg/jwtx"
)

// JWKSHandler exposes the JSON Web Key Set for public key discovery.
// Symmetric keys never appear here; in HS256 mode the set is empty.
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, keys.PublicJWKS())
	}
}
