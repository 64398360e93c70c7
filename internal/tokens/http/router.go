package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/contribux/tokend/internal/tokens/service"
	"github.com/contribux/tokend/internal/tokens/store"
	"github.com/contribux/tokend/pkg/httpx"
	"github.com/contribux/tokend/pkg/jwtx"
	"github.com/contribux/tokend/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keyManager   *jwtx.KeyManager
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store             store.Store
	TokenService      *service.TokenService
	RevocationService *service.RevocationService
}

func NewRouter(
	km *jwtx.KeyManager,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keyManager:   km,
		verifier:     km.Verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerTokens()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerTokens() {
	// POST /internal/v1/tokens/issue - trusted upstream only; the auth
	// ceremony has already verified the user, we just mint the pair.
	issueHandler := &IssueHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /internal/v1/tokens/issue",
		httpx.Chain(issueHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /rotate - strict rate limit by IP (credential-bearing endpoint)
	rotateHandler := &RotateHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /v1/tokens/rotate",
		httpx.Chain(rotateHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /revoke - moderate rate limit
	revokeHandler := &RevokeHandler{RevocationService: r.RevocationService}
	r.Mux.Handle("POST /v1/tokens/revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /revoke-all - bearer-authenticated, acts on the caller's own tokens
	revokeAllHandler := &RevokeAllHandler{RevocationService: r.RevocationService}
	r.Mux.Handle("POST /v1/tokens/revoke-all",
		httpx.Chain(revokeAllHandler,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	// Introspection endpoint (RFC7662) - requires authentication, moderate limit
	introspectHandler := &IntrospectHandler{Verifier: r.verifier}
	r.Mux.Handle("POST /v1/tokens/introspect",
		httpx.Chain(introspectHandler,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	// GET /jwks.json - public endpoint with high limit
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keyManager.KeySet),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keyManager))
}
