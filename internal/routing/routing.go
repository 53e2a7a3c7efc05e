package routing

import (
	"net/http"

	"studyhall/internal/handlers"
	"studyhall/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the configuration needed for setting up routes
type Config struct {
	Handlers  *handlers.Handler
	Logger    zerolog.Logger
	RateLimit *middleware.RateLimitConfig
}

// SetupRouter creates and configures the HTTP router with all routes and middleware
func SetupRouter(cfg Config) http.Handler {
	h := cfg.Handlers
	mux := http.NewServeMux()

	// Create CrossOriginProtection for CSRF protection
	cop := http.NewCrossOriginProtection()
	protect := func(fn http.HandlerFunc) http.Handler {
		return cop.Handler(fn)
	}

	// Accounts
	mux.Handle("POST /api/users", protect(h.HandleRegister))
	mux.Handle("POST /api/login", protect(h.HandleLogin))
	mux.HandleFunc("GET /api/me", h.HandleMe)
	mux.Handle("PUT /api/users/{email}/role", protect(h.HandleChangeRole))
	mux.Handle("DELETE /api/users/{email}", protect(h.HandleDeleteUser))

	// Bans
	mux.HandleFunc("GET /api/bans/durations", h.HandleBanDurations)
	mux.Handle("POST /api/bans", protect(h.HandleApplyBan))
	mux.HandleFunc("GET /api/users/{email}/ban", h.HandleActiveBan)

	// Escalations
	mux.HandleFunc("GET /api/escalations", h.HandleListEscalations)
	mux.Handle("POST /api/escalations", protect(h.HandleEscalate))
	mux.Handle("POST /api/escalations/{id}/resolve", protect(h.HandleResolveEscalation))

	// Chat and flag review
	mux.HandleFunc("GET /api/rooms/{room}/messages", h.HandleListMessages)
	mux.Handle("POST /api/rooms/{room}/messages", protect(h.HandlePostMessage))
	mux.Handle("POST /api/messages/{id}/flag", protect(h.HandleFlagMessage))
	mux.Handle("POST /api/messages/{id}/resolve", protect(h.HandleResolveFlag))

	// Moderation views
	mux.HandleFunc("GET /api/moderation/flagged", h.HandleListFlagged)
	mux.HandleFunc("GET /api/moderation/dashboard", h.HandleDashboard)
	mux.HandleFunc("GET /api/audit", h.HandleAuditLog)

	// Notifications
	mux.HandleFunc("GET /api/notifications", h.HandleNotifications)
	mux.Handle("POST /api/notifications/read", protect(h.HandleNotificationsMarkRead))

	mux.Handle("GET /metrics", promhttp.Handler())

	// Apply middleware in order (outermost first, innermost last)
	var handler http.Handler = mux

	// 1. Limit request body size (innermost - runs first on request)
	handler = middleware.LimitBodyMiddleware(handler)

	// 2. Attach the gateway-authenticated identity
	handler = middleware.IdentityMiddleware(handler)

	// 3. Apply rate limiting
	rateLimitConfig := cfg.RateLimit
	if rateLimitConfig == nil {
		rateLimitConfig = middleware.NewDefaultRateLimitConfig()
	}
	handler = middleware.RateLimitMiddleware(rateLimitConfig)(handler)

	// 4. Apply security headers
	handler = middleware.SecurityHeadersMiddleware(handler)

	// 5. Apply logging middleware
	handler = middleware.LoggingMiddleware(cfg.Logger)(handler)

	// 6. Trace every request (outermost)
	handler = otelhttp.NewHandler(handler, "studyhall",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	return handler
}
