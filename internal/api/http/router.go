package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marketplace-kit/session-service/internal/api/http/handlers"
	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Sessions       *handlers.SessionsHandler
	Verification   *handlers.VerificationHandler
	AuthMiddleware *auth.Middleware
	RateLimiter    *RateLimiter
}

// RegisterRoutes wires HTTP routes. Logout and verify-email stay outside
// the auth middleware: logout must succeed with a dead token, and the
// mailed verification token is its own credential.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api")
	authGroup := api.Group("/auth")

	limited := cfg.RateLimiter.Handle
	authGroup.Post("/register", limited, cfg.Auth.Register)
	authGroup.Post("/login", limited, cfg.Auth.Login)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Post("/verify-email", limited, cfg.Verification.VerifyEmail)

	protected := authGroup.Group("", cfg.AuthMiddleware.Handle)
	protected.Get("/me", cfg.Auth.Me)
	protected.Post("/logout-all", cfg.Auth.LogoutAll)
	protected.Post("/password/change", cfg.Auth.ChangePassword)
	protected.Get("/sessions", cfg.Sessions.ListMine)
	protected.Post("/resend-otp", cfg.Verification.ResendOTP)
	protected.Post("/verify-phone", cfg.Verification.VerifyPhone)
	protected.Post("/resend-email", cfg.Verification.ResendEmail)

	admin := protected.Group("/users", auth.RequireRole(domain.RoleAdmin, domain.RoleSuperAdmin))
	admin.Get("/:id/sessions", cfg.Sessions.ListForUser)
}
