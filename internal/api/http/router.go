package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assistant-gate/internal/api/http/handlers"
	"github.com/spec-kit/assistant-gate/internal/gate"
	"github.com/spec-kit/assistant-gate/internal/ratelimit"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Auth    *handlers.AuthHandler
	Metrics *handlers.MetricsHandler
	Gate    *gate.Middleware
	// Proxy is nil when no upstream is configured; the forwarded routes are then absent.
	Proxy *handlers.ProxyHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Get)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/signup", cfg.Auth.Signup)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Get("/csrf", cfg.Auth.CSRF)

	api.Post("/logout", cfg.Gate.Protect(ratelimit.OperationLogout), cfg.Auth.Logout)
	api.Get("/me", cfg.Gate.Protect(ratelimit.OperationSessionRead), cfg.Auth.Me)

	if cfg.Proxy == nil {
		return
	}
	llm := cfg.Gate.Protect(ratelimit.OperationLLMCall)
	api.All("/llm/*", llm, cfg.Proxy.Forward)

	conversations := cfg.Gate.Protect(ratelimit.OperationConversation)
	api.All("/conversations", conversations, cfg.Proxy.Forward)
	api.All("/conversations/*", conversations, cfg.Proxy.Forward)
}
