package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/medtrack/field-gateway/docs"
	"github.com/medtrack/field-gateway/internal/api/handler"
	"github.com/medtrack/field-gateway/internal/api/middleware"
	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Sessions ports.SessionService
	Visits   ports.VisitService
	Entities ports.EntityBackend
	// Health maps dependency names ("mongodb", "redis", "backend") to probes.
	Health       map[string]ports.Pinger
	Logger       zerolog.Logger
	SecureCookie bool
	// Registerer receives the HTTP metrics. Nil means the default registry.
	Registerer prometheus.Registerer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Logger)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(deps.Logger))
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "medtrack",
		Subsystem:  "http",
		Registerer: reg,
	}))

	sessions := deps.Sessions
	withSession := middleware.Session(sessions, deps.Logger)
	can := func(r domain.Resource, a domain.Action) echo.MiddlewareFunc {
		return middleware.Require(sessions, r, a)
	}

	// --- Auth routes ---
	authHandler := handler.NewAuthHandler(sessions, deps.SecureCookie)
	e.POST("/auth/login", authHandler.Login)
	e.POST("/auth/register", authHandler.Register)
	e.POST("/auth/logout", authHandler.Logout, withSession)

	// --- Session ---
	sessionHandler := handler.NewSessionHandler(sessions)
	sess := e.Group("/session", withSession)
	sess.GET("", sessionHandler.Current)
	sess.GET("/capabilities", sessionHandler.Capabilities)

	// --- Visits ---
	visitHandler := handler.NewVisitHandler(deps.Visits)
	v := e.Group("/visits", withSession)
	v.POST("/start", visitHandler.StartVisit, can(domain.ResourceVisits, domain.ActionStart))
	v.PUT("/:id/end", visitHandler.EndVisit, can(domain.ResourceVisits, domain.ActionEnd))
	v.PUT("/:id/cancel", visitHandler.CancelVisit, can(domain.ResourceVisits, domain.ActionCancel))
	v.GET("/user/:user_id/active", visitHandler.GetActiveVisit, can(domain.ResourceVisits, domain.ActionRead))
	v.GET("/:id", visitHandler.GetVisit, can(domain.ResourceVisits, domain.ActionRead))
	v.GET("", visitHandler.ListVisits, can(domain.ResourceVisits, domain.ActionRead))
	v.PUT("/:id", visitHandler.EditVisit, can(domain.ResourceVisits, domain.ActionUpdate))
	v.DELETE("/:id", visitHandler.DeleteVisit, can(domain.ResourceVisits, domain.ActionDelete))

	// --- Entity proxy ---
	entityHandler := handler.NewEntityHandler(sessions, deps.Entities)
	ent := e.Group("/api", withSession)
	ent.Any("/:resource", entityHandler.Proxy)
	ent.Any("/:resource/*", entityHandler.Proxy)

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler(deps.Health)
	e.GET("/health", healthHandler.Liveness)       // liveness  – is the process alive?
	e.GET("/health/ready", healthHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}
