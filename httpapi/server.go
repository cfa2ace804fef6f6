// Package httpapi exposes the engine over JSON/HTTP with echo. Handlers
// translate requests into engine calls and engine errors into statuses;
// every business rule stays in the engine.
package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"clinicflow/auth"
	"clinicflow/clinic"
	"clinicflow/engine"
)

// Server holds the engine the handlers call.
type Server struct {
	eng      *engine.Engine
	logger   zerolog.Logger
	currency string
}

// Options configures the echo instance built by Handler.
type Options struct {
	// Auth resolves the actor of every /api/v1 request.
	Auth echo.MiddlewareFunc
	// Health serves GET /health; a static "ok" is served when nil.
	Health echo.HandlerFunc
	// BodyLimit caps request bodies, e.g. "1M".
	BodyLimit string
	// Currency labels money in billing responses.
	Currency string
}

func NewServer(eng *engine.Engine, logger zerolog.Logger) *Server {
	return &Server{eng: eng, logger: logger}
}

// Handler builds the echo instance with middleware and routes.
func (s *Server) Handler(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	s.currency = opts.Currency

	bodyLimit := opts.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "1M"
	}
	e.Use(Recovery(s.logger))
	e.Use(RequestID())
	e.Use(Logger(s.logger))
	e.Use(echomw.BodyLimit(bodyLimit))

	health := opts.Health
	if health == nil {
		health = func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		}
	}
	e.GET("/health", health)

	api := e.Group("/api/v1")
	if opts.Auth != nil {
		api.Use(opts.Auth)
	}
	s.registerRoutes(api)
	return e
}

func (s *Server) registerRoutes(api *echo.Group) {
	clinical := []clinic.Role{clinic.RoleNurse, clinic.RoleDoctor}
	technicians := []clinic.Role{
		clinic.RoleLabTechnician,
		clinic.RoleRadiologyTechnician,
		clinic.RolePharmacist,
		clinic.RoleNurse,
	}

	// Visit transitions enforce their own role table.
	api.POST("/visits", s.createVisit, auth.RequireRole(clinic.RoleReceptionist))
	api.GET("/visits/:id", s.getVisit)
	api.POST("/visits/:id/transition", s.transitionVisit)
	api.POST("/visits/:id/assignments", s.assignVisit, auth.RequireRole(clinic.RoleNurse, clinic.RoleDoctor, clinic.RoleReceptionist))
	api.GET("/visits/:id/timeline", s.visitTimeline)

	api.POST("/batch-orders", s.createOrder, auth.RequireRole(clinic.RoleDoctor))
	api.GET("/batch-orders/:id", s.getOrder)
	api.POST("/batch-orders/:id/cancel", s.cancelOrder, auth.RequireRole(clinic.RoleDoctor))
	api.POST("/batch-orders/:id/items/:itemId/start", s.startItem, auth.RequireRole(technicians...))
	api.POST("/batch-orders/:id/items/:itemId/complete", s.completeItem, auth.RequireRole(technicians...))
	api.POST("/batch-orders/:id/items/:itemId/assignments", s.assignItem, auth.RequireRole(clinical...))

	api.POST("/billing/:id/payments", s.recordPayment, auth.RequireRole(clinic.RoleBillingOfficer, clinic.RoleReceptionist))
	api.GET("/billing/:id", s.getBilling)

	api.GET("/queues/:role", s.listQueue)
}

func actorOf(c echo.Context) (clinic.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return clinic.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	return actor, nil
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, clinic.Errorf(clinic.ErrValidation, "%s is not a valid id", name)
	}
	return id, nil
}

func queryID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.QueryParam(name))
	if err != nil {
		return uuid.Nil, clinic.Errorf(clinic.ErrValidation, "%s is not a valid id", name)
	}
	return id, nil
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return clinic.Errorf(clinic.ErrValidation, "invalid request body: %v", err)
	}
	return nil
}
