package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"clinicflow/clinic"
)

type contextKey string

const actorKey contextKey = "actor"

// Development headers accepted by DevMiddleware.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Verifier turns a bearer token into an actor.
type Verifier interface {
	Verify(token string) (clinic.Actor, error)
}

// WithActor returns ctx carrying actor.
func WithActor(ctx context.Context, actor clinic.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor placed by one of the middlewares.
func ActorFromContext(ctx context.Context) (clinic.Actor, bool) {
	a, ok := ctx.Value(actorKey).(clinic.Actor)
	return a, ok
}

// Middleware requires a valid bearer token on every request it wraps.
func Middleware(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}
			actor, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(withActor(c, actor))
		}
	}
}

// DevMiddleware trusts the X-Actor-ID and X-Actor-Role headers. A bearer
// token, when present, is still verified. Never install it in production.
func DevMiddleware(v Verifier) echo.MiddlewareFunc {
	strict := Middleware(v)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := strict(next)
		return func(c echo.Context) error {
			req := c.Request()
			if req.Header.Get(echo.HeaderAuthorization) != "" {
				return verified(c)
			}
			id, err := uuid.Parse(req.Header.Get(HeaderActorID))
			if err != nil || id == uuid.Nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid "+HeaderActorID)
			}
			role := clinic.Role(strings.ToUpper(strings.TrimSpace(req.Header.Get(HeaderActorRole))))
			if !role.Valid() {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid "+HeaderActorRole)
			}
			return next(withActor(c, clinic.Actor{ID: id, Role: role}))
		}
	}
}

// RequireRole lets the request through when the actor holds one of roles.
// ADMIN always passes.
func RequireRole(roles ...clinic.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
			}
			if actor.Role == clinic.RoleAdmin || actor.Is(roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden, "role "+string(actor.Role)+" may not call this endpoint")
		}
	}
}

func withActor(c echo.Context, actor clinic.Actor) echo.Context {
	c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
	return c
}
