package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"clinicflow/clinic"
	"clinicflow/pagination"
)

// listQueue serves the caller's own queue. ADMIN may read any role's queue;
// the personal doctor and nurse queues are then computed for the admin's id
// unless provider_id names someone else.
func (s *Server) listQueue(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	role, err := clinic.ParseRole(strings.ToUpper(c.Param("role")))
	if err != nil {
		return err
	}
	if actor.Role != role && actor.Role != clinic.RoleAdmin {
		return echo.NewHTTPError(http.StatusForbidden, "role "+string(actor.Role)+" may not read the "+string(role)+" queue")
	}

	providerID := actor.ID
	if actor.Role == clinic.RoleAdmin && c.QueryParam("provider_id") != "" {
		if providerID, err = queryID(c, "provider_id"); err != nil {
			return err
		}
	}

	p := pagination.FromContext(c)
	entries, total, err := s.eng.Queues.ListFor(c.Request().Context(), role, providerID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(newQueueResponses(entries), total, p))
}
