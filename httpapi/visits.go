package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"clinicflow/assignment"
	"clinicflow/clinic"
	"clinicflow/pagination"
	"clinicflow/visit"
)

func (s *Server) createVisit(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req createVisitRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	created, err := s.eng.Visits.Create(c.Request().Context(), actor, visit.CreateParams{
		PatientID:       req.PatientID,
		EntryFee:        req.EntryFee,
		ConsultationFee: req.ConsultationFee,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createdVisitResponse{
		Visit:               newVisitResponse(created.Visit),
		EntryBilling:        newBillingResponse(created.EntryBilling),
		ConsultationBilling: newBillingResponse(created.ConsultationBilling),
	})
}

func (s *Server) getVisit(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, err := s.eng.Visits.Detail(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newVisitDetailResponse(d))
}

func (s *Server) transitionVisit(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	target, err := clinic.ParseVisitStatus(req.Target)
	if err != nil {
		return err
	}
	v, err := s.eng.Visits.Transition(c.Request().Context(), actor, visit.TransitionParams{
		VisitID:         id,
		Target:          target,
		ExpectedVersion: req.ExpectedVersion,
		Reason:          req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newVisitResponse(v))
}

func (s *Server) assignVisit(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req assignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := s.eng.Assignments.Assign(c.Request().Context(), actor, assignment.AssignParams{
		VisitID:      id,
		ProviderID:   req.ProviderID,
		ProviderRole: req.ProviderRole,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newAssignmentResponse(a))
}

func (s *Server) visitTimeline(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	events, total, err := s.eng.Visits.Timeline(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(newEventResponses(events), total, p))
}
