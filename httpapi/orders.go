package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"clinicflow/assignment"
	"clinicflow/clinic"
	"clinicflow/order"
)

func (s *Server) createOrder(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req createOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	items := make([]order.ItemParams, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.ItemParams{
			ServiceReferenceID: it.ServiceReferenceID,
			Kind:               it.Kind,
			Quantity:           it.Quantity,
			UnitPrice:          it.UnitPrice,
		})
	}
	created, err := s.eng.Orders.Create(c.Request().Context(), actor, order.CreateParams{
		VisitID:            req.VisitID,
		OrderingProviderID: req.OrderingProviderID,
		Items:              items,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createdOrderResponse{
		Order:   newOrderResponse(created.Order),
		Billing: newBillingResponse(created.Billing),
	})
}

func (s *Server) getOrder(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	o, err := s.eng.Orders.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newOrderResponse(o))
}

func (s *Server) cancelOrder(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req cancelOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	o, err := s.eng.Orders.Cancel(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newOrderResponse(o))
}

// itemOf resolves the :id/:itemId pair, rejecting items of another order.
func (s *Server) itemOf(c echo.Context) (clinic.BatchOrder, uuid.UUID, error) {
	orderID, err := pathID(c, "id")
	if err != nil {
		return clinic.BatchOrder{}, uuid.Nil, err
	}
	itemID, err := pathID(c, "itemId")
	if err != nil {
		return clinic.BatchOrder{}, uuid.Nil, err
	}
	o, err := s.eng.Orders.Get(c.Request().Context(), orderID)
	if err != nil {
		return clinic.BatchOrder{}, uuid.Nil, err
	}
	if _, ok := o.Item(itemID); !ok {
		return clinic.BatchOrder{}, uuid.Nil, clinic.Errorf(clinic.ErrNotFound, "order: item %s not in order %s", itemID, orderID)
	}
	return o, itemID, nil
}

func (s *Server) startItem(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	_, itemID, err := s.itemOf(c)
	if err != nil {
		return err
	}
	res, err := s.eng.Orders.StartItem(c.Request().Context(), actor, itemID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newItemResult(res))
}

func (s *Server) completeItem(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	_, itemID, err := s.itemOf(c)
	if err != nil {
		return err
	}
	var req completeItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Outcome == "" {
		req.Outcome = clinic.ItemCompleted
	}
	res, err := s.eng.Orders.CompleteItem(c.Request().Context(), actor, order.CompleteParams{
		ItemID:          itemID,
		Outcome:         req.Outcome,
		ResultReference: req.ResultReference,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newItemResult(res))
}

func (s *Server) assignItem(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	o, itemID, err := s.itemOf(c)
	if err != nil {
		return err
	}
	var req assignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.ProviderRole == "" {
		req.ProviderRole = clinic.ProviderNurse
	}
	a, err := s.eng.Assignments.Assign(c.Request().Context(), actor, assignment.AssignParams{
		VisitID:      o.VisitID,
		ItemID:       &itemID,
		ProviderID:   req.ProviderID,
		ProviderRole: req.ProviderRole,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newAssignmentResponse(a))
}

func newItemResult(res order.Result) itemResultResponse {
	return itemResultResponse{
		Order:   newOrderResponse(res.Order),
		Item:    newItemResponse(res.Item),
		Changed: res.Changed,
	}
}
