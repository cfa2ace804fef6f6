package order

import "clinicflow/clinic"

// Aggregate derives a batch order's status from its items.
//
//   - COMPLETED when every item is terminal and at least one completed.
//   - CANCELLED when every item is cancelled.
//   - IN_PROGRESS when work has started on some item and some item is still open.
//   - otherwise the current status stands.
//
// An UNPAID order never moves forward here.
func Aggregate(current clinic.OrderStatus, items []clinic.ServiceOrderItem) clinic.OrderStatus {
	if current == clinic.OrderUnpaid || len(items) == 0 {
		return current
	}

	var pending, started, completed, cancelled int
	for _, it := range items {
		switch it.Status {
		case clinic.ItemPending:
			pending++
		case clinic.ItemInProgress:
			started++
		case clinic.ItemCompleted:
			completed++
		case clinic.ItemCancelled:
			cancelled++
		}
	}

	switch {
	case completed+cancelled == len(items) && completed > 0:
		return clinic.OrderCompleted
	case cancelled == len(items):
		return clinic.OrderCancelled
	case started+completed > 0 && pending+started > 0:
		return clinic.OrderInProgress
	default:
		return current
	}
}
