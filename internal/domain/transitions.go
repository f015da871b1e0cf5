package domain

type statusPair struct {
	from string
	to   string
}

// orderTransitions is the full set of legal order status changes. Anything
// not listed is rejected. Cancellation additionally requires every item to be
// pending or cancelled (see CanCancelOrder).
var orderTransitions = map[statusPair]bool{
	{OrderStatusPending, OrderStatusConfirmed}:   true,
	{OrderStatusConfirmed, OrderStatusCompleted}: true,
	{OrderStatusPending, OrderStatusCancelled}:   true,
}

var itemTransitions = map[statusPair]bool{
	{ItemStatusPending, ItemStatusDoing}:       true,
	{ItemStatusPending, ItemStatusCancelled}:   true,
	{ItemStatusDoing, ItemStatusCompleted}:     true,
	{ItemStatusCompleted, ItemStatusDelivered}: true,
}

func OrderTransitionAllowed(from string, to string) bool {
	return orderTransitions[statusPair{from, to}]
}

func ItemTransitionAllowed(from string, to string) bool {
	return itemTransitions[statusPair{from, to}]
}

// CanCancelOrder reports whether an order may move to cancelled: every item
// must still be pending or already cancelled.
func CanCancelOrder(items []OrderItem) bool {
	for _, item := range items {
		if item.Status != ItemStatusPending && item.Status != ItemStatusCancelled {
			return false
		}
	}
	return true
}

// OrderIsTerminal reports whether an order has reached a final status.
func OrderIsTerminal(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}

// ItemDeletable reports whether a single item may be removed from its order.
func ItemDeletable(status string) bool {
	switch status {
	case ItemStatusPending, ItemStatusCancelled, ItemStatusDelivered:
		return true
	default:
		return false
	}
}

// OrderDeletable reports whether a whole order may be removed: every item
// must be pending or cancelled.
func OrderDeletable(items []OrderItem) bool {
	return CanCancelOrder(items)
}

func ValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func ValidItemStatus(status string) bool {
	switch status {
	case ItemStatusPending, ItemStatusDoing, ItemStatusCompleted, ItemStatusDelivered, ItemStatusCancelled:
		return true
	default:
		return false
	}
}
