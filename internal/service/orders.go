package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/store"
)

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	actor, err := s.requireOnDuty(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	req.ReservationID = strings.TrimSpace(req.ReservationID)
	if req.ReservationID == "" || len(req.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: reservation and at least one line required", store.ErrInvalidArgument)
	}

	reservation, err := s.repo.GetReservation(ctx, req.ReservationID)
	if err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.Order{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidArgument)
		}
		menuItem, err := s.repo.GetMenuItem(ctx, strings.TrimSpace(line.MenuItemID))
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderItem{
			MenuItemID: menuItem.ID,
			Quantity:   line.Quantity,
			UnitPrice:  menuItem.Price,
			Status:     domain.ItemStatusPending,
		})
	}

	created, err := s.repo.CreateOrder(ctx, domain.Order{
		ReservationID: reservation.ID,
		StaffUsername: actor.Username,
		Status:        domain.OrderStatusPending,
		Items:         items,
	})
	if err != nil {
		return domain.Order{}, err
	}

	if reservation.Status == domain.ReservationStatusPending {
		if err := s.repo.UpdateReservationStatus(ctx, reservation.ID, domain.ReservationStatusConfirmed); err != nil {
			log.Printf("[orders] WARN: failed to confirm reservation %s: %v", reservation.ID, err)
		}
	}

	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrdersByReservation(ctx context.Context, reservationID string) ([]domain.Order, error) {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return nil, fmt.Errorf("%w: reservation id required", store.ErrInvalidArgument)
	}
	return s.repo.ListOrdersByReservation(ctx, reservationID)
}

func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, next string) (domain.Order, error) {
	if _, err := s.requireOnDuty(ctx); err != nil {
		return domain.Order{}, err
	}

	next = strings.ToLower(strings.TrimSpace(next))
	if !domain.ValidOrderStatus(next) {
		return domain.Order{}, fmt.Errorf("%w: unknown order status %q", store.ErrInvalidArgument, next)
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, orderID, next)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

// UpdateOrderItemStatus moves one item through the kitchen pipeline. With
// force set (manager only) the transition table is bypassed to cancel an item
// regardless of its current status.
func (s *Service) UpdateOrderItemStatus(ctx context.Context, itemID string, next string, force bool) (domain.OrderItem, error) {
	next = strings.ToLower(strings.TrimSpace(next))
	if !domain.ValidItemStatus(next) {
		return domain.OrderItem{}, fmt.Errorf("%w: unknown item status %q", store.ErrInvalidArgument, next)
	}

	if force {
		if next != domain.ItemStatusCancelled {
			return domain.OrderItem{}, fmt.Errorf("%w: force is only valid for cancellation", store.ErrInvalidArgument)
		}
		if _, err := s.requireManager(ctx); err != nil {
			return domain.OrderItem{}, err
		}
	} else if _, err := s.requireOnDuty(ctx); err != nil {
		return domain.OrderItem{}, err
	}

	updated, err := s.repo.UpdateOrderItemStatus(ctx, itemID, next, force)
	if err != nil {
		return domain.OrderItem{}, err
	}
	return *updated, nil
}

// SplitOrder moves the requested quantities out of an order into a new
// sibling order on the same reservation. Moved items were already served, so
// they land in the new order as delivered.
func (s *Service) SplitOrder(ctx context.Context, orderID int64, req domain.OrderSplitRequest) (domain.Order, error) {
	actor, err := s.requireOnDuty(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if len(req.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: split requires at least one line", store.ErrRuleViolation)
	}

	created, err := s.repo.SplitOrder(ctx, orderID, req.Lines, actor.Username)
	if err != nil {
		return domain.Order{}, err
	}
	return *created, nil
}

// MergeOrders unions two or more live orders of one reservation into a fresh
// order and cancels the sources.
func (s *Service) MergeOrders(ctx context.Context, req domain.OrderMergeRequest) (domain.Order, error) {
	actor, err := s.requireOnDuty(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if len(req.OrderIDs) < 2 {
		return domain.Order{}, fmt.Errorf("%w: merge requires at least two orders", store.ErrRuleViolation)
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	if req.ReservationID == "" {
		return domain.Order{}, fmt.Errorf("%w: reservation id required", store.ErrInvalidArgument)
	}

	merged, err := s.repo.MergeOrders(ctx, req.OrderIDs, req.ReservationID, actor.Username)
	if err != nil {
		return domain.Order{}, err
	}
	return *merged, nil
}

// DeleteOrderItem removes a single line. Deleting the last cancelled item
// removes the whole order; deleting the last live item is refused so an
// order can never become empty but billable.
func (s *Service) DeleteOrderItem(ctx context.Context, itemID string) (bool, error) {
	if _, err := s.requireOnDuty(ctx); err != nil {
		return false, err
	}
	return s.repo.DeleteOrderItem(ctx, itemID)
}

func (s *Service) DeleteOrder(ctx context.Context, orderID int64) error {
	if _, err := s.requireOnDuty(ctx); err != nil {
		return err
	}
	return s.repo.DeleteOrder(ctx, orderID)
}
