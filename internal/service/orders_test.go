package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/store"
)

func TestCreateOrderSnapshotsMenuPrices(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()

	order := mustCreateOrder(t, svc, ctx,
		domain.OrderLineRequest{MenuItemID: "dish-pho-bo", Quantity: 2},
		domain.OrderLineRequest{MenuItemID: "drink-iced-tea", Quantity: 1},
	)

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %q", order.Status)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	for _, item := range order.Items {
		if item.Status != domain.ItemStatusPending {
			t.Fatalf("item %s born with status %q", item.ID, item.Status)
		}
	}
	if !order.Items[0].UnitPrice.Equal(decimal.NewFromInt(45000)) {
		t.Fatalf("pho bo unit price = %s, want 45000", order.Items[0].UnitPrice)
	}

	subtotal := domain.Subtotal(order.Items)
	if !subtotal.Equal(decimal.NewFromInt(95000)) {
		t.Fatalf("subtotal = %s, want 95000", subtotal)
	}
}

func TestCreateOrderRejectsZeroQuantity(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateOrder(staffCtx(), domain.OrderCreateRequest{
		ReservationID: "res-1001",
		Items:         []domain.OrderLineRequest{{MenuItemID: "dish-pho-bo", Quantity: 0}},
	})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateOrderRejectsUnknownMenuItem(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateOrder(staffCtx(), domain.OrderCreateRequest{
		ReservationID: "res-1001",
		Items:         []domain.OrderLineRequest{{MenuItemID: "dish-does-not-exist", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	order := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-banh-mi", Quantity: 1})

	confirmed, err := svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	if err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q, want confirmed", confirmed.Status)
	}

	if _, err := svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPending); !errors.Is(err, store.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation going back to pending, got %v", err)
	}
}

func TestCancelOrderCascadesToPendingItems(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	order := mustCreateOrder(t, svc, ctx,
		domain.OrderLineRequest{MenuItemID: "dish-spring-rolls", Quantity: 1},
		domain.OrderLineRequest{MenuItemID: "drink-coffee", Quantity: 2},
	)

	cancelled, err := svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	for _, item := range cancelled.Items {
		if item.Status != domain.ItemStatusCancelled {
			t.Fatalf("item %s still %q after order cancel", item.ID, item.Status)
		}
	}
}

func TestCancelOrderBlockedByItemInPreparation(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	order := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-grilled-pork", Quantity: 1})

	if _, err := svc.UpdateOrderItemStatus(ctx, order.Items[0].ID, domain.ItemStatusDoing, false); err != nil {
		t.Fatalf("move item to doing: %v", err)
	}
	if _, err := svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled); !errors.Is(err, store.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation cancelling order with item in preparation, got %v", err)
	}
}

func TestForceCancelItemRequiresManager(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	order := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-pho-bo", Quantity: 1})
	itemID := order.Items[0].ID

	for _, next := range []string{domain.ItemStatusDoing, domain.ItemStatusCompleted, domain.ItemStatusDelivered} {
		if _, err := svc.UpdateOrderItemStatus(ctx, itemID, next, false); err != nil {
			t.Fatalf("advance item to %s: %v", next, err)
		}
	}

	// Delivered items cannot be cancelled through the normal pipeline.
	if _, err := svc.UpdateOrderItemStatus(ctx, itemID, domain.ItemStatusCancelled, false); !errors.Is(err, store.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}
	if _, err := svc.UpdateOrderItemStatus(ctx, itemID, domain.ItemStatusCancelled, true); !errors.Is(err, store.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation for staff force-cancel, got %v", err)
	}

	item, err := svc.UpdateOrderItemStatus(managerCtx(), itemID, domain.ItemStatusCancelled, true)
	if err != nil {
		t.Fatalf("manager force-cancel: %v", err)
	}
	if item.Status != domain.ItemStatusCancelled {
		t.Fatalf("status = %q, want cancelled", item.Status)
	}
}

func TestForceOnlyValidForCancellation(t *testing.T) {
	svc := newTestService(t)
	order := mustCreateOrder(t, svc, staffCtx(), domain.OrderLineRequest{MenuItemID: "dish-pho-bo", Quantity: 1})

	_, err := svc.UpdateOrderItemStatus(managerCtx(), order.Items[0].ID, domain.ItemStatusDelivered, true)
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSplitOrderConservesQuantities(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	order := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-banh-mi", Quantity: 3})
	itemID := order.Items[0].ID

	split, err := svc.SplitOrder(ctx, order.ID, domain.OrderSplitRequest{
		Lines: []domain.SplitLine{{ItemID: itemID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("split order: %v", err)
	}
	if len(split.Items) != 1 || split.Items[0].Quantity != 2 {
		t.Fatalf("split order items = %+v, want one line of quantity 2", split.Items)
	}
	if split.Items[0].Status != domain.ItemStatusDelivered {
		t.Fatalf("split item status = %q, want delivered", split.Items[0].Status)
	}

	source, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get source order: %v", err)
	}
	if len(source.Items) != 1 || source.Items[0].Quantity != 1 {
		t.Fatalf("source items = %+v, want one line of quantity 1", source.Items)
	}
}

func TestSplitOrderRejectsExcessQuantity(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	order := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-banh-mi", Quantity: 3})

	_, err := svc.SplitOrder(ctx, order.ID, domain.OrderSplitRequest{
		Lines: []domain.SplitLine{{ItemID: order.Items[0].ID, Quantity: 5}},
	})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	source, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get source order: %v", err)
	}
	if source.Items[0].Quantity != 3 {
		t.Fatalf("source quantity = %d, want unchanged 3", source.Items[0].Quantity)
	}
}

func TestMergeOrdersCancelsSources(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	first := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-pho-bo", Quantity: 1})
	second := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "drink-iced-tea", Quantity: 2})

	merged, err := svc.MergeOrders(ctx, domain.OrderMergeRequest{
		OrderIDs:      []int64{first.ID, second.ID},
		ReservationID: "res-1001",
	})
	if err != nil {
		t.Fatalf("merge orders: %v", err)
	}
	if len(merged.Items) != 2 {
		t.Fatalf("merged order has %d items, want 2", len(merged.Items))
	}
	for _, item := range merged.Items {
		if item.Status != domain.ItemStatusDelivered {
			t.Fatalf("merged item status = %q, want delivered", item.Status)
		}
	}

	for _, sourceID := range []int64{first.ID, second.ID} {
		source, err := svc.GetOrder(ctx, sourceID)
		if err != nil {
			t.Fatalf("get source order %d: %v", sourceID, err)
		}
		if source.Status != domain.OrderStatusCancelled {
			t.Fatalf("source order %d status = %q, want cancelled", sourceID, source.Status)
		}
	}
}

func TestMergeSumsQuantitiesPerMenuItem(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	first := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-grilled-pork", Quantity: 2})
	second := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-grilled-pork", Quantity: 3})

	merged, err := svc.MergeOrders(ctx, domain.OrderMergeRequest{
		OrderIDs:      []int64{first.ID, second.ID},
		ReservationID: "res-1001",
	})
	if err != nil {
		t.Fatalf("merge orders: %v", err)
	}
	if len(merged.Items) != 1 {
		t.Fatalf("merged order has %d lines, want the quantities folded into 1", len(merged.Items))
	}
	if merged.Items[0].Quantity != 5 {
		t.Fatalf("merged quantity = %d, want 5", merged.Items[0].Quantity)
	}
	if !domain.Subtotal(merged.Items).Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("merged subtotal = %s, want 100000", domain.Subtotal(merged.Items))
	}
}

func TestMergeKeepsDistinctPriceSnapshotsApart(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	first := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-grilled-pork", Quantity: 2})

	// A sibling order captured the same dish at an older price.
	second, err := svc.repo.CreateOrder(context.Background(), domain.Order{
		ReservationID: "res-1001",
		StaffUsername: "staff",
		Items: []domain.OrderItem{{
			MenuItemID: "dish-grilled-pork",
			Quantity:   3,
			UnitPrice:  decimal.NewFromInt(18000),
			Status:     domain.ItemStatusPending,
		}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	merged, err := svc.MergeOrders(ctx, domain.OrderMergeRequest{
		OrderIDs:      []int64{first.ID, second.ID},
		ReservationID: "res-1001",
	})
	if err != nil {
		t.Fatalf("merge orders: %v", err)
	}
	if len(merged.Items) != 2 {
		t.Fatalf("merged order has %d lines, want the two price snapshots kept apart", len(merged.Items))
	}
	// 2x20000 + 3x18000: the merged value equals the sum of the sources.
	if total := domain.Subtotal(merged.Items); !total.Equal(decimal.NewFromInt(94000)) {
		t.Fatalf("merged subtotal = %s, want 94000", total)
	}
}

func TestMergeRequiresTwoOrders(t *testing.T) {
	svc := newTestService(t)
	order := mustCreateOrder(t, svc, staffCtx(), domain.OrderLineRequest{MenuItemID: "dish-pho-bo", Quantity: 1})

	_, err := svc.MergeOrders(staffCtx(), domain.OrderMergeRequest{
		OrderIDs:      []int64{order.ID},
		ReservationID: "res-1001",
	})
	if !errors.Is(err, store.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}
}

func TestDeleteLastLiveItemRefused(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	order := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "drink-coffee", Quantity: 1})

	_, err := svc.DeleteOrderItem(ctx, order.Items[0].ID)
	if !errors.Is(err, store.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}
}

func TestDeleteLastCancelledItemRemovesOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	order := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "drink-coffee", Quantity: 1})

	if _, err := svc.UpdateOrderItemStatus(ctx, order.Items[0].ID, domain.ItemStatusCancelled, false); err != nil {
		t.Fatalf("cancel item: %v", err)
	}

	orderRemoved, err := svc.DeleteOrderItem(ctx, order.Items[0].ID)
	if err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if !orderRemoved {
		t.Fatalf("expected the order to be removed with its last item")
	}
	if _, err := svc.GetOrder(ctx, order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for removed order, got %v", err)
	}
}
