package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/store/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, nil, decimal.Zero, BankAccount{Bank: "VCB", AccountNumber: "1234567890"})
}

func newTestServiceWithVAT(t *testing.T, vatPercent int64) *Service {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, nil, decimal.NewFromInt(vatPercent), BankAccount{Bank: "VCB", AccountNumber: "1234567890"})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "manager", Role: "manager"})
}

func mustCreateOrder(t *testing.T, svc *Service, ctx context.Context, lines ...domain.OrderLineRequest) domain.Order {
	t.Helper()
	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ReservationID: "res-1001",
		Items:         lines,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestRequireOnDutyRejectsUnknownActor(t *testing.T) {
	svc := newTestService(t)

	ctx := WithActor(context.Background(), domain.Actor{Username: "ghost", Role: "staff"})
	_, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ReservationID: "res-1001",
		Items:         []domain.OrderLineRequest{{MenuItemID: "dish-pho-bo", Quantity: 1}},
	})
	if err == nil {
		t.Fatalf("expected error for actor without a schedule")
	}
}

func TestRequireOnDutyRejectsMissingActor(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		ReservationID: "res-1001",
		Items:         []domain.OrderLineRequest{{MenuItemID: "dish-pho-bo", Quantity: 1}},
	})
	if err == nil {
		t.Fatalf("expected error when no actor is in context")
	}
}
