package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/store"
)

func TestOpenShiftOncePerStaff(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()

	register, err := svc.OpenShift(ctx, domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(50000)})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	if !register.CurrentAmount.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("drawer opens at %s, want the initial 50000", register.CurrentAmount)
	}

	if _, err := svc.OpenShift(ctx, domain.RegisterOpenRequest{InitialAmount: decimal.Zero}); !errors.Is(err, store.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation for second open register, got %v", err)
	}

	// A different staff member can still open their own drawer.
	if _, err := svc.OpenShift(managerCtx(), domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(20000)}); err != nil {
		t.Fatalf("manager open shift: %v", err)
	}
}

func TestOpenShiftOncePerSchedule(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()

	if _, err := svc.OpenShift(ctx, domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(50000)}); err != nil {
		t.Fatalf("open shift: %v", err)
	}
	if _, err := svc.CloseShift(ctx, domain.RegisterCloseRequest{FinalAmount: decimal.NewFromInt(50000)}); err != nil {
		t.Fatalf("close shift: %v", err)
	}

	// The schedule already consumed its register; a second drawer for the
	// same shift would split the ledger audit trail.
	if _, err := svc.OpenShift(ctx, domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(10000)}); !errors.Is(err, store.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation reopening within the same shift, got %v", err)
	}
}

func TestOpenShiftRejectsNegativeFloat(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.OpenShift(staffCtx(), domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(-1)})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWithdrawUpdatesBalanceAndRefusesOverdraft(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()

	register, err := svc.OpenShift(ctx, domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(50000)})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}

	entry, err := svc.Withdraw(ctx, domain.WithdrawRequest{Amount: decimal.NewFromInt(20000), Notes: "supplier run"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if entry.PaymentType != domain.PaymentTypeOut || entry.TransferType != domain.TransferTypeCash {
		t.Fatalf("entry = %+v, want cash out", entry)
	}

	current, err := svc.GetRegister(ctx, register.ID)
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	if !current.CurrentAmount.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("drawer = %s, want 30000", current.CurrentAmount)
	}

	if _, err := svc.Withdraw(ctx, domain.WithdrawRequest{Amount: decimal.NewFromInt(40000)}); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// A refused overdraft leaves the drawer untouched.
	current, err = svc.GetRegister(ctx, register.ID)
	if err != nil {
		t.Fatalf("get register: %v", err)
	}
	if !current.CurrentAmount.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("drawer = %s after refused overdraft, want 30000", current.CurrentAmount)
	}
}

func TestWithdrawRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()
	if _, err := svc.OpenShift(ctx, domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(10000)}); err != nil {
		t.Fatalf("open shift: %v", err)
	}

	if _, err := svc.Withdraw(ctx, domain.WithdrawRequest{Amount: decimal.Zero}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCloseShiftEndsRegister(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()

	if _, err := svc.OpenShift(ctx, domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(80000)}); err != nil {
		t.Fatalf("open shift: %v", err)
	}

	closed, err := svc.CloseShift(ctx, domain.RegisterCloseRequest{
		FinalAmount: decimal.NewFromInt(79000),
		Notes:       "short 1000, see incident log",
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if closed.ShiftEnd == nil {
		t.Fatalf("expected shift end to be set")
	}

	if _, err := svc.CurrentRegister(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after close, got %v", err)
	}
	if _, err := svc.CloseShift(ctx, domain.RegisterCloseRequest{FinalAmount: decimal.Zero}); !errors.Is(err, store.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation for double close, got %v", err)
	}
}

func TestLedgerHistoryFiltersAndBalances(t *testing.T) {
	svc := newTestService(t)
	ctx := staffCtx()

	register, err := svc.OpenShift(ctx, domain.RegisterOpenRequest{InitialAmount: decimal.NewFromInt(100000)})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}

	order := mustCreateOrder(t, svc, ctx, domain.OrderLineRequest{MenuItemID: "dish-pho-bo", Quantity: 2})
	payment := mustCreatePayment(t, svc, ctx, order.ID, domain.PaymentMethodCash)
	if _, err := svc.ProcessCashPayment(ctx, payment.ID, decimal.NewFromInt(95000)); err != nil {
		t.Fatalf("cash payment: %v", err)
	}
	if _, err := svc.Withdraw(ctx, domain.WithdrawRequest{Amount: decimal.NewFromInt(30000), Notes: "bank deposit"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	entries, err := svc.ListRegisterHistory(ctx, register.ID, time.Time{}, time.Now().UTC().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	// in 95000, out 5000 change, out 30000 withdrawal.
	if len(entries) != 3 {
		t.Fatalf("got %d ledger entries, want 3", len(entries))
	}

	balance, matches, err := svc.RegisterBalanceCheck(ctx, register.ID)
	if err != nil {
		t.Fatalf("balance check: %v", err)
	}
	if !matches || !balance.Equal(decimal.NewFromInt(160000)) {
		t.Fatalf("balance = %s matches=%v, want 160000 and agreement", balance, matches)
	}
}
