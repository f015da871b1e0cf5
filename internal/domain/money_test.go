package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSubtotalSkipsCancelledItems(t *testing.T) {
	items := []OrderItem{
		{MenuItemID: "dish-a", Quantity: 5, UnitPrice: decimal.NewFromInt(10000), Status: ItemStatusPending},
		{MenuItemID: "dish-b", Quantity: 2, UnitPrice: decimal.NewFromInt(20000), Status: ItemStatusDoing},
		{MenuItemID: "dish-c", Quantity: 3, UnitPrice: decimal.NewFromInt(99999), Status: ItemStatusCancelled},
	}

	got := Subtotal(items)
	if !got.Equal(decimal.NewFromInt(90000)) {
		t.Fatalf("expected subtotal 90000, got %s", got)
	}
}

func TestVoucherDiscountPercent(t *testing.T) {
	voucher := Voucher{Code: "TEN", DiscountType: VoucherTypePercent, Value: decimal.NewFromInt(10)}
	got := VoucherDiscount(decimal.NewFromInt(90000), voucher)
	if !got.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("expected 9000 discount, got %s", got)
	}
}

func TestVoucherDiscountFixedCappedAtSubtotal(t *testing.T) {
	voucher := Voucher{Code: "BIG", DiscountType: VoucherTypeFixed, Value: decimal.NewFromInt(500000)}
	got := VoucherDiscount(decimal.NewFromInt(90000), voucher)
	if !got.Equal(decimal.NewFromInt(90000)) {
		t.Fatalf("expected discount capped at subtotal, got %s", got)
	}
}

func TestVATAmountRoundsHalfUp(t *testing.T) {
	// 10.05% of 100.00 = 10.05 exactly; 0.125 cases must round up.
	got := VATAmount(decimal.RequireFromString("100.50"), decimal.NewFromInt(5))
	if !got.Equal(decimal.RequireFromString("5.03")) {
		t.Fatalf("expected 5.03 (5.025 rounded half-up), got %s", got)
	}
}

func TestAmountPayableExample(t *testing.T) {
	// Subtotal 90000, no voucher, VAT 0 -> 90000.
	got := AmountPayable(decimal.NewFromInt(90000), decimal.Zero, decimal.Zero)
	if !got.Equal(decimal.NewFromInt(90000)) {
		t.Fatalf("expected 90000 payable, got %s", got)
	}
}

func TestPaymentCodeZeroPadding(t *testing.T) {
	if code := PaymentCode(123); code != "LL0000123" {
		t.Fatalf("expected LL0000123, got %s", code)
	}
	if code := PaymentCode(9999999); code != "LL9999999" {
		t.Fatalf("expected LL9999999, got %s", code)
	}
}

func TestVoucherValidAt(t *testing.T) {
	now := time.Now().UTC()
	voucher := Voucher{
		Code:         "WINDOW",
		DiscountType: VoucherTypePercent,
		Value:        decimal.NewFromInt(5),
		ValidFrom:    now.Add(-time.Hour),
		ValidUntil:   now.Add(time.Hour),
		Active:       true,
	}
	if !voucher.ValidAt(now) {
		t.Fatalf("expected voucher valid inside window")
	}
	if voucher.ValidAt(now.Add(2 * time.Hour)) {
		t.Fatalf("expected voucher invalid after window")
	}
	voucher.Active = false
	if voucher.ValidAt(now) {
		t.Fatalf("expected inactive voucher invalid")
	}
}
