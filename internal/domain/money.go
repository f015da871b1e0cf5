package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Subtotal sums unit price times quantity over the order's non-cancelled
// items.
func Subtotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		if item.Status == ItemStatusCancelled {
			continue
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// VoucherDiscount returns the amount taken off the subtotal. Percent vouchers
// discount subtotal*(pct/100); fixed vouchers discount min(value, subtotal).
// The discount never exceeds the subtotal.
func VoucherDiscount(subtotal decimal.Decimal, voucher Voucher) decimal.Decimal {
	var discount decimal.Decimal
	switch voucher.DiscountType {
	case VoucherTypePercent:
		discount = subtotal.Mul(voucher.Value).Div(decimal.NewFromInt(100)).Round(2)
	case VoucherTypeFixed:
		discount = voucher.Value
	default:
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// VATAmount computes the tax on the discounted subtotal, rounded half-up to
// two decimal places.
func VATAmount(discounted decimal.Decimal, vatPercent decimal.Decimal) decimal.Decimal {
	return discounted.Mul(vatPercent).Div(decimal.NewFromInt(100)).Round(2)
}

// AmountPayable is the full payment formula:
// subtotal - voucher discount + VAT(half-up, 2dp).
func AmountPayable(subtotal decimal.Decimal, discount decimal.Decimal, vatPercent decimal.Decimal) decimal.Decimal {
	base := subtotal.Sub(discount)
	return base.Add(VATAmount(base, vatPercent)).Round(2)
}

// PaymentCode derives the human-readable settlement code from the numeric
// order id: "LL" followed by the id zero-padded to seven digits.
func PaymentCode(orderID int64) string {
	return fmt.Sprintf("LL%07d", orderID)
}

// StalePaymentCutoff is the creation-time threshold before which a pending
// payment is considered expired.
func StalePaymentCutoff(now time.Time, timeout time.Duration) time.Time {
	return now.Add(-timeout)
}
