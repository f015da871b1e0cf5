package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/store"
)

// QuotePayment computes the payable amount for an order without persisting
// anything: subtotal over non-cancelled items minus the voucher discount.
func (s *Service) QuotePayment(ctx context.Context, req domain.PaymentQuoteRequest) (domain.PaymentQuoteResponse, error) {
	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return domain.PaymentQuoteResponse{}, err
	}

	subtotal := domain.Subtotal(order.Items)
	discount, err := s.resolveVoucherDiscount(ctx, subtotal, req.VoucherCode)
	if err != nil {
		return domain.PaymentQuoteResponse{}, err
	}

	return domain.PaymentQuoteResponse{
		OrderID:      order.ID,
		Subtotal:     subtotal,
		VoucherValue: discount,
		Payable:      subtotal.Sub(discount),
	}, nil
}

// CreatePayment opens a settlement attempt for the order. Any earlier
// attempt that never reached paid is discarded; an order with a paid payment
// cannot be charged again.
func (s *Service) CreatePayment(ctx context.Context, req domain.PaymentCreateRequest) (domain.Payment, error) {
	if _, err := s.requireOnDuty(ctx); err != nil {
		return domain.Payment{}, err
	}

	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method != domain.PaymentMethodCash && method != domain.PaymentMethodBanking {
		return domain.Payment{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidArgument, req.Method)
	}

	vatPercent := s.defaultVAT
	if strings.TrimSpace(req.VATPercent) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(req.VATPercent))
		if err != nil || parsed.IsNegative() || parsed.GreaterThan(decimal.NewFromInt(100)) {
			return domain.Payment{}, fmt.Errorf("%w: vat percent out of range", store.ErrInvalidArgument)
		}
		vatPercent = parsed
	}

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return domain.Payment{}, err
	}

	subtotal := domain.Subtotal(order.Items)
	if !subtotal.IsPositive() {
		return domain.Payment{}, fmt.Errorf("%w: order has nothing payable", store.ErrRuleViolation)
	}
	discount, err := s.resolveVoucherDiscount(ctx, subtotal, req.VoucherCode)
	if err != nil {
		return domain.Payment{}, err
	}

	created, err := s.repo.CreatePayment(ctx, domain.Payment{
		OrderID:      order.ID,
		Code:         domain.PaymentCode(order.ID),
		Method:       method,
		AmountPaid:   domain.AmountPayable(subtotal, discount, vatPercent),
		VoucherValue: discount,
		VATPercent:   vatPercent,
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return *created, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return *payment, nil
}

// ProcessCashPayment settles a cash payment at the drawer: the received
// amount must cover the bill, the payment flips to paid, the order and
// reservation complete, and the drawer ledger records the cash in plus any
// change handed back.
func (s *Service) ProcessCashPayment(ctx context.Context, paymentID string, receivedAmount decimal.Decimal) (domain.CashPaymentResponse, error) {
	actor, err := s.requireOnDuty(ctx)
	if err != nil {
		return domain.CashPaymentResponse{}, err
	}

	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.CashPaymentResponse{}, err
	}
	if payment.Method != domain.PaymentMethodCash {
		return domain.CashPaymentResponse{}, fmt.Errorf("%w: payment %s is not a cash payment", store.ErrInvalidArgument, paymentID)
	}
	if receivedAmount.LessThan(payment.AmountPaid) {
		return domain.CashPaymentResponse{}, fmt.Errorf("%w: received amount below total due", store.ErrInvalidArgument)
	}

	register, err := s.repo.GetOpenRegisterByStaff(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashPaymentResponse{}, fmt.Errorf("%w: %s has no open cash register", store.ErrRuleViolation, actor.Username)
		}
		return domain.CashPaymentResponse{}, err
	}

	settled, err := s.repo.SettlePayment(ctx, payment.ID, receivedAmount, time.Now().UTC())
	if err != nil {
		return domain.CashPaymentResponse{}, err
	}

	change := receivedAmount.Sub(settled.AmountPaid)
	if _, err := s.repo.RecordPaymentHistory(ctx, domain.PaymentHistory{
		PaymentID:    settled.ID,
		RegisterID:   register.ID,
		PaymentType:  domain.PaymentTypeIn,
		TransferType: domain.TransferTypeCash,
		Amount:       receivedAmount,
	}); err != nil {
		return domain.CashPaymentResponse{}, err
	}
	if change.IsPositive() {
		if _, err := s.repo.RecordPaymentHistory(ctx, domain.PaymentHistory{
			PaymentID:    settled.ID,
			RegisterID:   register.ID,
			PaymentType:  domain.PaymentTypeOut,
			TransferType: domain.TransferTypeCash,
			Amount:       change,
		}); err != nil {
			return domain.CashPaymentResponse{}, err
		}
	}

	return domain.CashPaymentResponse{Payment: *settled, Change: change}, nil
}

// ProcessWebhookConfirmation applies an asynchronous bank-transfer result.
// The transfer amount must match the amount due exactly; a mismatch changes
// nothing. A success delivery for an already-paid payment is a no-op, so
// gateway retries cannot re-run the completion cascade.
func (s *Service) ProcessWebhookConfirmation(ctx context.Context, code string, amount decimal.Decimal, externalStatus string) (domain.Payment, error) {
	code = strings.TrimSpace(code)
	payment, err := s.repo.GetPaymentByCode(ctx, code)
	if err != nil {
		return domain.Payment{}, err
	}

	switch strings.ToUpper(strings.TrimSpace(externalStatus)) {
	case "SUCCESS":
		if payment.Status == domain.PaymentStatusPaid {
			return *payment, nil
		}
		if !amount.Equal(payment.AmountPaid) {
			return domain.Payment{}, fmt.Errorf("%w: transfer amount %s does not match amount due %s", store.ErrInvalidArgument, amount, payment.AmountPaid)
		}
		if seen, err := s.settlements.Seen(ctx, code); err == nil && seen {
			return *payment, nil
		}

		settled, err := s.repo.SettlePayment(ctx, payment.ID, amount, time.Now().UTC())
		if err != nil {
			if errors.Is(err, store.ErrRuleViolation) {
				// Lost a race against a duplicate delivery; if the payment
				// is paid now this delivery is a no-op.
				if current, getErr := s.repo.GetPayment(ctx, payment.ID); getErr == nil && current.Status == domain.PaymentStatusPaid {
					return *current, nil
				}
			}
			return domain.Payment{}, err
		}

		if err := s.settlements.Mark(ctx, code); err != nil {
			log.Printf("[payments] WARN: failed to mark settlement %s: %v", code, err)
		}
		if _, err := s.repo.RecordPaymentHistory(ctx, domain.PaymentHistory{
			PaymentID:    settled.ID,
			PaymentType:  domain.PaymentTypeIn,
			TransferType: domain.TransferTypeBanking,
			Amount:       amount,
		}); err != nil {
			log.Printf("[payments] WARN: failed to record banking history for %s: %v", settled.ID, err)
		}
		return *settled, nil

	case "FAILED":
		if payment.Status != domain.PaymentStatusPending {
			return *payment, nil
		}
		failed, err := s.repo.ExpirePayment(ctx, payment.ID)
		if err != nil {
			return domain.Payment{}, err
		}
		return *failed, nil

	default:
		// Unknown gateway status: leave the payment pending.
		return *payment, nil
	}
}

// CancelPayment abandons a pending settlement attempt and reopens the order
// and its reservation. Nothing was charged, so no ledger reversal is needed.
func (s *Service) CancelPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	if _, err := s.requireOnDuty(ctx); err != nil {
		return domain.Payment{}, err
	}

	cancelled, err := s.repo.CancelPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return *cancelled, nil
}

// CompletePayment is the manager's administrative shortcut: it settles the
// payment at exactly the amount due and runs the same completion cascade as
// a cash or webhook success.
func (s *Service) CompletePayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	actor, err := s.requireManager(ctx)
	if err != nil {
		return domain.Payment{}, err
	}

	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}

	settled, err := s.repo.SettlePayment(ctx, payment.ID, payment.AmountPaid, time.Now().UTC())
	if err != nil {
		return domain.Payment{}, err
	}

	entry := domain.PaymentHistory{
		PaymentID:    settled.ID,
		PaymentType:  domain.PaymentTypeIn,
		TransferType: domain.TransferTypeBanking,
		Amount:       settled.AmountPaid,
	}
	if settled.Method == domain.PaymentMethodCash {
		register, err := s.repo.GetOpenRegisterByStaff(ctx, actor.Username)
		if err != nil {
			log.Printf("[payments] WARN: completing cash payment %s without an open register, ledger entry skipped", settled.ID)
			return *settled, nil
		}
		entry.RegisterID = register.ID
		entry.TransferType = domain.TransferTypeCash
	}
	if _, err := s.repo.RecordPaymentHistory(ctx, entry); err != nil {
		log.Printf("[payments] WARN: failed to record history for completed payment %s: %v", settled.ID, err)
	}

	return *settled, nil
}

// PaymentQR builds the bank-transfer payload for a pending payment: bank,
// account, exact amount and the payment code as transfer description,
// base64-encoded for the terminal to render.
func (s *Service) PaymentQR(ctx context.Context, paymentID string) (domain.PaymentQRResponse, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.PaymentQRResponse{}, err
	}
	if payment.Status != domain.PaymentStatusPending {
		return domain.PaymentQRResponse{}, fmt.Errorf("%w: payment %s is not awaiting transfer", store.ErrRuleViolation, paymentID)
	}

	resp := domain.PaymentQRResponse{
		PaymentID:     payment.ID,
		Bank:          s.bank.Bank,
		AccountNumber: s.bank.AccountNumber,
		Amount:        payment.AmountPaid,
		Description:   payment.Code,
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return domain.PaymentQRResponse{}, err
	}
	resp.PayloadBase64 = base64.StdEncoding.EncodeToString(payload)
	return resp, nil
}

func (s *Service) resolveVoucherDiscount(ctx context.Context, subtotal decimal.Decimal, voucherCode string) (decimal.Decimal, error) {
	voucherCode = strings.TrimSpace(voucherCode)
	if voucherCode == "" {
		return decimal.Zero, nil
	}

	voucher, err := s.repo.GetVoucherByCode(ctx, voucherCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: unknown voucher %q", store.ErrInvalidArgument, voucherCode)
		}
		return decimal.Zero, err
	}
	if !voucher.ValidAt(time.Now().UTC()) {
		return decimal.Zero, fmt.Errorf("%w: voucher %q is expired or inactive", store.ErrInvalidArgument, voucherCode)
	}
	return domain.VoucherDiscount(subtotal, *voucher), nil
}
