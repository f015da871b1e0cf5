package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/store"
)

// OpenShift opens a cash register for the acting staff member's current
// schedule. One open register per staff at a time.
func (s *Service) OpenShift(ctx context.Context, req domain.RegisterOpenRequest) (domain.CashRegister, error) {
	actor, err := s.requireOnDuty(ctx)
	if err != nil {
		return domain.CashRegister{}, err
	}
	if req.InitialAmount.IsNegative() {
		return domain.CashRegister{}, fmt.Errorf("%w: initial amount cannot be negative", store.ErrInvalidArgument)
	}

	schedule, err := s.repo.GetCurrentSchedule(ctx, actor.Username)
	if err != nil {
		return domain.CashRegister{}, err
	}

	created, err := s.repo.CreateRegister(ctx, domain.CashRegister{
		StaffUsername: actor.Username,
		ScheduleID:    schedule.ID,
		InitialAmount: req.InitialAmount,
		CurrentAmount: req.InitialAmount,
		ShiftStart:    time.Now().UTC(),
		Notes:         req.Notes,
	})
	if err != nil {
		return domain.CashRegister{}, err
	}
	return *created, nil
}

// CloseShift ends the acting staff member's open register, recording the
// counted final amount. The ledger keeps the computed balance; a counted
// discrepancy lives in the closing notes.
func (s *Service) CloseShift(ctx context.Context, req domain.RegisterCloseRequest) (domain.CashRegister, error) {
	actor, err := s.requireOnDuty(ctx)
	if err != nil {
		return domain.CashRegister{}, err
	}
	if req.FinalAmount.IsNegative() {
		return domain.CashRegister{}, fmt.Errorf("%w: final amount cannot be negative", store.ErrInvalidArgument)
	}

	register, err := s.repo.GetOpenRegisterByStaff(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashRegister{}, fmt.Errorf("%w: %s has no open cash register", store.ErrRuleViolation, actor.Username)
		}
		return domain.CashRegister{}, err
	}

	closed, err := s.repo.CloseRegister(ctx, register.ID, req.FinalAmount, req.Notes, time.Now().UTC())
	if err != nil {
		return domain.CashRegister{}, err
	}
	return *closed, nil
}

// Withdraw takes cash out of the acting staff member's open drawer as an
// out ledger entry. Withdrawing more than the drawer holds is refused.
func (s *Service) Withdraw(ctx context.Context, req domain.WithdrawRequest) (domain.PaymentHistory, error) {
	actor, err := s.requireOnDuty(ctx)
	if err != nil {
		return domain.PaymentHistory{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentHistory{}, fmt.Errorf("%w: withdrawal amount must be positive", store.ErrInvalidArgument)
	}

	register, err := s.repo.GetOpenRegisterByStaff(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PaymentHistory{}, fmt.Errorf("%w: %s has no open cash register", store.ErrRuleViolation, actor.Username)
		}
		return domain.PaymentHistory{}, err
	}

	entry, err := s.repo.RecordPaymentHistory(ctx, domain.PaymentHistory{
		RegisterID:   register.ID,
		PaymentType:  domain.PaymentTypeOut,
		TransferType: domain.TransferTypeCash,
		Amount:       req.Amount,
		Note:         req.Notes,
	})
	if err != nil {
		return domain.PaymentHistory{}, err
	}
	return *entry, nil
}

func (s *Service) GetRegister(ctx context.Context, registerID string) (domain.CashRegister, error) {
	register, err := s.repo.GetRegister(ctx, registerID)
	if err != nil {
		return domain.CashRegister{}, err
	}
	return *register, nil
}

// CurrentRegister returns the acting staff member's open register, if any.
func (s *Service) CurrentRegister(ctx context.Context) (domain.CashRegister, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CashRegister{}, fmt.Errorf("%w: no acting staff in context", store.ErrRuleViolation)
	}

	register, err := s.repo.GetOpenRegisterByStaff(ctx, actor.Username)
	if err != nil {
		return domain.CashRegister{}, err
	}
	return *register, nil
}

func (s *Service) ListRegisterHistory(ctx context.Context, registerID string, from, to time.Time, limit int) ([]domain.PaymentHistory, error) {
	if _, err := s.requireOnDuty(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	return s.repo.ListPaymentHistory(ctx, registerID, from, to, limit)
}

// RegisterBalanceCheck recomputes a register's balance from its ledger and
// reports whether the stored running amount agrees.
func (s *Service) RegisterBalanceCheck(ctx context.Context, registerID string) (decimal.Decimal, bool, error) {
	register, err := s.repo.GetRegister(ctx, registerID)
	if err != nil {
		return decimal.Zero, false, err
	}

	entries, err := s.repo.ListPaymentHistory(ctx, registerID, time.Time{}, time.Now().UTC().Add(time.Hour), 10000)
	if err != nil {
		return decimal.Zero, false, err
	}

	balance := register.InitialAmount
	for _, e := range entries {
		if e.TransferType != domain.TransferTypeCash {
			continue
		}
		switch e.PaymentType {
		case domain.PaymentTypeIn:
			balance = balance.Add(e.Amount)
		case domain.PaymentTypeOut:
			balance = balance.Sub(e.Amount)
		}
	}
	return balance, balance.Equal(register.CurrentAmount), nil
}
