package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"lalune/backend/internal/cache"
	"lalune/backend/internal/domain"
	"lalune/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// BankAccount is the settlement account encoded into banking-payment QR
// payloads.
type BankAccount struct {
	Bank          string
	AccountNumber string
}

type Service struct {
	repo        store.Repository
	settlements cache.SettlementCache
	defaultVAT  decimal.Decimal
	bank        BankAccount
}

func New(repo store.Repository, settlements cache.SettlementCache, defaultVATPercent decimal.Decimal, bank BankAccount) *Service {
	if settlements == nil {
		settlements = cache.NoopSettlementCache{}
	}
	if bank.Bank == "" {
		bank.Bank = "VCB"
	}

	return &Service{
		repo:        repo,
		settlements: settlements,
		defaultVAT:  defaultVATPercent,
		bank:        bank,
	}
}

// requireOnDuty resolves the acting staff member and verifies they have a
// current, checked-in schedule. Every order/payment/register mutation goes
// through this gate.
func (s *Service) requireOnDuty(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no acting staff in context", store.ErrRuleViolation)
	}

	schedule, err := s.repo.GetCurrentSchedule(ctx, actor.Username)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %s has no active schedule", store.ErrRuleViolation, actor.Username)
	}
	if !schedule.CheckedIn {
		return domain.Actor{}, fmt.Errorf("%w: %s has not checked in", store.ErrRuleViolation, actor.Username)
	}
	return actor, nil
}

func (s *Service) requireManager(ctx context.Context) (domain.Actor, error) {
	actor, err := s.requireOnDuty(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != "manager" {
		return domain.Actor{}, fmt.Errorf("%w: manager role required", store.ErrRuleViolation)
	}
	return actor, nil
}
