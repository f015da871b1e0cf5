package service

import (
	"context"
	"log"
	"time"

	"lalune/backend/internal/domain"
)

// ExpireStalePayments fails every banking payment that has sat pending
// longer than timeout and reopens its order. Cash payments have no external
// leg to time out, so they are left alone. Returns how many payments were
// expired.
func (s *Service) ExpireStalePayments(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := domain.StalePaymentCutoff(time.Now().UTC(), timeout)

	stale, err := s.repo.ListStalePendingPayments(ctx, domain.PaymentMethodBanking, cutoff, 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, payment := range stale {
		if _, err := s.repo.ExpirePayment(ctx, payment.ID); err != nil {
			// Likely settled or cancelled between list and expire.
			log.Printf("[sweeper] WARN: skipping payment %s: %v", payment.ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// Sweeper periodically expires stale pending payments in the background.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	timeout  time.Duration
}

func NewSweeper(svc *Service, interval, timeout time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, timeout: timeout}
}

// Run blocks until ctx is cancelled, sweeping once per interval. Sweep
// failures are logged and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[sweeper] started, interval %s, payment timeout %s", s.interval, s.timeout)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] stopped")
			return
		case <-ticker.C:
			expired, err := s.svc.ExpireStalePayments(ctx, s.timeout)
			if err != nil {
				log.Printf("[sweeper] WARN: sweep failed: %v", err)
				continue
			}
			if expired > 0 {
				log.Printf("[sweeper] expired %d stale payment(s)", expired)
			}
		}
	}
}
