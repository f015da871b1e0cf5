package cache

import (
	"context"
)

// SettlementCache remembers payment codes whose bank transfers were already
// applied, so duplicate webhook deliveries short-circuit before touching the
// store.
type SettlementCache interface {
	Seen(ctx context.Context, code string) (bool, error)
	Mark(ctx context.Context, code string) error
}

type NoopSettlementCache struct{}

func (NoopSettlementCache) Seen(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (NoopSettlementCache) Mark(_ context.Context, _ string) error {
	return nil
}
