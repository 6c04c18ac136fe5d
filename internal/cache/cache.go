package cache

import (
	"context"
	"time"

	"kasirinaja/settlement/internal/domain"
)

// StatusCache holds recent gateway status lookups so that POS clients polling
// a pending transfer do not hit the provider on every refresh.
type StatusCache interface {
	Get(ctx context.Context, orderCode string) (*domain.GatewayStatus, bool, error)
	Set(ctx context.Context, orderCode string, value *domain.GatewayStatus, ttl time.Duration) error
	Delete(ctx context.Context, orderCode string) error
}

type NoopStatusCache struct{}

func (NoopStatusCache) Get(_ context.Context, _ string) (*domain.GatewayStatus, bool, error) {
	return nil, false, nil
}

func (NoopStatusCache) Set(_ context.Context, _ string, _ *domain.GatewayStatus, _ time.Duration) error {
	return nil
}

func (NoopStatusCache) Delete(_ context.Context, _ string) error {
	return nil
}

const keyPrefix = "settlement:gateway-status:"

func statusKey(orderCode string) string {
	return keyPrefix + orderCode
}
