// Package events publishes settlement lifecycle events for downstream
// consumers such as reporting and stock replenishment.
package events

import (
	"context"
	"sync"

	"kasirinaja/settlement/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.SettlementEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ domain.SettlementEvent) error {
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
}

func (r *Recorder) Publish(_ context.Context, event domain.SettlementEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []domain.SettlementEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SettlementEvent(nil), r.events...)
}
