package service

import (
	"context"
	"log/slog"
	"time"

	"kasirinaja/settlement/internal/cache"
	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/events"
	"kasirinaja/settlement/internal/gateway"
	"kasirinaja/settlement/internal/ledger"
	"kasirinaja/settlement/internal/loyalty"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type VoucherEngine interface {
	Validate(ctx context.Context, code string, customerID string, purchaseAmount int64) (domain.VoucherQuote, error)
	Redeem(ctx context.Context, tx store.Tx, code string, customerID string, saleID string, at time.Time) error
	Accrue(ctx context.Context, tx store.Tx, customerID string, subtotal int64) (int64, error)
	AutoIssue(ctx context.Context, tx store.Tx, customerID string, currentPoints int64, now time.Time) ([]domain.VoucherInstance, error)
	ListCustomerVouchers(ctx context.Context, customerID string) ([]domain.VoucherInstance, error)
}

type StockLedger interface {
	Decrement(ctx context.Context, tx store.Tx, storeID string, productID string, qty int) error
}

type ShiftLedger interface {
	Accumulate(ctx context.Context, tx store.Tx, shiftID string, method string, amount int64) error
}

// Options wires the service. Repo and Gateway are required; the rest fall
// back to the in-process implementations.
type Options struct {
	Repo           store.Repository
	Gateway        gateway.Gateway
	Vouchers       VoucherEngine
	Stock          StockLedger
	Shifts         ShiftLedger
	StatusCache    cache.StatusCache
	StatusCacheTTL time.Duration
	Events         events.Publisher
}

type Service struct {
	repo           store.Repository
	gateway        gateway.Gateway
	vouchers       VoucherEngine
	stock          StockLedger
	shifts         ShiftLedger
	statusCache    cache.StatusCache
	statusCacheTTL time.Duration
	events         events.Publisher
	now            func() time.Time
}

func New(opts Options) *Service {
	s := &Service{
		repo:           opts.Repo,
		gateway:        opts.Gateway,
		vouchers:       opts.Vouchers,
		stock:          opts.Stock,
		shifts:         opts.Shifts,
		statusCache:    opts.StatusCache,
		statusCacheTTL: opts.StatusCacheTTL,
		events:         opts.Events,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if s.vouchers == nil {
		s.vouchers = loyalty.NewEngine(opts.Repo)
	}
	if s.stock == nil {
		s.stock = ledger.NewStockLedger()
	}
	if s.shifts == nil {
		s.shifts = ledger.NewShiftLedger()
	}
	if s.statusCache == nil {
		s.statusCache = cache.NoopStatusCache{}
	}
	if s.events == nil {
		s.events = events.NoopPublisher{}
	}
	return s
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		slog.WarnContext(ctx, "[audit] failed to write audit log", "action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}

// publish is best-effort: the settlement is already committed.
func (s *Service) publish(ctx context.Context, event domain.SettlementEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "[events] publish failed", "type", event.Type, "payment_id", event.SettlementID, "error", err)
	}
}

func settlementEvent(eventType string, settlement domain.Settlement, sale domain.Sale, at time.Time) domain.SettlementEvent {
	return domain.SettlementEvent{
		Type:         eventType,
		SettlementID: settlement.ID,
		SaleID:       sale.ID,
		StoreID:      sale.StoreID,
		CustomerID:   sale.CustomerID,
		Method:       settlement.Method,
		Status:       settlement.Status,
		Amount:       settlement.Amount,
		OrderCode:    settlement.ExternalReference,
		OccurredAt:   at,
	}
}
