package store

import (
	"context"
	"errors"
	"time"

	"kasirinaja/settlement/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrVoucherUnavailable = errors.New("voucher unavailable")
)

// Repository is the read side plus the entry point to a unit of work. Every
// settlement side effect goes through Tx so that it commits or rolls back
// together with the settlement that caused it.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	FirstActiveStore(ctx context.Context) (*domain.Store, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetStockMap(ctx context.Context, storeID string, productIDs []string) (map[string]int, error)
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)

	GetVoucher(ctx context.Context, code string) (*domain.VoucherInstance, error)
	ListCustomerVouchers(ctx context.Context, customerID string) ([]domain.VoucherInstance, error)

	FindSettlementByReference(ctx context.Context, reference string) (*domain.Settlement, error)
	FindSettlementByID(ctx context.Context, settlementID string) (*domain.Settlement, error)
	FindSaleByID(ctx context.Context, saleID string) (*domain.Sale, error)
	FindSaleBySettlement(ctx context.Context, settlementID string) (*domain.Sale, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, storeID string, cashierID string, closingCash int64, closedAt time.Time) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is one atomic unit of work. Implementations apply every mutation
// with a guarded update so that a lost race surfaces as an error or a false
// result instead of a silent double write.
type Tx interface {
	CreateSettlement(ctx context.Context, settlement domain.Settlement) error
	SetSettlementReference(ctx context.Context, settlementID string, reference string) error
	// LockSettlement reads the settlement and holds it against concurrent
	// reconciliation until the unit ends.
	LockSettlement(ctx context.Context, settlementID string) (*domain.Settlement, error)
	// TransitionSettlement moves the settlement and its sale from one status to
	// another. It returns false when the settlement is no longer in status from.
	TransitionSettlement(ctx context.Context, settlementID string, from string, to string, at time.Time) (bool, error)
	CreateSale(ctx context.Context, sale domain.Sale) error
	GetSaleBySettlement(ctx context.Context, settlementID string) (*domain.Sale, error)

	DecrementStock(ctx context.Context, storeID string, productID string, qty int) error
	AccumulateShift(ctx context.Context, shiftID string, method string, amount int64) error

	AddLoyaltyPoints(ctx context.Context, customerID string, points int64) (int64, error)
	ListActiveVoucherTemplates(ctx context.Context) ([]domain.VoucherTemplate, error)
	ExpireVouchers(ctx context.Context, customerID string, now time.Time) (int, error)
	// CreateVoucher inserts a live instance. It returns false when the customer
	// already holds a live (available or used) instance of the same template.
	CreateVoucher(ctx context.Context, voucher domain.VoucherInstance) (bool, error)
	RedeemVoucher(ctx context.Context, code string, customerID string, saleID string, at time.Time) error
}
