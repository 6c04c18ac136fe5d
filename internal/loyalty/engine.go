// Package loyalty prices and redeems customer vouchers, accrues loyalty
// points and mints template vouchers once a customer qualifies.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/money"
	"kasirinaja/settlement/internal/store"
)

// PointUnit is the subtotal that earns one loyalty point.
const PointUnit int64 = 200000

const defaultValidityDays = 30

const (
	ReasonNotFoundOrExpired = "not_found_or_expired"
	ReasonBelowMinimum      = "below_minimum_purchase"
)

// RejectionError explains why a voucher cannot be applied.
type RejectionError struct {
	Code   string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("voucher %s rejected: %s", e.Code, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return store.ErrInvalidTransaction
}

type VoucherReader interface {
	GetVoucher(ctx context.Context, code string) (*domain.VoucherInstance, error)
	ListCustomerVouchers(ctx context.Context, customerID string) ([]domain.VoucherInstance, error)
}

type Engine struct {
	vouchers VoucherReader
	now      func() time.Time
}

func NewEngine(vouchers VoucherReader) *Engine {
	return &Engine{
		vouchers: vouchers,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Validate(ctx context.Context, code string, customerID string, purchaseAmount int64) (domain.VoucherQuote, error) {
	code = strings.TrimSpace(code)
	reject := func(reason string) (domain.VoucherQuote, error) {
		return domain.VoucherQuote{}, &RejectionError{Code: code, Reason: reason}
	}

	voucher, err := e.vouchers.GetVoucher(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reject(ReasonNotFoundOrExpired)
		}
		return domain.VoucherQuote{}, err
	}

	now := e.now()
	switch {
	case voucher.CustomerID != customerID,
		voucher.Status != domain.VoucherStatusAvailable,
		now.Before(voucher.ValidFrom),
		now.After(voucher.ValidUntil):
		return reject(ReasonNotFoundOrExpired)
	case purchaseAmount < voucher.MinPurchaseAmount:
		return reject(ReasonBelowMinimum)
	}

	return domain.VoucherQuote{
		Code:           voucher.Code,
		DiscountType:   voucher.DiscountType,
		PurchaseAmount: purchaseAmount,
		DiscountAmount: Discount(*voucher, purchaseAmount),
	}, nil
}

// Discount prices a voucher against a purchase amount. The result never
// exceeds the amount.
func Discount(v domain.VoucherInstance, amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	var discount int64
	switch v.DiscountType {
	case domain.DiscountTypePercentage:
		discount = money.Percent(amount, v.DiscountValue)
		if v.MaxDiscountAmount > 0 && discount > v.MaxDiscountAmount {
			discount = v.MaxDiscountAmount
		}
	case domain.DiscountTypeFixed:
		discount = int64(math.Round(v.DiscountValue))
	}
	return money.Clamp(discount, 0, amount)
}

// Redeem marks the voucher used by saleID. It fails with
// store.ErrVoucherUnavailable when another unit already used it.
func (e *Engine) Redeem(ctx context.Context, tx store.Tx, code string, customerID string, saleID string, at time.Time) error {
	if err := tx.RedeemVoucher(ctx, code, customerID, saleID, at); err != nil {
		return fmt.Errorf("redeem voucher %s: %w", code, err)
	}
	return nil
}

// Accrue adds floor(subtotal / PointUnit) points and returns the new total.
func (e *Engine) Accrue(ctx context.Context, tx store.Tx, customerID string, subtotal int64) (int64, error) {
	total, err := tx.AddLoyaltyPoints(ctx, customerID, PointsFor(subtotal))
	if err != nil {
		return 0, fmt.Errorf("accrue points for %s: %w", customerID, err)
	}
	return total, nil
}

func PointsFor(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	return subtotal / PointUnit
}

// AutoIssue expires the customer's lapsed vouchers, then mints one instance
// per active template the customer qualifies for. A template the customer
// already holds a live instance of is skipped.
func (e *Engine) AutoIssue(ctx context.Context, tx store.Tx, customerID string, currentPoints int64, now time.Time) ([]domain.VoucherInstance, error) {
	expired, err := tx.ExpireVouchers(ctx, customerID, now)
	if err != nil {
		return nil, fmt.Errorf("expire vouchers for %s: %w", customerID, err)
	}
	if expired > 0 {
		slog.InfoContext(ctx, "[loyalty] expired vouchers", "customer_id", customerID, "count", expired)
	}

	templates, err := tx.ListActiveVoucherTemplates(ctx)
	if err != nil {
		return nil, err
	}

	issued := make([]domain.VoucherInstance, 0, len(templates))
	for _, tpl := range templates {
		if tpl.RequiredLoyaltyPoints > currentPoints {
			continue
		}
		validity := tpl.ValidityDays
		if validity <= 0 {
			validity = defaultValidityDays
		}
		voucher := domain.VoucherInstance{
			Code:              fmt.Sprintf("%s-%s-%d", tpl.Prefix, customerID, now.Unix()),
			CustomerID:        customerID,
			TemplateID:        tpl.ID,
			Name:              tpl.Name,
			DiscountType:      tpl.DiscountType,
			DiscountValue:     tpl.DiscountValue,
			MaxDiscountAmount: tpl.MaxDiscountAmount,
			MinPurchaseAmount: tpl.MinPurchaseAmount,
			ValidFrom:         now,
			ValidUntil:        now.AddDate(0, 0, validity),
			Status:            domain.VoucherStatusAvailable,
			CreatedAt:         now,
		}
		created, err := tx.CreateVoucher(ctx, voucher)
		if err != nil {
			return nil, fmt.Errorf("issue voucher %s: %w", voucher.Code, err)
		}
		if !created {
			continue
		}
		slog.InfoContext(ctx, "[loyalty] issued voucher", "customer_id", customerID, "code", voucher.Code, "template_id", tpl.ID)
		issued = append(issued, voucher)
	}
	return issued, nil
}

func (e *Engine) ListCustomerVouchers(ctx context.Context, customerID string) ([]domain.VoucherInstance, error) {
	return e.vouchers.ListCustomerVouchers(ctx, customerID)
}
