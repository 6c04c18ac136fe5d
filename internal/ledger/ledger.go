// Package ledger applies the stock and cash-drawer effects of a completed
// settlement. Both ledgers only accept a store.Tx, so they always run inside
// the unit of work that completes the settlement.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
)

type StockLedger struct{}

func NewStockLedger() *StockLedger {
	return &StockLedger{}
}

// Decrement removes qty units of a product from a store. A missing stock
// record or a shortage fails with store.ErrInsufficientStock.
func (l *StockLedger) Decrement(ctx context.Context, tx store.Tx, storeID string, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("decrement %s by %d: %w", productID, qty, store.ErrInvalidTransaction)
	}
	if err := tx.DecrementStock(ctx, storeID, productID, qty); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return fmt.Errorf("product %s at %s: %w", productID, storeID, err)
		}
		return err
	}
	return nil
}

type ShiftLedger struct{}

func NewShiftLedger() *ShiftLedger {
	return &ShiftLedger{}
}

// Accumulate adds a completed settlement amount to the shift total for its method.
func (l *ShiftLedger) Accumulate(ctx context.Context, tx store.Tx, shiftID string, method string, amount int64) error {
	if shiftID == "" {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("accumulate %d on shift %s: %w", amount, shiftID, store.ErrInvalidTransaction)
	}
	if method != domain.PaymentMethodCash && method != domain.PaymentMethodTransfer {
		return fmt.Errorf("accumulate unknown method %q: %w", method, store.ErrInvalidTransaction)
	}
	return tx.AccumulateShift(ctx, shiftID, method, amount)
}
