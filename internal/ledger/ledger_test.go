package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/store/memory"
)

func TestStockDecrementNeverGoesNegative(t *testing.T) {
	repo := memory.NewSeeded()
	repo.SetStock("main-store", "SKU-TELUR-10", 5)
	stock := NewStockLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.WithinTx(ctx, func(tx store.Tx) error {
				return stock.Decrement(ctx, tx, "main-store", "SKU-TELUR-10", 1)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("expected 5 successful decrements, got %d", succeeded)
	}
	left, _ := repo.GetStockMap(ctx, "main-store", []string{"SKU-TELUR-10"})
	if left["SKU-TELUR-10"] != 0 {
		t.Fatalf("expected stock 0, got %d", left["SKU-TELUR-10"])
	}
}

func TestStockDecrementRejectsNonPositive(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		return NewStockLedger().Decrement(ctx, tx, "main-store", "SKU-TELUR-10", 0)
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestShiftAccumulateSplitsByMethod(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()
	shift, err := repo.CreateShift(ctx, domain.Shift{StoreID: "main-store", CashierID: "cashier"})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}

	ledger := NewShiftLedger()
	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := ledger.Accumulate(ctx, tx, shift.ID, domain.PaymentMethodCash, 110000); err != nil {
			return err
		}
		if err := ledger.Accumulate(ctx, tx, shift.ID, domain.PaymentMethodTransfer, 25000); err != nil {
			return err
		}
		return ledger.Accumulate(ctx, tx, "", domain.PaymentMethodCash, 999)
	})
	if err != nil {
		t.Fatalf("accumulate: %v", err)
	}

	got, err := repo.GetShift(shift.ID)
	if err != nil {
		t.Fatalf("get shift: %v", err)
	}
	if got.CashSalesTotal != 110000 || got.TransferSalesTotal != 25000 {
		t.Fatalf("unexpected totals cash=%d transfer=%d", got.CashSalesTotal, got.TransferSalesTotal)
	}
}
