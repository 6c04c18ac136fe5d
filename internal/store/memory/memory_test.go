package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSettlement(ctx, domain.Settlement{ID: "pay-1", Method: domain.PaymentMethodCash, Status: domain.SettlementStatusCompleted}); err != nil {
			return err
		}
		if err := tx.DecrementStock(ctx, "main-store", "SKU-BERAS-5KG", 5); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := repo.FindSettlementByID(ctx, "pay-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected rolled back settlement, got %v", err)
	}
	stock, _ := repo.GetStockMap(ctx, "main-store", []string{"SKU-BERAS-5KG"})
	if stock["SKU-BERAS-5KG"] != 120 {
		t.Fatalf("expected stock untouched at 120, got %d", stock["SKU-BERAS-5KG"])
	}
}

func TestWithinTxCommits(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSettlement(ctx, domain.Settlement{ID: "pay-1", Method: domain.PaymentMethodTransfer, Status: domain.SettlementStatusPending, ExternalReference: "1700000000000123"}); err != nil {
			return err
		}
		return tx.CreateSale(ctx, domain.Sale{
			ID:           "trx-1",
			SettlementID: "pay-1",
			StoreID:      "main-store",
			Status:       domain.SettlementStatusPending,
			Lines:        []domain.SaleLine{{ID: "line-1", SaleID: "trx-1", ProductID: "SKU-KOPI-01", Quantity: 2, UnitPrice: 2500, Subtotal: 5000}},
		})
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	settlement, err := repo.FindSettlementByReference(ctx, "1700000000000123")
	if err != nil {
		t.Fatalf("find by reference: %v", err)
	}
	sale, err := repo.FindSaleBySettlement(ctx, settlement.ID)
	if err != nil {
		t.Fatalf("find sale: %v", err)
	}
	if sale.ID != "trx-1" || len(sale.Lines) != 1 {
		t.Fatalf("unexpected sale %+v", sale)
	}
}

func TestTransitionSettlementIsConditional(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	_ = repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSettlement(ctx, domain.Settlement{ID: "pay-1", Status: domain.SettlementStatusPending}); err != nil {
			return err
		}
		return tx.CreateSale(ctx, domain.Sale{ID: "trx-1", SettlementID: "pay-1", Status: domain.SettlementStatusPending})
	})

	var first, second bool
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		first, err = tx.TransitionSettlement(ctx, "pay-1", domain.SettlementStatusPending, domain.SettlementStatusCompleted, now)
		if err != nil {
			return err
		}
		second, err = tx.TransitionSettlement(ctx, "pay-1", domain.SettlementStatusPending, domain.SettlementStatusCancelled, now)
		return err
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !first || second {
		t.Fatalf("expected only the first transition to apply, got first=%v second=%v", first, second)
	}

	sale, _ := repo.FindSaleByID(ctx, "trx-1")
	if sale.Status != domain.SettlementStatusCompleted {
		t.Fatalf("expected sale to follow settlement, got %s", sale.Status)
	}
	settlement, _ := repo.FindSettlementByID(ctx, "pay-1")
	if settlement.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}
}

func TestDecrementStockGuardsShortage(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	repo.SetStock("main-store", "SKU-GULA-1KG", 2)

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.DecrementStock(ctx, "main-store", "SKU-GULA-1KG", 3)
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.DecrementStock(ctx, "main-store", "SKU-UNKNOWN", 1)
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for missing record, got %v", err)
	}
}

func TestCreateVoucherSkipsLiveDuplicate(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	var created []bool
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		for _, code := range []string{"WELCOME-CUST-001-1", "WELCOME-CUST-001-2"} {
			ok, err := tx.CreateVoucher(ctx, domain.VoucherInstance{
				Code:       code,
				CustomerID: "CUST-001",
				TemplateID: "tpl-welcome",
				Status:     domain.VoucherStatusAvailable,
				ValidFrom:  now,
				ValidUntil: now.Add(24 * time.Hour),
			})
			if err != nil {
				return err
			}
			created = append(created, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("create vouchers: %v", err)
	}
	if !created[0] || created[1] {
		t.Fatalf("expected first insert only, got %v", created)
	}
}

func TestExpiredVoucherDoesNotBlockReissue(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()
	repo.PutVoucher(domain.VoucherInstance{
		Code:       "WELCOME-CUST-001-1",
		CustomerID: "CUST-001",
		TemplateID: "tpl-welcome",
		Status:     domain.VoucherStatusAvailable,
		ValidUntil: now.Add(-time.Hour),
	})

	var expired int
	var created bool
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		if expired, err = tx.ExpireVouchers(ctx, "CUST-001", now); err != nil {
			return err
		}
		created, err = tx.CreateVoucher(ctx, domain.VoucherInstance{
			Code:       "WELCOME-CUST-001-2",
			CustomerID: "CUST-001",
			TemplateID: "tpl-welcome",
			Status:     domain.VoucherStatusAvailable,
			ValidUntil: now.Add(time.Hour),
		})
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if expired != 1 || !created {
		t.Fatalf("expected one expiry and a reissue, got expired=%d created=%v", expired, created)
	}
}

func TestRedeemVoucherOnlyOnce(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()
	repo.PutVoucher(domain.VoucherInstance{
		Code:       "LOYAL-CUST-002-1",
		CustomerID: "CUST-002",
		TemplateID: "tpl-loyal",
		Status:     domain.VoucherStatusAvailable,
		ValidUntil: now.Add(time.Hour),
	})

	redeem := func(saleID string) error {
		return repo.WithinTx(ctx, func(tx store.Tx) error {
			return tx.RedeemVoucher(ctx, "LOYAL-CUST-002-1", "CUST-002", saleID, now)
		})
	}
	if err := redeem("trx-1"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if err := redeem("trx-2"); !errors.Is(err, store.ErrVoucherUnavailable) {
		t.Fatalf("expected voucher unavailable, got %v", err)
	}

	voucher, _ := repo.GetVoucher(ctx, "LOYAL-CUST-002-1")
	if voucher.SaleID != "trx-1" || voucher.UsedAt == nil {
		t.Fatalf("unexpected voucher state %+v", voucher)
	}
}

func TestShiftLifecycle(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	shift, err := repo.CreateShift(ctx, domain.Shift{StoreID: "main-store", CashierID: "cashier", OpeningFloat: 100000})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	if _, err := repo.CreateShift(ctx, domain.Shift{StoreID: "main-store", CashierID: "cashier"}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected second open shift rejected, got %v", err)
	}

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.AccumulateShift(ctx, shift.ID, domain.PaymentMethodCash, 50000); err != nil {
			return err
		}
		return tx.AccumulateShift(ctx, shift.ID, domain.PaymentMethodTransfer, 75000)
	})
	if err != nil {
		t.Fatalf("accumulate: %v", err)
	}

	closed, err := repo.CloseActiveShift(ctx, "main-store", "cashier", 150000, time.Time{})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if closed.CashSalesTotal != 50000 || closed.TransferSalesTotal != 75000 || closed.ClosedAt == nil {
		t.Fatalf("unexpected closed shift %+v", closed)
	}
	if _, err := repo.GetActiveShift(ctx, "main-store", "cashier"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no active shift, got %v", err)
	}
}
