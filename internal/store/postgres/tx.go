package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) CreateSettlement(ctx context.Context, settlement domain.Settlement) error {
	if settlement.ID == "" {
		return store.ErrInvalidTransaction
	}
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settlements (
			id, method, amount, status, external_reference,
			cash_received, change_amount, paid_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, settlement.ID, settlement.Method, settlement.Amount, settlement.Status, nullIfEmpty(settlement.ExternalReference),
		settlement.CashReceived, settlement.ChangeAmount, nullTime(settlement.PaidAt), settlement.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

func (t *pgTx) SetSettlementReference(ctx context.Context, settlementID string, reference string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE settlements
		SET external_reference = $2
		WHERE id = $1
	`, settlementID, reference)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return expectAffected(res, store.ErrNotFound)
}

func (t *pgTx) LockSettlement(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	return scanSettlement(t.tx.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE id = $1
		FOR UPDATE
	`, settlementID))
}

func (t *pgTx) TransitionSettlement(ctx context.Context, settlementID string, from string, to string, at time.Time) (bool, error) {
	var paidAt any
	if to == domain.SettlementStatusCompleted {
		paidAt = at
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE settlements
		SET status = $3, paid_at = COALESCE($4::timestamptz, paid_at)
		WHERE id = $1 AND status = $2
	`, settlementID, from, to, paidAt)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2
		WHERE settlement_id = $1
	`, settlementID, to); err != nil {
		return false, err
	}
	return true, nil
}

func (t *pgTx) CreateSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || sale.SettlementID == "" {
		return store.ErrInvalidTransaction
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, settlement_id, store_id, cashier_id, shift_id, customer_id,
			subtotal, tax_amount, discount_amount, voucher_code, total_amount, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.SettlementID, sale.StoreID, sale.CashierID, nullIfEmpty(sale.ShiftID), nullIfEmpty(sale.CustomerID),
		sale.Subtotal, sale.TaxAmount, sale.DiscountAmount, nullIfEmpty(sale.VoucherCode), sale.TotalAmount, sale.Status, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	for i, line := range sale.Lines {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, sale_id, line_no, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, line.ID, sale.ID, i+1, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal); err != nil {
			return fmt.Errorf("insert sale line %s: %w", line.ProductID, err)
		}
	}
	return nil
}

func (t *pgTx) GetSaleBySettlement(ctx context.Context, settlementID string) (*domain.Sale, error) {
	return findSale(ctx, t.tx, "settlement_id", settlementID)
}

func (t *pgTx) DecrementStock(ctx context.Context, storeID string, productID string, qty int) error {
	if qty <= 0 {
		return store.ErrInvalidTransaction
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_stocks
		SET qty = qty - $3, updated_at = now()
		WHERE store_id = $1 AND product_id = $2 AND qty >= $3
	`, storeID, productID, qty)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrInsufficientStock)
}

func (t *pgTx) AccumulateShift(ctx context.Context, shiftID string, method string, amount int64) error {
	var query string
	switch method {
	case domain.PaymentMethodCash:
		query = `UPDATE shifts SET cash_sales_total = cash_sales_total + $2 WHERE id = $1`
	case domain.PaymentMethodTransfer:
		query = `UPDATE shifts SET transfer_sales_total = transfer_sales_total + $2 WHERE id = $1`
	default:
		return store.ErrInvalidTransaction
	}
	res, err := t.tx.ExecContext(ctx, query, shiftID, amount)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrNotFound)
}

func (t *pgTx) AddLoyaltyPoints(ctx context.Context, customerID string, points int64) (int64, error) {
	if points < 0 {
		return 0, store.ErrInvalidTransaction
	}
	var total int64
	err := t.tx.QueryRowContext(ctx, `
		UPDATE customers
		SET loyalty_point = loyalty_point + $2
		WHERE id = $1
		RETURNING loyalty_point
	`, customerID, points).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return total, nil
}

func (t *pgTx) ListActiveVoucherTemplates(ctx context.Context) ([]domain.VoucherTemplate, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, prefix, name, discount_type, discount_value, max_discount_amount,
			min_purchase_amount, required_loyalty_points, validity_days, active
		FROM voucher_templates
		WHERE active = true
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := make([]domain.VoucherTemplate, 0, 8)
	for rows.Next() {
		var tpl domain.VoucherTemplate
		if err := rows.Scan(
			&tpl.ID,
			&tpl.Prefix,
			&tpl.Name,
			&tpl.DiscountType,
			&tpl.DiscountValue,
			&tpl.MaxDiscountAmount,
			&tpl.MinPurchaseAmount,
			&tpl.RequiredLoyaltyPoints,
			&tpl.ValidityDays,
			&tpl.Active,
		); err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

func (t *pgTx) ExpireVouchers(ctx context.Context, customerID string, now time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE vouchers
		SET status = 'expired'
		WHERE customer_id = $1 AND status = 'available' AND valid_until < $2
	`, customerID, now)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// CreateVoucher relies on the vouchers_live_per_template partial index: a
// second live instance for the same customer and template is skipped.
func (t *pgTx) CreateVoucher(ctx context.Context, v domain.VoucherInstance) (bool, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO vouchers (
			code, customer_id, template_id, name, discount_type, discount_value,
			max_discount_amount, min_purchase_amount, valid_from, valid_until, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT DO NOTHING
	`, v.Code, v.CustomerID, v.TemplateID, v.Name, v.DiscountType, v.DiscountValue,
		v.MaxDiscountAmount, v.MinPurchaseAmount, v.ValidFrom, v.ValidUntil, v.Status, v.CreatedAt)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (t *pgTx) RedeemVoucher(ctx context.Context, code string, customerID string, saleID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE vouchers
		SET status = 'used', used_at = $4, sale_id = $3
		WHERE code = $1 AND customer_id = $2 AND status = 'available'
	`, code, customerID, saleID, at)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrVoucherUnavailable)
}
