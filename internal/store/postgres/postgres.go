package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a read-committed transaction. Isolation comes from the
// guarded updates and row locks each Tx method takes, not from serializable
// snapshots, so a lost race shows up as a false result instead of a retry.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&st.ID, &st.Name, &st.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) FirstActiveStore(ctx context.Context) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active
		FROM stores
		WHERE active = true
		ORDER BY id ASC
		LIMIT 1
	`).Scan(&st.ID, &st.Name, &st.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetStockMap(ctx context.Context, storeID string, productIDs []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty
		FROM inventory_stocks
		WHERE store_id = $1 AND product_id = ANY($2)
	`, storeID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		stockMap[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stockMap, nil
}

func (s *Store) SetStock(ctx context.Context, storeID string, productID string, qty int) error {
	if productID == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_stocks (store_id, product_id, qty, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (store_id, product_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`, storeID, productID, qty)
	return err
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, loyalty_point
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&c.ID, &c.Name, &phone, &c.LoyaltyPoints)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.Phone = phone.String
	c.Tier = domain.Tier(c.LoyaltyPoints)
	return &c, nil
}

const voucherColumns = `code, customer_id, template_id, name, discount_type, discount_value,
	max_discount_amount, min_purchase_amount, valid_from, valid_until, status, used_at, sale_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVoucher(row rowScanner) (*domain.VoucherInstance, error) {
	var v domain.VoucherInstance
	var usedAt sql.NullTime
	var saleID sql.NullString
	if err := row.Scan(
		&v.Code,
		&v.CustomerID,
		&v.TemplateID,
		&v.Name,
		&v.DiscountType,
		&v.DiscountValue,
		&v.MaxDiscountAmount,
		&v.MinPurchaseAmount,
		&v.ValidFrom,
		&v.ValidUntil,
		&v.Status,
		&usedAt,
		&saleID,
		&v.CreatedAt,
	); err != nil {
		return nil, err
	}
	v.ValidFrom = v.ValidFrom.UTC()
	v.ValidUntil = v.ValidUntil.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	if usedAt.Valid {
		at := usedAt.Time.UTC()
		v.UsedAt = &at
	}
	v.SaleID = saleID.String
	return &v, nil
}

func (s *Store) GetVoucher(ctx context.Context, code string) (*domain.VoucherInstance, error) {
	v, err := scanVoucher(s.db.QueryRowContext(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE code = $1
	`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *Store) ListCustomerVouchers(ctx context.Context, customerID string) ([]domain.VoucherInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE customer_id = $1
		ORDER BY created_at DESC, code ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vouchers := make([]domain.VoucherInstance, 0, 4)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vouchers, nil
}

const settlementColumns = `id, method, amount, status, external_reference, cash_received, change_amount, paid_at, created_at`

func scanSettlement(row rowScanner) (*domain.Settlement, error) {
	var settlement domain.Settlement
	var reference sql.NullString
	var paidAt sql.NullTime
	if err := row.Scan(
		&settlement.ID,
		&settlement.Method,
		&settlement.Amount,
		&settlement.Status,
		&reference,
		&settlement.CashReceived,
		&settlement.ChangeAmount,
		&paidAt,
		&settlement.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	settlement.ExternalReference = reference.String
	settlement.CreatedAt = settlement.CreatedAt.UTC()
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		settlement.PaidAt = &at
	}
	return &settlement, nil
}

func (s *Store) FindSettlementByReference(ctx context.Context, reference string) (*domain.Settlement, error) {
	return scanSettlement(s.db.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE external_reference = $1
	`, reference))
}

func (s *Store) FindSettlementByID(ctx context.Context, settlementID string) (*domain.Settlement, error) {
	return scanSettlement(s.db.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE id = $1
	`, settlementID))
}

func (s *Store) FindSaleByID(ctx context.Context, saleID string) (*domain.Sale, error) {
	return findSale(ctx, s.db, "id", saleID)
}

func (s *Store) FindSaleBySettlement(ctx context.Context, settlementID string) (*domain.Sale, error) {
	return findSale(ctx, s.db, "settlement_id", settlementID)
}

func findSale(ctx context.Context, q queryer, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "settlement_id" {
		return nil, store.ErrInvalidTransaction
	}

	var sale domain.Sale
	var shiftID, customerID, voucherCode sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, settlement_id, store_id, cashier_id, shift_id, customer_id,
			subtotal, tax_amount, discount_amount, voucher_code, total_amount, status, created_at
		FROM sales
		WHERE `+column+` = $1
	`, value).Scan(
		&sale.ID,
		&sale.SettlementID,
		&sale.StoreID,
		&sale.CashierID,
		&shiftID,
		&customerID,
		&sale.Subtotal,
		&sale.TaxAmount,
		&sale.DiscountAmount,
		&voucherCode,
		&sale.TotalAmount,
		&sale.Status,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.ShiftID = shiftID.String
	sale.CustomerID = customerID.String
	sale.VoucherCode = voucherCode.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price, subtotal
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY line_no ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Lines = make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

const shiftColumns = `id, store_id, cashier_id, status, opening_float, cash_sales_total,
	transfer_sales_total, closing_cash, opened_at, closed_at`

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAtNull sql.NullTime
	if err := row.Scan(
		&shift.ID,
		&shift.StoreID,
		&shift.CashierID,
		&shift.Status,
		&shift.OpeningFloat,
		&shift.CashSalesTotal,
		&shift.TransferSalesTotal,
		&shift.ClosingCash,
		&shift.OpenedAt,
		&closedAtNull,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAtNull.Valid {
		at := closedAtNull.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.CashierID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpened
	shift.ClosedAt = nil
	shift.ClosingCash = 0
	shift.CashSalesTotal = 0
	shift.TransferSalesTotal = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (
			id, store_id, cashier_id, status, opening_float,
			cash_sales_total, transfer_sales_total, closing_cash, opened_at, closed_at
		)
		VALUES ($1,$2,$3,$4,$5,0,0,0,$6,NULL)
	`, shift.ID, shift.StoreID, shift.CashierID, shift.Status, shift.OpeningFloat, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) CloseActiveShift(ctx context.Context, storeID string, cashierID string, closingCash int64, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(cashierID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	return scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', closing_cash = $3, closed_at = $4
		WHERE store_id = $1 AND cashier_id = $2 AND status = 'opened'
		RETURNING `+shiftColumns+`
	`, storeID, cashierID, closingCash, closedAt))
}

func (s *Store) GetActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error) {
	return scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE store_id = $1 AND cashier_id = $2 AND status = 'opened'
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, cashierID))
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrNotFound)
}

func expectAffected(res sql.Result, errIfNone error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errIfNone
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
