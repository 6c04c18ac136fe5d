package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/gateway"
	"kasirinaja/settlement/internal/money"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

// checkoutPlan is a validated, priced checkout. Nothing has been written yet.
type checkoutPlan struct {
	method        string
	storeID       string
	cashierID     string
	shiftID       string
	customer      *domain.Customer
	voucherCode   string
	lines         []domain.SaleLine
	subtotal      int64
	tax           int64
	discount      int64
	total         int64
	cashReceived  int64
	change        int64
	customerName  string
	customerPhone string
}

func (p checkoutPlan) customerID() string {
	if p.customer == nil {
		return ""
	}
	return p.customer.ID
}

func (p checkoutPlan) sale(settlementID string, status string, at time.Time) domain.Sale {
	saleID := xid.New("trx")
	lines := make([]domain.SaleLine, 0, len(p.lines))
	for _, line := range p.lines {
		line.ID = xid.New("line")
		line.SaleID = saleID
		lines = append(lines, line)
	}
	return domain.Sale{
		ID:             saleID,
		SettlementID:   settlementID,
		StoreID:        p.storeID,
		CashierID:      p.cashierID,
		ShiftID:        p.shiftID,
		CustomerID:     p.customerID(),
		Subtotal:       p.subtotal,
		TaxAmount:      p.tax,
		DiscountAmount: p.discount,
		VoucherCode:    p.voucherCode,
		TotalAmount:    p.total,
		Status:         status,
		CreatedAt:      at,
		Lines:          lines,
	}
}

func (s *Service) CheckoutCash(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	req.PaymentMethod = domain.PaymentMethodCash
	return s.Checkout(ctx, req)
}

func (s *Service) CheckoutTransfer(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	req.PaymentMethod = domain.PaymentMethodTransfer
	return s.Checkout(ctx, req)
}

// Checkout settles a cart. Cash completes immediately with every side effect
// applied; transfer leaves a pending settlement behind a hosted payment link.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	plan, err := s.prepareCheckout(ctx, req)
	if err != nil {
		return domain.CheckoutResult{}, err
	}

	switch plan.method {
	case domain.PaymentMethodCash:
		return s.settleCash(ctx, plan)
	default:
		return s.openTransfer(ctx, plan)
	}
}

func (s *Service) prepareCheckout(ctx context.Context, req domain.CheckoutRequest) (checkoutPlan, error) {
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentMethodCash
	}
	if method != domain.PaymentMethodCash && method != domain.PaymentMethodTransfer {
		return checkoutPlan{}, invalid("payment_method", "must be one of [cash transfer]")
	}
	if err := validateStruct(req); err != nil {
		return checkoutPlan{}, err
	}

	st, err := s.resolveStore(ctx, req.StoreID)
	if err != nil {
		return checkoutPlan{}, err
	}
	cashierID, err := resolveCashier(ctx, req.CashierID)
	if err != nil {
		return checkoutPlan{}, err
	}

	plan := checkoutPlan{
		method:        method,
		storeID:       st.ID,
		cashierID:     cashierID,
		tax:           req.TaxAmount,
		customerName:  strings.TrimSpace(req.CustomerName),
		customerPhone: strings.TrimSpace(req.CustomerPhone),
	}

	if customerID := strings.TrimSpace(req.CustomerID); customerID != "" {
		customer, err := s.repo.GetCustomer(ctx, customerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return checkoutPlan{}, invalid("customer_id", "customer %s not found", customerID)
			}
			return checkoutPlan{}, err
		}
		plan.customer = customer
	}

	if err := s.priceLines(ctx, req.CartItems, &plan); err != nil {
		return checkoutPlan{}, err
	}
	if req.Subtotal != 0 && !money.Within(req.Subtotal, plan.subtotal, money.Tolerance) {
		return checkoutPlan{}, invalid("subtotal", "expected %d from cart items, got %d", plan.subtotal, req.Subtotal)
	}

	plan.discount = req.DiscountAmount
	if code := strings.TrimSpace(req.VoucherCode); code != "" {
		if plan.customer == nil {
			return checkoutPlan{}, invalid("customer_id", "is required when voucher_code is set")
		}
		quote, err := s.vouchers.Validate(ctx, code, plan.customer.ID, plan.subtotal)
		if err != nil {
			return checkoutPlan{}, err
		}
		plan.voucherCode = quote.Code
		plan.discount = quote.DiscountAmount
	}
	gross, ok := money.Add(plan.subtotal, plan.tax)
	if !ok {
		return checkoutPlan{}, invalid("tax_amount", "subtotal plus tax exceeds the supported range")
	}
	plan.discount = money.Clamp(plan.discount, 0, gross)
	plan.total = gross - plan.discount

	requested := money.MaxInt64(*req.TotalAmount, 0)
	if !money.Within(requested, plan.total, money.Tolerance) {
		return checkoutPlan{}, invalid("total_amount", "expected %d, got %d", plan.total, requested)
	}

	switch method {
	case domain.PaymentMethodCash:
		if req.CashReceived < plan.total {
			return checkoutPlan{}, invalid("cash_received", "must be at least %d", plan.total)
		}
		plan.cashReceived = req.CashReceived
		plan.change = req.CashReceived - plan.total
	case domain.PaymentMethodTransfer:
		if plan.total <= 0 {
			return checkoutPlan{}, invalid("total_amount", "must be greater than 0 for transfer")
		}
		if err := s.precheckStock(ctx, plan); err != nil {
			return checkoutPlan{}, err
		}
	}

	shift, err := s.repo.GetActiveShift(ctx, plan.storeID, plan.cashierID)
	switch {
	case err == nil:
		plan.shiftID = shift.ID
	case !errors.Is(err, store.ErrNotFound):
		return checkoutPlan{}, err
	}

	return plan, nil
}

func (s *Service) priceLines(ctx context.Context, items []domain.CartItem, plan *checkoutPlan) error {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, strings.TrimSpace(item.ProductID))
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return err
	}

	plan.lines = make([]domain.SaleLine, 0, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		product, ok := products[productID]
		if !ok {
			return invalid(fmt.Sprintf("cart_items[%d].product_id", i), "product %s not found or inactive", productID)
		}
		name := strings.TrimSpace(item.ProductName)
		if name == "" {
			name = product.Name
		}
		lineSubtotal, ok := money.Mul(int64(item.Quantity), item.UnitPrice)
		if !ok {
			return invalid(fmt.Sprintf("cart_items[%d].unit_price", i), "line amount exceeds the supported range")
		}
		plan.lines = append(plan.lines, domain.SaleLine{
			ProductID:   productID,
			ProductName: name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    lineSubtotal,
		})
		if plan.subtotal, ok = money.Add(plan.subtotal, lineSubtotal); !ok {
			return invalid("cart_items", "subtotal exceeds the supported range")
		}
	}
	return nil
}

// precheckStock is a read-only guard so that a shortage is reported before the
// gateway is contacted. The decrement itself is guarded again on completion.
func (s *Service) precheckStock(ctx context.Context, plan checkoutPlan) error {
	needed := make(map[string]int, len(plan.lines))
	ids := make([]string, 0, len(plan.lines))
	for _, line := range plan.lines {
		if _, seen := needed[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		needed[line.ProductID] += line.Quantity
	}

	available, err := s.repo.GetStockMap(ctx, plan.storeID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if available[id] < needed[id] {
			return fmt.Errorf("product %s: need %d, have %d: %w", id, needed[id], available[id], store.ErrInsufficientStock)
		}
	}
	return nil
}

func (s *Service) settleCash(ctx context.Context, plan checkoutPlan) (domain.CheckoutResult, error) {
	now := s.now()
	settlement := domain.Settlement{
		ID:           xid.New("pay"),
		Method:       domain.PaymentMethodCash,
		Amount:       plan.total,
		Status:       domain.SettlementStatusCompleted,
		CashReceived: plan.cashReceived,
		ChangeAmount: plan.change,
		PaidAt:       &now,
		CreatedAt:    now,
	}
	sale := plan.sale(settlement.ID, domain.SettlementStatusCompleted, now)

	var effects completionEffects
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSettlement(ctx, settlement); err != nil {
			return err
		}
		if err := tx.CreateSale(ctx, sale); err != nil {
			return err
		}
		var err error
		effects, err = s.applyCompletion(ctx, tx, settlement, sale, now)
		return err
	})
	if err != nil {
		return domain.CheckoutResult{}, fmt.Errorf("cash checkout: %w", err)
	}

	slog.InfoContext(ctx, "[checkout] cash settlement completed",
		"payment_id", settlement.ID, "transaction_id", sale.ID, "amount", settlement.Amount,
		"points", effects.points, "vouchers_issued", len(effects.issued))
	s.logAudit(ctx, sale.StoreID, "checkout_cash", "transaction", sale.ID,
		fmt.Sprintf("total=%d,discount=%d,change=%d,voucher=%s", sale.TotalAmount, sale.DiscountAmount, settlement.ChangeAmount, sale.VoucherCode))
	s.publish(ctx, settlementEvent(domain.EventSettlementCompleted, settlement, sale, now))

	detail := s.saleDetail(ctx, sale, settlement)
	return domain.CheckoutResult{Method: domain.PaymentMethodCash, Sale: &detail}, nil
}

func (s *Service) openTransfer(ctx context.Context, plan checkoutPlan) (domain.CheckoutResult, error) {
	now := s.now()
	settlement := domain.Settlement{
		ID:        xid.New("pay"),
		Method:    domain.PaymentMethodTransfer,
		Amount:    plan.total,
		Status:    domain.SettlementStatusPending,
		CreatedAt: now,
	}
	sale := plan.sale(settlement.ID, domain.SettlementStatusPending, now)

	orderCode := xid.OrderCode()
	reference := strconv.FormatInt(orderCode, 10)
	description := gateway.TrimDescription("Order " + reference)

	items := make([]gateway.Item, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		items = append(items, gateway.Item{Name: line.ProductName, Quantity: line.Quantity, Price: line.UnitPrice})
	}

	var link *gateway.PaymentLink
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSettlement(ctx, settlement); err != nil {
			return err
		}
		if err := tx.CreateSale(ctx, sale); err != nil {
			return err
		}

		var err error
		link, err = s.gateway.CreatePaymentLink(ctx, gateway.PaymentLinkRequest{
			OrderCode:   orderCode,
			Amount:      plan.total,
			Description: description,
			BuyerName:   plan.customerName,
			BuyerPhone:  plan.customerPhone,
			Items:       items,
		})
		if err != nil {
			if errors.Is(err, gateway.ErrUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
		}
		return tx.SetSettlementReference(ctx, settlement.ID, reference)
	})
	if err != nil {
		slog.WarnContext(ctx, "[checkout] transfer checkout rolled back", "order_code", reference, "error", err)
		return domain.CheckoutResult{}, fmt.Errorf("transfer checkout: %w", err)
	}

	slog.InfoContext(ctx, "[checkout] transfer settlement pending",
		"payment_id", settlement.ID, "transaction_id", sale.ID, "order_code", reference, "amount", settlement.Amount)
	s.logAudit(ctx, sale.StoreID, "checkout_transfer", "transaction", sale.ID,
		fmt.Sprintf("total=%d,order_code=%s,voucher=%s", sale.TotalAmount, reference, sale.VoucherCode))

	return domain.CheckoutResult{
		Method: domain.PaymentMethodTransfer,
		Instructions: &domain.PaymentInstructions{
			TransactionID: sale.ID,
			PaymentID:     settlement.ID,
			OrderCode:     reference,
			CheckoutURL:   link.CheckoutURL,
			QRPayload:     link.QRCode,
			Amount:        settlement.Amount,
			Description:   description,
		},
	}, nil
}

type completionEffects struct {
	points int64
	issued []domain.VoucherInstance
}

// applyCompletion runs every side effect of a settlement reaching completed.
// It is shared by cash checkout and transfer reconciliation and must run in
// the same unit as the status change.
func (s *Service) applyCompletion(ctx context.Context, tx store.Tx, settlement domain.Settlement, sale domain.Sale, at time.Time) (completionEffects, error) {
	var effects completionEffects

	for _, line := range sale.Lines {
		if err := s.stock.Decrement(ctx, tx, sale.StoreID, line.ProductID, line.Quantity); err != nil {
			return effects, err
		}
	}

	if sale.VoucherCode != "" {
		if err := s.vouchers.Redeem(ctx, tx, sale.VoucherCode, sale.CustomerID, sale.ID, at); err != nil {
			return effects, err
		}
	}

	if sale.CustomerID != "" {
		points, err := s.vouchers.Accrue(ctx, tx, sale.CustomerID, sale.Subtotal)
		if err != nil {
			return effects, err
		}
		issued, err := s.vouchers.AutoIssue(ctx, tx, sale.CustomerID, points, at)
		if err != nil {
			return effects, err
		}
		effects.points = points
		effects.issued = issued
	}

	if sale.ShiftID != "" {
		if err := s.shifts.Accumulate(ctx, tx, sale.ShiftID, settlement.Method, settlement.Amount); err != nil {
			return effects, err
		}
	}
	return effects, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleDetail, error) {
	sale, err := s.repo.FindSaleByID(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleDetail{}, err
	}
	settlement, err := s.repo.FindSettlementByID(ctx, sale.SettlementID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	return s.saleDetail(ctx, *sale, *settlement), nil
}

// saleDetail decorates a committed sale with its customer and voucher. Lookup
// failures only drop the decoration.
func (s *Service) saleDetail(ctx context.Context, sale domain.Sale, settlement domain.Settlement) domain.SaleDetail {
	detail := domain.SaleDetail{Sale: sale, Payment: settlement}
	if sale.CustomerID != "" {
		if customer, err := s.repo.GetCustomer(ctx, sale.CustomerID); err == nil {
			detail.Customer = customer
		}
	}
	if sale.VoucherCode != "" {
		if voucher, err := s.repo.GetVoucher(ctx, sale.VoucherCode); err == nil {
			detail.Voucher = voucher
		}
	}
	return detail
}

func (s *Service) resolveStore(ctx context.Context, storeID string) (*domain.Store, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		st, err := s.repo.FirstActiveStore(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, invalid("store_id", "no active store configured")
			}
			return nil, err
		}
		return st, nil
	}

	st, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid("store_id", "store %s not found", storeID)
		}
		return nil, err
	}
	if !st.Active {
		return nil, invalid("store_id", "store %s is inactive", storeID)
	}
	return st, nil
}

func resolveCashier(ctx context.Context, cashierID string) (string, error) {
	if cashierID = strings.TrimSpace(cashierID); cashierID != "" {
		return cashierID, nil
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username, nil
	}
	return "", invalid("cashier_id", "is required")
}
