package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/gateway"
	"kasirinaja/settlement/internal/store"
)

// ErrAmountMismatch is returned when the gateway reports a paid amount that
// differs from the settlement amount. The settlement is left pending.
var ErrAmountMismatch = errors.New("paid amount does not match settlement amount")

// unknownAmount marks an observation that carries no paid amount.
const unknownAmount int64 = -1

// Reconcile applies a gateway outcome to the pending settlement behind
// orderCode. It is idempotent: a settlement that already left pending is
// reported as is, and concurrent callers race on a conditional transition
// that only one of them can win.
func (s *Service) Reconcile(ctx context.Context, orderCode string, outcome domain.PaymentOutcome) (domain.ReconciliationResult, error) {
	return s.reconcile(ctx, orderCode, outcome, unknownAmount)
}

func (s *Service) reconcile(ctx context.Context, orderCode string, outcome domain.PaymentOutcome, paidAmount int64) (domain.ReconciliationResult, error) {
	orderCode = strings.TrimSpace(orderCode)
	settlement, err := s.repo.FindSettlementByReference(ctx, orderCode)
	if err != nil {
		return domain.ReconciliationResult{}, err
	}

	result := domain.ReconciliationResult{
		OrderCode:    orderCode,
		SettlementID: settlement.ID,
		Status:       settlement.Status,
	}
	if sale, err := s.repo.FindSaleBySettlement(ctx, settlement.ID); err == nil {
		result.SaleID = sale.ID
	}

	if domain.IsTerminalSettlementStatus(settlement.Status) {
		return result, nil
	}

	switch outcome {
	case domain.OutcomePending:
		return result, nil
	case domain.OutcomePaid:
		if paidAmount != unknownAmount && paidAmount != settlement.Amount {
			slog.ErrorContext(ctx, "[reconcile] paid amount mismatch",
				"order_code", orderCode, "payment_id", settlement.ID, "expected", settlement.Amount, "paid", paidAmount)
			s.logAudit(ctx, "", "payment_amount_mismatch", "payment", settlement.ID,
				fmt.Sprintf("order_code=%s,expected=%d,paid=%d", orderCode, settlement.Amount, paidAmount))
			return domain.ReconciliationResult{}, fmt.Errorf("%w: expected %d, gateway reported %d", ErrAmountMismatch, settlement.Amount, paidAmount)
		}
		return s.finishTransfer(ctx, result, domain.SettlementStatusCompleted)
	case domain.OutcomeCancelled:
		return s.finishTransfer(ctx, result, domain.SettlementStatusCancelled)
	default:
		return domain.ReconciliationResult{}, invalid("outcome", "must be one of [pending paid cancelled]")
	}
}

// finishTransfer moves a pending transfer to a terminal status. Completion
// runs the full cascade in the same unit; cancellation touches nothing else.
func (s *Service) finishTransfer(ctx context.Context, result domain.ReconciliationResult, to string) (domain.ReconciliationResult, error) {
	now := s.now()

	var (
		applied    bool
		settlement domain.Settlement
		sale       domain.Sale
		effects    completionEffects
	)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockSettlement(ctx, result.SettlementID)
		if err != nil {
			return err
		}
		settlement = *locked
		if settlement.Status != domain.SettlementStatusPending {
			return nil
		}

		ok, err := tx.TransitionSettlement(ctx, settlement.ID, domain.SettlementStatusPending, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		current, err := tx.GetSaleBySettlement(ctx, settlement.ID)
		if err != nil {
			return err
		}
		settlement.Status = to
		sale = *current
		sale.Status = to

		if to == domain.SettlementStatusCompleted {
			settlement.PaidAt = &now
			effects, err = s.applyCompletion(ctx, tx, settlement, sale, now)
			if err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		if to == domain.SettlementStatusCompleted && isCompletionRejection(err) {
			return s.failTransfer(ctx, result, err)
		}
		slog.ErrorContext(ctx, "[reconcile] settlement left pending",
			"order_code", result.OrderCode, "payment_id", result.SettlementID, "target", to, "error", err)
		s.logAudit(ctx, "", "payment_reconcile_failed", "payment", result.SettlementID,
			fmt.Sprintf("order_code=%s,target=%s,error=%s", result.OrderCode, to, err.Error()))
		return domain.ReconciliationResult{}, fmt.Errorf("reconcile %s: %w", result.OrderCode, err)
	}

	result.Status = settlement.Status
	result.Applied = applied
	if !applied {
		// Another caller won the transition; report where it left the settlement.
		if latest, err := s.repo.FindSettlementByID(ctx, settlement.ID); err == nil {
			result.Status = latest.Status
		}
		slog.InfoContext(ctx, "[reconcile] already reconciled", "order_code", result.OrderCode, "status", result.Status)
		return result, nil
	}

	s.invalidateStatus(ctx, result.OrderCode)

	action := "payment_completed"
	eventType := domain.EventSettlementCompleted
	if to == domain.SettlementStatusCancelled {
		action = "payment_cancelled"
		eventType = domain.EventSettlementCancelled
	}
	slog.InfoContext(ctx, "[reconcile] settlement "+to,
		"order_code", result.OrderCode, "payment_id", settlement.ID, "transaction_id", sale.ID,
		"points", effects.points, "vouchers_issued", len(effects.issued))
	s.logAudit(ctx, sale.StoreID, action, "payment", settlement.ID,
		fmt.Sprintf("order_code=%s,amount=%d", result.OrderCode, settlement.Amount))
	s.publish(ctx, settlementEvent(eventType, settlement, sale, now))

	return result, nil
}

// isCompletionRejection reports whether a paid transfer can never complete:
// its stock is gone or its voucher was spent elsewhere. Anything else may
// succeed on a later attempt.
func isCompletionRejection(err error) bool {
	return errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrVoucherUnavailable)
}

// failTransfer records a paid transfer whose completion was rejected as
// failed, so it is no longer retried and stands apart from transfers still
// awaiting payment. No ledger effect is applied.
func (s *Service) failTransfer(ctx context.Context, result domain.ReconciliationResult, cause error) (domain.ReconciliationResult, error) {
	now := s.now()

	var (
		applied    bool
		settlement domain.Settlement
		sale       domain.Sale
	)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockSettlement(ctx, result.SettlementID)
		if err != nil {
			return err
		}
		settlement = *locked
		if settlement.Status != domain.SettlementStatusPending {
			return nil
		}
		ok, err := tx.TransitionSettlement(ctx, settlement.ID, domain.SettlementStatusPending, domain.SettlementStatusFailed, now)
		if err != nil || !ok {
			return err
		}
		current, err := tx.GetSaleBySettlement(ctx, settlement.ID)
		if err != nil {
			return err
		}
		settlement.Status = domain.SettlementStatusFailed
		sale = *current
		sale.Status = domain.SettlementStatusFailed
		applied = true
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "[reconcile] settlement left pending",
			"order_code", result.OrderCode, "payment_id", result.SettlementID, "cause", cause, "error", err)
		s.logAudit(ctx, "", "payment_reconcile_failed", "payment", result.SettlementID,
			fmt.Sprintf("order_code=%s,target=%s,error=%s", result.OrderCode, domain.SettlementStatusFailed, err.Error()))
		return domain.ReconciliationResult{}, fmt.Errorf("reconcile %s: %w", result.OrderCode, err)
	}

	result.Applied = applied
	result.Status = settlement.Status
	if !applied {
		return result, nil
	}
	result.Reason = cause.Error()

	s.invalidateStatus(ctx, result.OrderCode)
	slog.ErrorContext(ctx, "[reconcile] paid transfer could not be completed",
		"order_code", result.OrderCode, "payment_id", settlement.ID, "transaction_id", sale.ID, "error", cause)
	s.logAudit(ctx, sale.StoreID, "payment_failed", "payment", settlement.ID,
		fmt.Sprintf("order_code=%s,amount=%d,error=%s", result.OrderCode, settlement.Amount, cause.Error()))
	s.publish(ctx, settlementEvent(domain.EventSettlementFailed, settlement, sale, now))

	return result, nil
}

func (s *Service) invalidateStatus(ctx context.Context, orderCode string) {
	if err := s.statusCache.Delete(ctx, orderCode); err != nil {
		slog.WarnContext(ctx, "[reconcile] status cache invalidation failed", "order_code", orderCode, "error", err)
	}
}

// HandleWebhook verifies a pushed gateway notification and reconciles it.
// A successful payment is applied with the notified amount. Any other
// notification is confirmed against the gateway status before it can cancel
// the settlement.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte) (domain.ReconciliationResult, error) {
	event, err := s.gateway.VerifyWebhook(payload)
	if err != nil {
		slog.WarnContext(ctx, "[webhook] rejected notification", "error", err)
		s.logAudit(ctx, "", "webhook_rejected", "payment", "", err.Error())
		return domain.ReconciliationResult{}, err
	}

	orderCode := strconv.FormatInt(event.OrderCode, 10)
	slog.InfoContext(ctx, "[webhook] notification received",
		"order_code", orderCode, "code", event.Code, "success", event.Success, "reference", event.Reference)
	if event.Outcome() == domain.OutcomePaid {
		return s.reconcile(ctx, orderCode, domain.OutcomePaid, event.Amount)
	}
	return s.syncFromGateway(ctx, event.OrderCode)
}

// SyncPaymentStatus pulls the gateway status for orderCode and reconciles it
// synchronously. It is the operator path for transfers whose webhook never
// arrived.
func (s *Service) SyncPaymentStatus(ctx context.Context, orderCode string) (domain.ReconciliationResult, error) {
	code, err := parseOrderCode(orderCode)
	if err != nil {
		return domain.ReconciliationResult{}, err
	}
	return s.syncFromGateway(ctx, code)
}

func (s *Service) syncFromGateway(ctx context.Context, code int64) (domain.ReconciliationResult, error) {
	if _, err := s.repo.FindSettlementByReference(ctx, strconv.FormatInt(code, 10)); err != nil {
		return domain.ReconciliationResult{}, err
	}

	status, err := s.gateway.GetPaymentStatus(ctx, code)
	if err != nil {
		return domain.ReconciliationResult{}, gatewayLookupError(err)
	}
	view := s.statusView(code, status)
	s.cacheStatus(ctx, view)

	outcome := gateway.OutcomeFor(status.Status)
	paid := unknownAmount
	if outcome == domain.OutcomePaid {
		paid = status.AmountPaid
	}
	return s.reconcile(ctx, view.OrderCode, outcome, paid)
}

// GetPaymentStatus reports the gateway's view of a transfer without touching
// local state. Lookups are cached briefly.
func (s *Service) GetPaymentStatus(ctx context.Context, orderCode string) (domain.GatewayStatus, error) {
	code, err := parseOrderCode(orderCode)
	if err != nil {
		return domain.GatewayStatus{}, err
	}
	key := strconv.FormatInt(code, 10)

	cached, ok, err := s.statusCache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "[status] cache read failed", "order_code", key, "error", err)
	} else if ok {
		return *cached, nil
	}

	status, err := s.gateway.GetPaymentStatus(ctx, code)
	if err != nil {
		return domain.GatewayStatus{}, gatewayLookupError(err)
	}
	view := s.statusView(code, status)
	s.cacheStatus(ctx, view)
	return view, nil
}

func (s *Service) statusView(code int64, status *gateway.PaymentStatus) domain.GatewayStatus {
	return domain.GatewayStatus{
		OrderCode:     strconv.FormatInt(code, 10),
		Status:        status.Status,
		Outcome:       string(gateway.OutcomeFor(status.Status)),
		Amount:        status.Amount,
		AmountPaid:    status.AmountPaid,
		PaymentLinkID: status.PaymentLinkID,
		CheckedAt:     s.now(),
	}
}

func (s *Service) cacheStatus(ctx context.Context, view domain.GatewayStatus) {
	if err := s.statusCache.Set(ctx, view.OrderCode, &view, s.statusCacheTTL); err != nil {
		slog.WarnContext(ctx, "[status] cache write failed", "order_code", view.OrderCode, "error", err)
	}
}

func parseOrderCode(orderCode string) (int64, error) {
	code, err := strconv.ParseInt(strings.TrimSpace(orderCode), 10, 64)
	if err != nil || code <= 0 {
		return 0, invalid("order_code", "must be a positive integer")
	}
	return code, nil
}

func gatewayLookupError(err error) error {
	if errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if errors.Is(err, gateway.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
}
