package service

import (
	"context"
	"errors"
	"fmt"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

var ErrShiftAlreadyOpen = errors.New("shift already open")

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.Shift, error) {
	if err := validateStruct(req); err != nil {
		return domain.Shift{}, err
	}
	st, err := s.resolveStore(ctx, req.StoreID)
	if err != nil {
		return domain.Shift{}, err
	}
	cashierID, err := resolveCashier(ctx, req.CashierID)
	if err != nil {
		return domain.Shift{}, err
	}

	saved, err := s.repo.CreateShift(ctx, domain.Shift{
		ID:           xid.New("shift"),
		StoreID:      st.ID,
		CashierID:    cashierID,
		Status:       domain.ShiftStatusOpened,
		OpeningFloat: req.OpeningFloat,
		OpenedAt:     s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.Shift{}, ErrShiftAlreadyOpen
		}
		return domain.Shift{}, err
	}

	s.logAudit(ctx, st.ID, "shift_open", "shift", saved.ID, fmt.Sprintf("cashier=%s,opening_float=%d", cashierID, req.OpeningFloat))
	return *saved, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.Shift, error) {
	if err := validateStruct(req); err != nil {
		return domain.Shift{}, err
	}
	st, err := s.resolveStore(ctx, req.StoreID)
	if err != nil {
		return domain.Shift{}, err
	}
	cashierID, err := resolveCashier(ctx, req.CashierID)
	if err != nil {
		return domain.Shift{}, err
	}

	closed, err := s.repo.CloseActiveShift(ctx, st.ID, cashierID, req.ClosingCash, s.now())
	if err != nil {
		return domain.Shift{}, err
	}

	expected := closed.OpeningFloat + closed.CashSalesTotal
	s.logAudit(ctx, st.ID, "shift_close", "shift", closed.ID,
		fmt.Sprintf("closing_cash=%d,expected_cash=%d,transfer_total=%d", req.ClosingCash, expected, closed.TransferSalesTotal))
	return *closed, nil
}

func (s *Service) GetActiveShift(ctx context.Context, storeID string, cashierID string) (domain.Shift, error) {
	st, err := s.resolveStore(ctx, storeID)
	if err != nil {
		return domain.Shift{}, err
	}
	cashierID, err = resolveCashier(ctx, cashierID)
	if err != nil {
		return domain.Shift{}, err
	}

	shift, err := s.repo.GetActiveShift(ctx, st.ID, cashierID)
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}
