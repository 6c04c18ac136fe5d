package service

import (
	"context"
	"strings"

	"kasirinaja/settlement/internal/domain"
)

// ValidateVoucher quotes a voucher against a purchase amount without
// reserving it. Redemption only happens when a settlement completes.
func (s *Service) ValidateVoucher(ctx context.Context, req domain.VoucherValidateRequest) (domain.VoucherQuote, error) {
	if err := validateStruct(req); err != nil {
		return domain.VoucherQuote{}, err
	}
	return s.vouchers.Validate(ctx, strings.TrimSpace(req.Code), strings.TrimSpace(req.CustomerID), req.PurchaseAmount)
}

func (s *Service) ListCustomerVouchers(ctx context.Context, customerID string) ([]domain.VoucherInstance, error) {
	customerID = strings.TrimSpace(customerID)
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.vouchers.ListCustomerVouchers(ctx, customerID)
}
