// Package gateway talks to the hosted-checkout payment provider used for
// bank transfer and QR settlements.
package gateway

import (
	"context"
	"errors"
	"strings"

	"kasirinaja/settlement/internal/domain"
)

var (
	ErrUnavailable      = errors.New("payment gateway unavailable")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNotFound         = errors.New("payment link not found")
)

const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusPaid       = "PAID"
	StatusCancelled  = "CANCELLED"
	StatusExpired    = "EXPIRED"
)

// codeSuccess is the provider's result code for an accepted request or a
// settled payment.
const codeSuccess = "00"

type Gateway interface {
	CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (*PaymentLink, error)
	GetPaymentStatus(ctx context.Context, orderCode int64) (*PaymentStatus, error)
	VerifyWebhook(payload []byte) (*WebhookEvent, error)
}

type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type PaymentLinkRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
	BuyerName   string
	BuyerPhone  string
	Items       []Item
}

type PaymentLink struct {
	PaymentLinkID string
	OrderCode     int64
	Amount        int64
	Status        string
	CheckoutURL   string
	QRCode        string
}

type PaymentStatus struct {
	PaymentLinkID string
	OrderCode     int64
	Amount        int64
	AmountPaid    int64
	Status        string
}

type WebhookEvent struct {
	Code          string
	Description   string
	Success       bool
	OrderCode     int64
	Amount        int64
	Reference     string
	PaymentLinkID string
}

// OutcomeFor maps a provider payment status onto a settlement outcome.
func OutcomeFor(status string) domain.PaymentOutcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusPaid:
		return domain.OutcomePaid
	case StatusCancelled, StatusExpired:
		return domain.OutcomeCancelled
	default:
		return domain.OutcomePending
	}
}

// Outcome is paid only for a successful payment notification. Other
// notifications carry no reliable status and report pending; the caller
// confirms them with GetPaymentStatus.
func (e WebhookEvent) Outcome() domain.PaymentOutcome {
	if e.Success && e.Code == codeSuccess {
		return domain.OutcomePaid
	}
	return domain.OutcomePending
}

// maxDescriptionLen is the longest transfer memo the provider accepts.
const maxDescriptionLen = 25

func TrimDescription(description string) string {
	description = strings.TrimSpace(description)
	if len(description) <= maxDescriptionLen {
		return description
	}
	return description[:maxDescriptionLen]
}
