package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Sandbox is an in-process gateway for local runs without provider
// credentials. Payments stay PENDING until SetStatus moves them.
type Sandbox struct {
	mu          sync.Mutex
	checksumKey string
	links       map[int64]PaymentStatus
	createErr   error
	statusErr   error
}

func NewSandbox(checksumKey string) *Sandbox {
	return &Sandbox{
		checksumKey: checksumKey,
		links:       make(map[int64]PaymentStatus),
	}
}

func (s *Sandbox) CreatePaymentLink(_ context.Context, req PaymentLinkRequest) (*PaymentLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return nil, s.createErr
	}
	if _, exists := s.links[req.OrderCode]; exists {
		return nil, fmt.Errorf("%w: order code %d already used", ErrUnavailable, req.OrderCode)
	}
	linkID := fmt.Sprintf("sandbox-%d", req.OrderCode)
	s.links[req.OrderCode] = PaymentStatus{
		PaymentLinkID: linkID,
		OrderCode:     req.OrderCode,
		Amount:        req.Amount,
		Status:        StatusPending,
	}
	return &PaymentLink{
		PaymentLinkID: linkID,
		OrderCode:     req.OrderCode,
		Amount:        req.Amount,
		Status:        StatusPending,
		CheckoutURL:   fmt.Sprintf("https://sandbox.invalid/checkout/%d", req.OrderCode),
		QRCode:        fmt.Sprintf("00020101021238SANDBOX%d5303704540%d", req.OrderCode, req.Amount),
	}, nil
}

func (s *Sandbox) GetPaymentStatus(_ context.Context, orderCode int64) (*PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statusErr != nil {
		return nil, s.statusErr
	}
	status, ok := s.links[orderCode]
	if !ok {
		return nil, ErrNotFound
	}
	return &status, nil
}

func (s *Sandbox) VerifyWebhook(payload []byte) (*WebhookEvent, error) {
	return verifyWebhook(s.checksumKey, payload)
}

// SetStatus moves a sandbox payment to a provider status such as PAID.
func (s *Sandbox) SetStatus(orderCode int64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link := s.links[orderCode]
	link.OrderCode = orderCode
	link.Status = strings.ToUpper(status)
	if link.Status == StatusPaid {
		link.AmountPaid = link.Amount
	}
	s.links[orderCode] = link
}

// FailCreate makes every CreatePaymentLink call return err until cleared with nil.
func (s *Sandbox) FailCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *Sandbox) FailStatus(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusErr = err
}

func (s *Sandbox) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// SignedWebhook builds a notification body signed with checksumKey, in the
// shape the provider posts.
func SignedWebhook(checksumKey string, event WebhookEvent) ([]byte, error) {
	data := map[string]any{
		"orderCode":     event.OrderCode,
		"amount":        event.Amount,
		"description":   "",
		"reference":     event.Reference,
		"paymentLinkId": event.PaymentLinkID,
		"code":          event.Code,
		"desc":          event.Description,
	}
	return json.Marshal(map[string]any{
		"code":      event.Code,
		"desc":      event.Description,
		"success":   event.Success,
		"data":      data,
		"signature": Sign(checksumKey, data),
	})
}

var _ Gateway = (*Sandbox)(nil)
