package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kasirinaja/settlement/internal/domain"
)

const testChecksumKey = "checksum-test-key"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(ClientConfig{
		BaseURL:     server.URL,
		ClientID:    "client-id",
		APIKey:      "api-key",
		ChecksumKey: testChecksumKey,
		ReturnURL:   "https://pos.example/return",
		CancelURL:   "https://pos.example/cancel",
		Timeout:     2 * time.Second,
	})
}

func TestCreatePaymentLinkSignsRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/payment-requests" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-client-id") != "client-id" || r.Header.Get("x-api-key") != "api-key" {
			t.Errorf("missing credentials headers")
		}
		var body createLinkBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		expected := Sign(testChecksumKey, map[string]any{
			"amount":      body.Amount,
			"cancelUrl":   body.CancelURL,
			"description": body.Description,
			"orderCode":   body.OrderCode,
			"returnUrl":   body.ReturnURL,
		})
		if body.Signature != expected {
			t.Errorf("signature mismatch: got %s want %s", body.Signature, expected)
		}
		if len(body.Description) > maxDescriptionLen {
			t.Errorf("description not trimmed: %q", body.Description)
		}
		_, _ = w.Write([]byte(`{"code":"00","desc":"success","data":{"paymentLinkId":"pl-1","orderCode":1700000000000123,"amount":50000,"status":"PENDING","checkoutUrl":"https://pay.example/pl-1","qrCode":"000201qr"}}`))
	})

	link, err := client.CreatePaymentLink(context.Background(), PaymentLinkRequest{
		OrderCode:   1700000000000123,
		Amount:      50000,
		Description: "Pembayaran transaksi trx-1234567890",
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if link.CheckoutURL != "https://pay.example/pl-1" || link.QRCode != "000201qr" {
		t.Fatalf("unexpected link %+v", link)
	}
}

func TestCreatePaymentLinkRejectedCodeIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"20","desc":"invalid signature"}`))
	})
	_, err := client.CreatePaymentLink(context.Background(), PaymentLinkRequest{OrderCode: 1, Amount: 1000})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.GetPaymentStatus(context.Background(), 42)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestGetPaymentStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/payment-requests/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"code":"00","desc":"success","data":{"id":"pl-1","orderCode":42,"amount":50000,"amountPaid":50000,"status":"paid"}}`))
	})
	status, err := client.GetPaymentStatus(context.Background(), 42)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != StatusPaid || OutcomeFor(status.Status) != domain.OutcomePaid {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestVerifyWebhook(t *testing.T) {
	client := NewClient(ClientConfig{ChecksumKey: testChecksumKey})
	payload, err := SignedWebhook(testChecksumKey, WebhookEvent{
		Code:        "00",
		Description: "success",
		Success:     true,
		OrderCode:   1700000000000123,
		Amount:      50000,
		Reference:   "FT123",
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	event, err := client.VerifyWebhook(payload)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.OrderCode != 1700000000000123 || event.Outcome() != domain.OutcomePaid {
		t.Fatalf("unexpected event %+v", event)
	}

	tampered := strings.Replace(string(payload), `"amount":50000`, `"amount":1`, 1)
	if _, err := client.VerifyWebhook([]byte(tampered)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for tampered payload, got %v", err)
	}
	if _, err := client.VerifyWebhook([]byte(`{"code":"00"}`)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for unsigned payload, got %v", err)
	}
}

func TestOutcomeMapping(t *testing.T) {
	cases := map[string]domain.PaymentOutcome{
		"PAID":       domain.OutcomePaid,
		"cancelled":  domain.OutcomeCancelled,
		"EXPIRED":    domain.OutcomeCancelled,
		"PENDING":    domain.OutcomePending,
		"PROCESSING": domain.OutcomePending,
		"":           domain.OutcomePending,
	}
	for status, want := range cases {
		if got := OutcomeFor(status); got != want {
			t.Fatalf("OutcomeFor(%q) = %s, want %s", status, got, want)
		}
	}
	if (WebhookEvent{Code: "01", Success: false}).Outcome() != domain.OutcomePending {
		t.Fatalf("expected failed notification to leave payment pending")
	}
}

func TestCanonicalSortsKeys(t *testing.T) {
	got := canonical(map[string]any{"orderCode": int64(7), "amount": int64(100), "desc": nil, "description": "abc"})
	want := "amount=100&desc=&description=abc&orderCode=7"
	if got != want {
		t.Fatalf("canonical = %q, want %q", got, want)
	}
}
