package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ClientConfig struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
	Timeout     time.Duration
}

// Client is the HTTP adapter for the hosted-checkout API.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

type createLinkBody struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	BuyerName   string `json:"buyerName,omitempty"`
	BuyerPhone  string `json:"buyerPhone,omitempty"`
	Items       []Item `json:"items,omitempty"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	Signature   string `json:"signature"`
}

type createLinkData struct {
	PaymentLinkID string `json:"paymentLinkId"`
	OrderCode     int64  `json:"orderCode"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
}

type statusData struct {
	ID         string `json:"id"`
	OrderCode  int64  `json:"orderCode"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amountPaid"`
	Status     string `json:"status"`
}

type webhookData struct {
	OrderCode     int64  `json:"orderCode"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	Reference     string `json:"reference"`
	PaymentLinkID string `json:"paymentLinkId"`
	Code          string `json:"code"`
	Desc          string `json:"desc"`
}

func (c *Client) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (*PaymentLink, error) {
	description := TrimDescription(req.Description)
	body := createLinkBody{
		OrderCode:   req.OrderCode,
		Amount:      req.Amount,
		Description: description,
		BuyerName:   req.BuyerName,
		BuyerPhone:  req.BuyerPhone,
		Items:       req.Items,
		CancelURL:   c.cfg.CancelURL,
		ReturnURL:   c.cfg.ReturnURL,
	}
	body.Signature = Sign(c.cfg.ChecksumKey, map[string]any{
		"amount":      req.Amount,
		"cancelUrl":   c.cfg.CancelURL,
		"description": description,
		"orderCode":   req.OrderCode,
		"returnUrl":   c.cfg.ReturnURL,
	})

	var data createLinkData
	if err := c.do(ctx, http.MethodPost, "/v2/payment-requests", body, &data); err != nil {
		return nil, err
	}
	return &PaymentLink{
		PaymentLinkID: data.PaymentLinkID,
		OrderCode:     data.OrderCode,
		Amount:        data.Amount,
		Status:        data.Status,
		CheckoutURL:   data.CheckoutURL,
		QRCode:        data.QRCode,
	}, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, orderCode int64) (*PaymentStatus, error) {
	var data statusData
	path := "/v2/payment-requests/" + strconv.FormatInt(orderCode, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return &PaymentStatus{
		PaymentLinkID: data.ID,
		OrderCode:     data.OrderCode,
		Amount:        data.Amount,
		AmountPaid:    data.AmountPaid,
		Status:        strings.ToUpper(data.Status),
	}, nil
}

// VerifyWebhook checks the payload signature against the data object and
// decodes the notification. It performs no I/O.
func (c *Client) VerifyWebhook(payload []byte) (*WebhookEvent, error) {
	return verifyWebhook(c.cfg.ChecksumKey, payload)
}

func verifyWebhook(checksumKey string, payload []byte) (*WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrInvalidSignature, err)
	}
	if len(env.Data) == 0 || env.Signature == "" {
		return nil, fmt.Errorf("%w: missing data or signature", ErrInvalidSignature)
	}

	fields, err := decodeFields(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode data: %v", ErrInvalidSignature, err)
	}
	if !verify(checksumKey, fields, env.Signature) {
		return nil, ErrInvalidSignature
	}

	var data webhookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode data: %v", ErrInvalidSignature, err)
	}
	return &WebhookEvent{
		Code:          env.Code,
		Description:   env.Desc,
		Success:       env.Success,
		OrderCode:     data.OrderCode,
		Amount:        data.Amount,
		Reference:     data.Reference,
		PaymentLinkID: data.PaymentLinkID,
	}, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-api-key", c.cfg.APIKey)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "[gateway] request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	slog.DebugContext(ctx, "[gateway] response", "method", method, "path", path, "status", resp.StatusCode, "elapsed_ms", time.Since(started).Milliseconds())

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http status %d", ErrUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if env.Code != codeSuccess {
		if isNotFoundCode(env.Code) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: code %s: %s", ErrUnavailable, env.Code, env.Desc)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrUnavailable, err)
	}
	return nil
}

// The provider reports an unknown order code as 101.
func isNotFoundCode(code string) bool {
	return code == "101"
}

var _ Gateway = (*Client)(nil)
