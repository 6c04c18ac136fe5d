package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/gateway"
	"kasirinaja/settlement/internal/service"
	"kasirinaja/settlement/internal/store/memory"
)

const testChecksumKey = "http-test-checksum"

type testAPI struct {
	api     *API
	handler http.Handler
	repo    *memory.Store
	gw      *gateway.Sandbox
}

// newTestAPI builds a full API over the seeded memory store and the sandbox
// gateway so that handler tests exercise the complete request path.
func newTestAPI(t *testing.T) testAPI {
	t.Helper()

	repo := memory.NewSeeded()
	gw := gateway.NewSandbox(testChecksumKey)
	svc := service.New(service.Options{Repo: repo, Gateway: gw})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)

	api := New(svc, auth, "*")
	return testAPI{api: api, handler: api.Handler(), repo: repo, gw: gw}
}

type envelopeBody struct {
	Err  int             `json:"err"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (ta testAPI) do(t *testing.T, method string, path string, token string, body any) (*httptest.ResponseRecorder, envelopeBody) {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	var env envelopeBody
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope (status %d, body %s): %v", rec.Code, rec.Body.String(), err)
	}
	return rec, env
}

func (ta testAPI) login(t *testing.T, username string, password string) string {
	t.Helper()
	rec, env := ta.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed, status %d: %s", rec.Code, env.Msg)
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	return resp.AccessToken
}

func checkoutBody(total int64, cash int64) map[string]any {
	return map[string]any{
		"store_id": "main-store",
		"cart_items": []map[string]any{
			{"product_id": "SKU-BERAS-5KG", "quantity": 1, "unit_price": 75000},
			{"product_id": "SKU-MINYAK-2L", "quantity": 1, "unit_price": 35000},
		},
		"total_amount":  total,
		"cash_received": cash,
	}
}

func TestHandleHealth(t *testing.T) {
	ta := newTestAPI(t)
	rec, env := ta.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || env.Err != 0 {
		t.Fatalf("expected healthy response, got %d %+v", rec.Code, env)
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["ok"] != true {
		t.Fatalf("expected ok:true, got %v", data["ok"])
	}
}

func TestCheckoutCashEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.login(t, "cashier", "cashier123")

	rec, env := ta.do(t, http.MethodPost, "/api/v1/checkout/cash", token, checkoutBody(110000, 120000))
	if rec.Code != http.StatusOK || env.Err != 0 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, env.Msg)
	}
	var sale domain.SaleDetail
	if err := json.Unmarshal(env.Data, &sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if sale.Payment.ChangeAmount != 10000 || sale.Status != domain.SettlementStatusCompleted || len(sale.Lines) != 2 {
		t.Fatalf("unexpected sale %+v", sale)
	}
	if sale.CashierID != "cashier" {
		t.Fatalf("expected cashier from token, got %q", sale.CashierID)
	}

	rec, env = ta.do(t, http.MethodGet, "/api/v1/sales/"+sale.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected sale lookup 200, got %d: %s", rec.Code, env.Msg)
	}
}

func TestCheckoutExactCashReportsZeroChange(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.login(t, "cashier", "cashier123")

	rec, env := ta.do(t, http.MethodPost, "/api/v1/checkout/cash", token, checkoutBody(110000, 110000))
	if rec.Code != http.StatusOK || env.Err != 0 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, env.Msg)
	}
	var sale struct {
		Payment map[string]json.RawMessage `json:"payment"`
	}
	if err := json.Unmarshal(env.Data, &sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	change, ok := sale.Payment["change_amount"]
	if !ok {
		t.Fatalf("expected change_amount in payment, got %v", sale.Payment)
	}
	if string(change) != "0" {
		t.Fatalf("expected zero change, got %s", change)
	}
}

func TestCheckoutValidationErrorNamesField(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.login(t, "cashier", "cashier123")

	rec, env := ta.do(t, http.MethodPost, "/api/v1/checkout/cash", token, checkoutBody(110000, 100000))
	if rec.Code != http.StatusBadRequest || env.Err != 1 {
		t.Fatalf("expected 400 rejection, got %d %+v", rec.Code, env)
	}
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["field"] != "cash_received" {
		t.Fatalf("expected cash_received field, got %v", data)
	}
}

func TestCheckoutRequiresToken(t *testing.T) {
	ta := newTestAPI(t)
	rec, env := ta.do(t, http.MethodPost, "/api/v1/checkout/cash", "", checkoutBody(110000, 120000))
	if rec.Code != http.StatusUnauthorized || env.Err != 1 {
		t.Fatalf("expected 401, got %d %+v", rec.Code, env)
	}
}

func TestTransferWebhookAndSync(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.login(t, "cashier", "cashier123")

	rec, env := ta.do(t, http.MethodPost, "/api/v1/checkout/transfer", token, checkoutBody(110000, 0))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected transfer 200, got %d: %s", rec.Code, env.Msg)
	}
	var instructions domain.PaymentInstructions
	if err := json.Unmarshal(env.Data, &instructions); err != nil {
		t.Fatalf("decode instructions: %v", err)
	}
	if instructions.OrderCode == "" || instructions.QRPayload == "" || instructions.Amount != 110000 {
		t.Fatalf("unexpected instructions %+v", instructions)
	}
	orderCode, _ := strconv.ParseInt(instructions.OrderCode, 10, 64)

	forged, _ := gateway.SignedWebhook("not-the-key", gateway.WebhookEvent{Code: "00", Success: true, OrderCode: orderCode, Amount: 110000})
	rec, env = ta.do(t, http.MethodPost, "/api/v1/payments/webhook", "", forged)
	if rec.Code != http.StatusOK || env.Err != 0 {
		t.Fatalf("expected webhook to be acknowledged, got %d %+v", rec.Code, env)
	}
	settlement, _ := ta.repo.FindSettlementByReference(context.Background(), instructions.OrderCode)
	if settlement.Status != domain.SettlementStatusPending {
		t.Fatalf("expected forged webhook to change nothing, got %s", settlement.Status)
	}

	rec, env = ta.do(t, http.MethodGet, "/api/v1/payments/status/"+instructions.OrderCode, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, env.Msg)
	}
	var status domain.GatewayStatus
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != gateway.StatusPending {
		t.Fatalf("expected PENDING, got %+v", status)
	}

	paid, _ := gateway.SignedWebhook(testChecksumKey, gateway.WebhookEvent{Code: "00", Success: true, OrderCode: orderCode, Amount: 110000})
	rec, env = ta.do(t, http.MethodPost, "/api/v1/payments/webhook", "", paid)
	if rec.Code != http.StatusOK || env.Err != 0 {
		t.Fatalf("expected webhook 200, got %d %+v", rec.Code, env)
	}
	var result domain.ReconciliationResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Applied || result.Status != domain.SettlementStatusCompleted {
		t.Fatalf("expected webhook to complete settlement, got %+v", result)
	}

	ta.gw.SetStatus(orderCode, gateway.StatusPaid)
	rec, env = ta.do(t, http.MethodPut, "/api/v1/payments/status/"+instructions.OrderCode, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected sync 200, got %d: %s", rec.Code, env.Msg)
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Applied || result.Status != domain.SettlementStatusCompleted {
		t.Fatalf("expected idempotent sync, got %+v", result)
	}
}

func TestTransferGatewayDownReturns502(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.login(t, "cashier", "cashier123")
	ta.gw.FailCreate(errors.New("dial tcp: connection refused"))

	rec, env := ta.do(t, http.MethodPost, "/api/v1/checkout/transfer", token, checkoutBody(110000, 0))
	if rec.Code != http.StatusBadGateway || env.Err != -1 {
		t.Fatalf("expected 502 system error, got %d %+v", rec.Code, env)
	}
}

func TestVoucherValidateRejection(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.login(t, "cashier", "cashier123")

	rec, env := ta.do(t, http.MethodPost, "/api/v1/vouchers/validate", token, domain.VoucherValidateRequest{
		Code: "WELCOME-NOPE", CustomerID: "CUST-001", PurchaseAmount: 150000,
	})
	if rec.Code != http.StatusUnprocessableEntity || env.Err != 1 {
		t.Fatalf("expected 422, got %d %+v", rec.Code, env)
	}
	var data map[string]string
	_ = json.Unmarshal(env.Data, &data)
	if data["reason"] != "not_found_or_expired" {
		t.Fatalf("expected not_found_or_expired reason, got %v", data)
	}

	rec, _ = ta.do(t, http.MethodGet, "/api/v1/customers/CUST-404/vouchers", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown customer, got %d", rec.Code)
	}
}

func TestShiftEndpoints(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.login(t, "cashier", "cashier123")

	body := map[string]any{"store_id": "main-store", "opening_float": 100000}
	rec, env := ta.do(t, http.MethodPost, "/api/v1/shifts/open", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open 200, got %d: %s", rec.Code, env.Msg)
	}
	rec, _ = ta.do(t, http.MethodPost, "/api/v1/shifts/open", token, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second open shift, got %d", rec.Code)
	}

	rec, env = ta.do(t, http.MethodGet, "/api/v1/shifts/active?store_id=main-store", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected active shift, got %d: %s", rec.Code, env.Msg)
	}

	rec, _ = ta.do(t, http.MethodPost, "/api/v1/shifts/close", token, map[string]any{"store_id": "main-store", "closing_cash": 100000})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected close 200, got %d", rec.Code)
	}
	rec, _ = ta.do(t, http.MethodGet, "/api/v1/shifts/active?store_id=main-store", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", rec.Code)
	}
}

func TestMethodNotAllowedUsesEnvelope(t *testing.T) {
	ta := newTestAPI(t)
	rec, env := ta.do(t, http.MethodGet, "/api/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed || env.Err != 1 {
		t.Fatalf("expected 405 envelope, got %d %+v", rec.Code, env)
	}
}
