package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kasirinaja/settlement/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckoutCash(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.CheckoutCash(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Sale)
}

func (a *API) handleCheckoutTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.CheckoutTransfer(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Instructions)
}

func (a *API) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.GetPaymentStatus(r.Context(), chi.URLParam(r, "orderCode"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handlePaymentSync(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.SyncPaymentStatus(r.Context(), chi.URLParam(r, "orderCode"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleWebhook always acknowledges so that the provider does not retry a
// notification that can never succeed; failures are logged and audited.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		slog.WarnContext(r.Context(), "[webhook] read body failed", "error", err)
		writeJSON(w, http.StatusOK, nil)
		return
	}

	result, err := a.service.HandleWebhook(r.Context(), payload)
	if err != nil {
		slog.WarnContext(r.Context(), "[webhook] notification not applied", "error", err)
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleVoucherValidate(w http.ResponseWriter, r *http.Request) {
	var req domain.VoucherValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	quote, err := a.service.ValidateVoucher(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleCustomerVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := a.service.ListCustomerVouchers(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vouchers)
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shift, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shift, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	shift, err := a.service.GetActiveShift(r.Context(), query.Get("store_id"), query.Get("cashier_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}
