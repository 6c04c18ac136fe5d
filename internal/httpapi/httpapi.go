package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kasirinaja/settlement/internal/gateway"
	"kasirinaja/settlement/internal/loyalty"
	"kasirinaja/settlement/internal/service"
	"kasirinaja/settlement/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(a.secureHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		// Authenticated by signature, not by bearer token.
		r.Post("/payments/webhook", a.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth("cashier", "admin"))

			r.Post("/checkout/cash", a.handleCheckoutCash)
			r.Post("/checkout/transfer", a.handleCheckoutTransfer)

			r.Get("/payments/status/{orderCode}", a.handlePaymentStatus)
			r.Put("/payments/status/{orderCode}", a.handlePaymentSync)

			r.Post("/vouchers/validate", a.handleVoucherValidate)
			r.Get("/customers/{customerID}/vouchers", a.handleCustomerVouchers)
			r.Get("/sales/{saleID}", a.handleSale)

			r.Post("/shifts/open", a.handleShiftOpen)
			r.Post("/shifts/close", a.handleShiftClose)
			r.Get("/shifts/active", a.handleShiftActive)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "[http] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(startedAt).String(),
		)
	})
}

// envelope is the response body for every endpoint. Err is 0 on success, 1
// for a rejected request and -1 for a system failure.
type envelope struct {
	Err  int    `json:"err"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	var (
		rejection  *loyalty.RejectionError
		validation *service.ValidationError
	)
	switch {
	case errors.As(err, &rejection):
		return http.StatusUnprocessableEntity
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrShiftAlreadyOpen),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrVoucherUnavailable):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, gateway.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "[http] request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := envelope{Err: 1, Msg: err.Error()}

	var validation *service.ValidationError
	if errors.As(err, &validation) && validation.Field != "" {
		body.Data = map[string]string{"field": validation.Field}
	}
	var rejection *loyalty.RejectionError
	if errors.As(err, &rejection) {
		body.Data = map[string]string{"reason": rejection.Reason}
	}

	// 5xx messages stay generic; 502 names the dependency without its detail.
	switch {
	case status == http.StatusBadGateway:
		body.Err = -1
		body.Msg = gateway.ErrUnavailable.Error()
	case status >= http.StatusInternalServerError:
		body.Err = -1
		body.Msg = "internal server error"
	}
	writeJSONStatus(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeJSONStatus(w, status, envelope{Err: 0, Msg: "ok", Data: data})
}

func writeJSONStatus(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
