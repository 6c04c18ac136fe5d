package domain

import "time"

type Store struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type Product struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
	Active bool   `json:"active"`
}

type StockRecord struct {
	StoreID   string    `json:"store_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Customer struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	LoyaltyPoints int64  `json:"loyalty_point"`
	Tier          string `json:"tier,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CartItem struct {
	ProductID   string `json:"product_id" validate:"required"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
	UnitPrice   int64  `json:"unit_price" validate:"gte=0"`
}

type CheckoutRequest struct {
	StoreID        string     `json:"store_id,omitempty"`
	CashierID      string     `json:"cashier_id,omitempty"`
	CustomerID     string     `json:"customer_id,omitempty"`
	CartItems      []CartItem `json:"cart_items" validate:"required,min=1,dive"`
	Subtotal       int64      `json:"subtotal" validate:"gte=0"`
	TaxAmount      int64      `json:"tax_amount" validate:"gte=0"`
	DiscountAmount int64      `json:"discount_amount" validate:"gte=0"`
	VoucherCode    string     `json:"voucher_code,omitempty"`
	TotalAmount    *int64     `json:"total_amount" validate:"required"`
	PaymentMethod  string     `json:"payment_method,omitempty"`

	// Cash only.
	CashReceived int64 `json:"cash_received,omitempty" validate:"gte=0"`

	// Transfer only; used for the gateway-facing description.
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}

type Settlement struct {
	ID                string     `json:"id"`
	Method            string     `json:"method"`
	Amount            int64      `json:"amount"`
	Status            string     `json:"status"`
	ExternalReference string     `json:"external_reference,omitempty"`
	CashReceived      int64      `json:"cash_received,omitempty"`
	ChangeAmount      int64      `json:"change_amount"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type SaleLine struct {
	ID          string `json:"id"`
	SaleID      string `json:"sale_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

type Sale struct {
	ID             string     `json:"id"`
	SettlementID   string     `json:"payment_id"`
	StoreID        string     `json:"store_id"`
	CashierID      string     `json:"cashier_id"`
	ShiftID        string     `json:"shift_id,omitempty"`
	CustomerID     string     `json:"customer_id,omitempty"`
	Subtotal       int64      `json:"subtotal"`
	TaxAmount      int64      `json:"tax_amount"`
	DiscountAmount int64      `json:"discount_amount"`
	VoucherCode    string     `json:"voucher_code,omitempty"`
	TotalAmount    int64      `json:"total_amount"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	Lines          []SaleLine `json:"items"`
}

// SaleDetail is the cash checkout response body and the sale lookup view.
type SaleDetail struct {
	Sale
	Payment  Settlement       `json:"payment"`
	Customer *Customer        `json:"customer,omitempty"`
	Voucher  *VoucherInstance `json:"voucher,omitempty"`
}

type PaymentInstructions struct {
	TransactionID string `json:"transaction_id"`
	PaymentID     string `json:"payment_id"`
	OrderCode     string `json:"order_code"`
	CheckoutURL   string `json:"checkout_url"`
	QRPayload     string `json:"qr_payload"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
}

type CheckoutResult struct {
	Method       string               `json:"method"`
	Sale         *SaleDetail          `json:"sale,omitempty"`
	Instructions *PaymentInstructions `json:"instructions,omitempty"`
}

// PaymentOutcome is what the gateway reports about a hosted payment.
type PaymentOutcome string

const (
	OutcomePending   PaymentOutcome = "pending"
	OutcomePaid      PaymentOutcome = "paid"
	OutcomeCancelled PaymentOutcome = "cancelled"
)

type GatewayStatus struct {
	OrderCode     string    `json:"order_code"`
	Status        string    `json:"status"`
	Outcome       string    `json:"outcome"`
	Amount        int64     `json:"amount"`
	AmountPaid    int64     `json:"amount_paid"`
	PaymentLinkID string    `json:"payment_link_id,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

type ReconciliationResult struct {
	OrderCode    string `json:"order_code"`
	SettlementID string `json:"payment_id"`
	SaleID       string `json:"transaction_id"`
	Status       string `json:"status"`
	Applied      bool   `json:"applied"`
	Reason       string `json:"reason,omitempty"`
}

type VoucherTemplate struct {
	ID                    string  `json:"id"`
	Prefix                string  `json:"prefix"`
	Name                  string  `json:"name"`
	DiscountType          string  `json:"discount_type"`
	DiscountValue         float64 `json:"discount_value"`
	MaxDiscountAmount     int64   `json:"max_discount_amount"`
	MinPurchaseAmount     int64   `json:"min_purchase_amount"`
	RequiredLoyaltyPoints int64   `json:"required_loyalty_points"`
	ValidityDays          int     `json:"validity_days"`
	Active                bool    `json:"active"`
}

type VoucherInstance struct {
	Code              string     `json:"code"`
	CustomerID        string     `json:"customer_id"`
	TemplateID        string     `json:"template_id"`
	Name              string     `json:"name"`
	DiscountType      string     `json:"discount_type"`
	DiscountValue     float64    `json:"discount_value"`
	MaxDiscountAmount int64      `json:"max_discount_amount"`
	MinPurchaseAmount int64      `json:"min_purchase_amount"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        time.Time  `json:"valid_until"`
	Status            string     `json:"status"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
	SaleID            string     `json:"transaction_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type VoucherValidateRequest struct {
	Code           string `json:"code" validate:"required"`
	CustomerID     string `json:"customer_id" validate:"required"`
	PurchaseAmount int64  `json:"purchase_amount" validate:"gte=0"`
}

type VoucherQuote struct {
	Code           string `json:"code"`
	DiscountType   string `json:"discount_type"`
	PurchaseAmount int64  `json:"purchase_amount"`
	DiscountAmount int64  `json:"discount_amount"`
}

type Shift struct {
	ID                 string     `json:"id"`
	StoreID            string     `json:"store_id"`
	CashierID          string     `json:"cashier_id"`
	Status             string     `json:"status"`
	OpeningFloat       int64      `json:"opening_float"`
	CashSalesTotal     int64      `json:"cash_sales_total"`
	TransferSalesTotal int64      `json:"transfer_sales_total"`
	ClosingCash        int64      `json:"closing_cash,omitempty"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	StoreID      string `json:"store_id"`
	CashierID    string `json:"cashier_id"`
	OpeningFloat int64  `json:"opening_float" validate:"gte=0"`
}

type ShiftCloseRequest struct {
	StoreID     string `json:"store_id"`
	CashierID   string `json:"cashier_id"`
	ClosingCash int64  `json:"closing_cash" validate:"gte=0"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// SettlementEvent is published once a settlement reaches a terminal status.
type SettlementEvent struct {
	Type         string    `json:"event_type"`
	SettlementID string    `json:"payment_id"`
	SaleID       string    `json:"transaction_id"`
	StoreID      string    `json:"store_id"`
	CustomerID   string    `json:"customer_id,omitempty"`
	Method       string    `json:"method"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	OrderCode    string    `json:"order_code,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const (
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
)

const (
	SettlementStatusPending   = "pending"
	SettlementStatusCompleted = "completed"
	SettlementStatusCancelled = "cancelled"
	SettlementStatusFailed    = "failed"
)

const (
	VoucherStatusAvailable = "available"
	VoucherStatusUsed      = "used"
	VoucherStatusExpired   = "expired"
)

const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

const (
	ShiftStatusOpened    = "opened"
	ShiftStatusClosed    = "closed"
	ShiftStatusCancelled = "cancelled"
)

const (
	EventSettlementCompleted = "settlement.completed"
	EventSettlementCancelled = "settlement.cancelled"
	EventSettlementFailed    = "settlement.failed"
)

// IsTerminalSettlementStatus reports whether no further transition is allowed.
func IsTerminalSettlementStatus(status string) bool {
	switch status {
	case SettlementStatusCompleted, SettlementStatusCancelled, SettlementStatusFailed:
		return true
	default:
		return false
	}
}

// Tier derives the loyalty tier from accumulated points.
func Tier(points int64) string {
	switch {
	case points >= 100:
		return "gold"
	case points >= 30:
		return "silver"
	default:
		return "member"
	}
}
