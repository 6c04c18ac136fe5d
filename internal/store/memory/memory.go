package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

// Store keeps everything in process. A unit of work runs against a private
// copy of the state while holding the write lock and swaps it in on success,
// so a failed unit leaves no trace. Code running inside WithinTx must only
// use the Tx it was handed; the Repository read methods would deadlock.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	stores           map[string]domain.Store
	products         map[string]domain.Product
	inventory        map[string]map[string]int
	customers        map[string]domain.Customer
	templates        map[string]domain.VoucherTemplate
	vouchers         map[string]domain.VoucherInstance
	settlements      map[string]domain.Settlement
	settlementByRef  map[string]string
	sales            map[string]domain.Sale
	saleBySettlement map[string]string
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func newState() *state {
	return &state{
		stores:           make(map[string]domain.Store),
		products:         make(map[string]domain.Product),
		inventory:        make(map[string]map[string]int),
		customers:        make(map[string]domain.Customer),
		templates:        make(map[string]domain.VoucherTemplate),
		vouchers:         make(map[string]domain.VoucherInstance),
		settlements:      make(map[string]domain.Settlement),
		settlementByRef:  make(map[string]string),
		sales:            make(map[string]domain.Sale),
		saleBySettlement: make(map[string]string),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

func (st *state) clone() *state {
	dup := &state{
		stores:           cloneMap(st.stores),
		products:         cloneMap(st.products),
		inventory:        make(map[string]map[string]int, len(st.inventory)),
		customers:        cloneMap(st.customers),
		templates:        cloneMap(st.templates),
		vouchers:         cloneMap(st.vouchers),
		settlements:      cloneMap(st.settlements),
		settlementByRef:  cloneMap(st.settlementByRef),
		sales:            cloneMap(st.sales),
		saleBySettlement: cloneMap(st.saleBySettlement),
		shiftsByID:       cloneMap(st.shiftsByID),
		activeShiftByKey: cloneMap(st.activeShiftByKey),
		auditLogs:        append(make([]domain.AuditLog, 0, len(st.auditLogs)), st.auditLogs...),
		usersByUsername:  cloneMap(st.usersByUsername),
	}
	for storeID, stock := range st.inventory {
		dup.inventory[storeID] = cloneMap(stock)
	}
	return dup
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dup := make(map[K]V, len(src))
	for k, v := range src {
		dup[k] = v
	}
	return dup
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; the
// hardcoded fallbacks are only meant for local runs without DATABASE_URL.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("[memory-store] using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic(fmt.Sprintf("memory-store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store. Tests seed it through the Put* helpers.
func New() *Store {
	return &Store{state: newState()}
}

func NewSeeded() *Store {
	s := New()
	s.state.usersByUsername = seedUsers()

	s.PutStore(domain.Store{ID: "main-store", Name: "Toko Utama", Active: true})
	s.PutStore(domain.Store{ID: "branch-02", Name: "Cabang Dua", Active: true})

	products := []domain.Product{
		{ID: "SKU-BERAS-5KG", Name: "Beras Premium 5kg", Price: 75000, Active: true},
		{ID: "SKU-MINYAK-2L", Name: "Minyak Goreng 2L", Price: 35000, Active: true},
		{ID: "SKU-GULA-1KG", Name: "Gula Pasir 1kg", Price: 17500, Active: true},
		{ID: "SKU-TELUR-10", Name: "Telur 10 Butir", Price: 26500, Active: true},
		{ID: "SKU-SUSU-1L", Name: "Susu UHT 1L", Price: 18900, Active: true},
		{ID: "SKU-KOPI-01", Name: "Kopi Sachet", Price: 2500, Active: true},
	}
	for _, p := range products {
		s.PutProduct(p)
		s.SetStock("main-store", p.ID, 120)
		s.SetStock("branch-02", p.ID, 40)
	}

	s.PutCustomer(domain.Customer{ID: "CUST-001", Name: "Budi Santoso", Phone: "081200000001"})
	s.PutCustomer(domain.Customer{ID: "CUST-002", Name: "Siti Aminah", Phone: "081200000002", LoyaltyPoints: 12})

	s.PutTemplate(domain.VoucherTemplate{
		ID:                "tpl-welcome",
		Prefix:            "WELCOME",
		Name:              "Welcome 10%",
		DiscountType:      domain.DiscountTypePercentage,
		DiscountValue:     10,
		MaxDiscountAmount: 20000,
		MinPurchaseAmount: 100000,
		ValidityDays:      30,
		Active:            true,
	})
	s.PutTemplate(domain.VoucherTemplate{
		ID:                    "tpl-loyal",
		Prefix:                "LOYAL",
		Name:                  "Loyal Customer 25K",
		DiscountType:          domain.DiscountTypeFixed,
		DiscountValue:         25000,
		MinPurchaseAmount:     150000,
		RequiredLoyaltyPoints: 10,
		ValidityDays:          30,
		Active:                true,
	})

	return s
}

func (s *Store) PutStore(st domain.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stores[st.ID] = st
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

func (s *Store) SetStock(storeID string, productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.inventory[storeID]; !ok {
		s.state.inventory[storeID] = make(map[string]int)
	}
	s.state.inventory[storeID][productID] = qty
}

func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.customers[c.ID] = c
}

func (s *Store) PutTemplate(t domain.VoucherTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.templates[t.ID] = t
}

func (s *Store) PutVoucher(v domain.VoucherInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.vouchers[v.Code] = v
}

func (s *Store) ListAuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditLog(nil), s.state.auditLogs...)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.state.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) FirstActiveStore(_ context.Context) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.state.stores))
	for id, st := range s.state.stores {
		if st.Active {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Strings(ids)
	st := s.state.stores[ids[0]]
	return &st, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.state.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) GetStockMap(_ context.Context, storeID string, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int, len(productIDs))
	stock := s.state.inventory[storeID]
	for _, id := range productIDs {
		if qty, ok := stock[id]; ok {
			result[id] = qty
		}
	}
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.state.customers[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.Tier = domain.Tier(c.LoyaltyPoints)
	return &c, nil
}

func (s *Store) GetVoucher(_ context.Context, code string) (*domain.VoucherInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.state.vouchers[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) ListCustomerVouchers(_ context.Context, customerID string) ([]domain.VoucherInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.VoucherInstance, 0, 4)
	for _, v := range s.state.vouchers {
		if v.CustomerID == customerID {
			result = append(result, v)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Code < result[j].Code
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) FindSettlementByReference(_ context.Context, reference string) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.state.settlementByRef[reference]
	if !ok {
		return nil, store.ErrNotFound
	}
	settlement := s.state.settlements[id]
	return &settlement, nil
}

func (s *Store) FindSettlementByID(_ context.Context, settlementID string) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settlement, ok := s.state.settlements[settlementID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settlement, nil
}

func (s *Store) FindSaleByID(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.state.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleBySettlement(_ context.Context, settlementID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.saleBySettlementID(settlementID)
}

func (st *state) saleBySettlementID(settlementID string) (*domain.Sale, error) {
	saleID, ok := st.saleBySettlement[settlementID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(st.sales[saleID]), nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.CashierID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(shift.StoreID, shift.CashierID)
	if _, exists := s.state.activeShiftByKey[key]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpened
	shift.ClosedAt = nil
	shift.CashSalesTotal = 0
	shift.TransferSalesTotal = 0

	s.state.shiftsByID[shift.ID] = shift
	s.state.activeShiftByKey[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CloseActiveShift(_ context.Context, storeID string, cashierID string, closingCash int64, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(cashierID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(storeID, cashierID)
	shiftID, exists := s.state.activeShiftByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.state.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpened {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCash = closingCash
	shift.ClosedAt = &closedAt

	delete(s.state.activeShiftByKey, key)
	s.state.shiftsByID[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShift(_ context.Context, storeID string, cashierID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.state.activeShiftByKey[shiftMapKey(storeID, cashierID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.state.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpened {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetShift(shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.state.shiftsByID[shiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.state.auditLogs = append(s.state.auditLogs, entry)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.state.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.state.usersByUsername))
	for _, user := range s.state.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.state.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.state.usersByUsername[username] = user
	return nil
}

func shiftMapKey(storeID string, cashierID string) string {
	return storeID + "::" + cashierID
}

func cloneSale(src domain.Sale) *domain.Sale {
	dup := src
	dup.Lines = append([]domain.SaleLine(nil), src.Lines...)
	return &dup
}

type memTx struct {
	st *state
}

func (t *memTx) CreateSettlement(_ context.Context, settlement domain.Settlement) error {
	if settlement.ID == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.settlements[settlement.ID]; exists {
		return store.ErrInvalidTransaction
	}
	if settlement.ExternalReference != "" {
		if _, taken := t.st.settlementByRef[settlement.ExternalReference]; taken {
			return store.ErrInvalidTransaction
		}
		t.st.settlementByRef[settlement.ExternalReference] = settlement.ID
	}
	t.st.settlements[settlement.ID] = settlement
	return nil
}

func (t *memTx) SetSettlementReference(_ context.Context, settlementID string, reference string) error {
	settlement, ok := t.st.settlements[settlementID]
	if !ok {
		return store.ErrNotFound
	}
	if owner, taken := t.st.settlementByRef[reference]; taken && owner != settlementID {
		return store.ErrInvalidTransaction
	}
	if settlement.ExternalReference != "" {
		delete(t.st.settlementByRef, settlement.ExternalReference)
	}
	settlement.ExternalReference = reference
	t.st.settlements[settlementID] = settlement
	t.st.settlementByRef[reference] = settlementID
	return nil
}

func (t *memTx) TransitionSettlement(_ context.Context, settlementID string, from string, to string, at time.Time) (bool, error) {
	settlement, ok := t.st.settlements[settlementID]
	if !ok {
		return false, store.ErrNotFound
	}
	if settlement.Status != from {
		return false, nil
	}
	settlement.Status = to
	if to == domain.SettlementStatusCompleted {
		paidAt := at
		settlement.PaidAt = &paidAt
	}
	t.st.settlements[settlementID] = settlement

	if saleID, ok := t.st.saleBySettlement[settlementID]; ok {
		sale := t.st.sales[saleID]
		sale.Status = to
		t.st.sales[saleID] = sale
	}
	return true, nil
}

func (t *memTx) CreateSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" || sale.SettlementID == "" {
		return store.ErrInvalidTransaction
	}
	if _, ok := t.st.settlements[sale.SettlementID]; !ok {
		return store.ErrNotFound
	}
	if _, exists := t.st.saleBySettlement[sale.SettlementID]; exists {
		return store.ErrInvalidTransaction
	}
	t.st.sales[sale.ID] = *cloneSale(sale)
	t.st.saleBySettlement[sale.SettlementID] = sale.ID
	return nil
}

func (t *memTx) GetSaleBySettlement(_ context.Context, settlementID string) (*domain.Sale, error) {
	return t.st.saleBySettlementID(settlementID)
}

func (t *memTx) DecrementStock(_ context.Context, storeID string, productID string, qty int) error {
	if qty <= 0 {
		return store.ErrInvalidTransaction
	}
	stock, ok := t.st.inventory[storeID]
	if !ok {
		return store.ErrInsufficientStock
	}
	current, ok := stock[productID]
	if !ok || current < qty {
		return store.ErrInsufficientStock
	}
	stock[productID] = current - qty
	return nil
}

func (t *memTx) AccumulateShift(_ context.Context, shiftID string, method string, amount int64) error {
	shift, ok := t.st.shiftsByID[shiftID]
	if !ok {
		return store.ErrNotFound
	}
	switch method {
	case domain.PaymentMethodCash:
		shift.CashSalesTotal += amount
	case domain.PaymentMethodTransfer:
		shift.TransferSalesTotal += amount
	default:
		return store.ErrInvalidTransaction
	}
	t.st.shiftsByID[shiftID] = shift
	return nil
}

func (t *memTx) AddLoyaltyPoints(_ context.Context, customerID string, points int64) (int64, error) {
	customer, ok := t.st.customers[customerID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if points < 0 {
		return 0, store.ErrInvalidTransaction
	}
	customer.LoyaltyPoints += points
	t.st.customers[customerID] = customer
	return customer.LoyaltyPoints, nil
}

func (t *memTx) ListActiveVoucherTemplates(_ context.Context) ([]domain.VoucherTemplate, error) {
	result := make([]domain.VoucherTemplate, 0, len(t.st.templates))
	for _, tpl := range t.st.templates {
		if tpl.Active {
			result = append(result, tpl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (t *memTx) ExpireVouchers(_ context.Context, customerID string, now time.Time) (int, error) {
	expired := 0
	for code, v := range t.st.vouchers {
		if v.CustomerID != customerID || v.Status != domain.VoucherStatusAvailable {
			continue
		}
		if v.ValidUntil.Before(now) {
			v.Status = domain.VoucherStatusExpired
			t.st.vouchers[code] = v
			expired++
		}
	}
	return expired, nil
}

func (t *memTx) CreateVoucher(_ context.Context, voucher domain.VoucherInstance) (bool, error) {
	if _, exists := t.st.vouchers[voucher.Code]; exists {
		return false, nil
	}
	for _, v := range t.st.vouchers {
		if v.CustomerID != voucher.CustomerID || v.TemplateID != voucher.TemplateID {
			continue
		}
		if v.Status == domain.VoucherStatusAvailable || v.Status == domain.VoucherStatusUsed {
			return false, nil
		}
	}
	t.st.vouchers[voucher.Code] = voucher
	return true, nil
}

func (t *memTx) RedeemVoucher(_ context.Context, code string, customerID string, saleID string, at time.Time) error {
	v, ok := t.st.vouchers[code]
	if !ok || v.CustomerID != customerID || v.Status != domain.VoucherStatusAvailable {
		return store.ErrVoucherUnavailable
	}
	usedAt := at
	v.Status = domain.VoucherStatusUsed
	v.UsedAt = &usedAt
	v.SaleID = saleID
	t.st.vouchers[code] = v
	return nil
}

func (t *memTx) LockSettlement(_ context.Context, settlementID string) (*domain.Settlement, error) {
	settlement, ok := t.st.settlements[settlementID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settlement, nil
}
