package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store"
	"github.com/alippalheyss/posnew-nw-sub000/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	customers       map[string]domain.Customer
	salesByID       map[string]domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		customers:       make(map[string]domain.Customer),
		salesByID:       make(map[string]domain.Sale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, with dev defaults otherwise.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
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

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// NewSeeded returns a store with a demo catalog, customers and users.
func NewSeeded() *Store {
	s := New()
	products := []domain.Product{
		{ID: "prd-rice-5kg", Name: "Rice 5kg", NameAlt: "Bath 5kg", Price: d("12.50"), StockShop: d("80"),
			Units: []domain.Unit{{Name: "Sack", Price: d("118.00"), ConversionFactor: d("10"), Barcode: "4791001000101"}}},
		{ID: "prd-milk-1l", Name: "Fresh Milk 1L", NameAlt: "Kiri 1L", Price: d("3.20"), StockShop: d("120"), IsZeroTax: true,
			Units: []domain.Unit{{Name: "Crate", Price: d("36.00"), ConversionFactor: d("12"), Barcode: "4791001000202"}}},
		{ID: "prd-soap", Name: "Bath Soap", NameAlt: "Saban", Price: d("1.10"), StockShop: d("300"),
			Units: []domain.Unit{
				{Name: "Pack of 4", Price: d("4.00"), ConversionFactor: d("4"), Barcode: "4791001000303"},
				{Name: "Carton", Price: d("45.00"), ConversionFactor: d("48"), Barcode: "4791001000304"},
			}},
		{ID: "prd-bread", Name: "Sandwich Bread", NameAlt: "Paan", Price: d("2.40"), StockShop: d("40"), IsZeroTax: true},
		{ID: "prd-tea-100", Name: "Black Tea 100 bags", NameAlt: "Thee 100", Price: d("6.75"), StockShop: d("60")},
		{ID: "prd-sugar-1kg", Name: "Sugar 1kg", NameAlt: "Seeni 1kg", Price: d("1.95"), StockShop: d("150"), IsZeroTax: true,
			Units: []domain.Unit{{Name: "Bag 25kg", Price: d("46.00"), ConversionFactor: d("25")}}},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	customers := []domain.Customer{
		{ID: "cus-ahmed", Name: "Ahmed Naseem", Phone: "7771001", CreditLimit: d("500"), LoyaltyPoints: 120, OutstandingBalance: d("85.00")},
		{ID: "cus-mariyam", Name: "Mariyam Shifa", Phone: "7771002", CreditLimit: d("1000"), LoyaltyPoints: 40},
		{ID: "cus-ibrahim", Name: "Ibrahim Rasheed", Phone: "7771003", CreditLimit: d("250")},
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	s.usersByUsername = seedUsers()
	return s
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = cloneProduct(p)
}

// PutCustomer inserts or replaces a customer.
func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = cloneCustomer(c)
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p = cloneProduct(p)
	return &p, nil
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = cloneProduct(p)
		}
	}
	return out, nil
}

// SetShopStock overwrites the shop quantity. Negative stock is stored as given.
func (s *Store) SetShopStock(_ context.Context, productID string, quantity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.StockShop = quantity
	s.products[productID] = p
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, cloneCustomer(c))
	}
	slices.SortFunc(out, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c = cloneCustomer(c)
	return &c, nil
}

func (s *Store) UpdateCustomer(_ context.Context, id string, update domain.CustomerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	if update.LoyaltyPoints != nil {
		c.LoyaltyPoints = *update.LoyaltyPoints
	}
	if update.OutstandingBalance != nil {
		c.OutstandingBalance = *update.OutstandingBalance
	}
	s.customers[id] = c
	return nil
}

func (s *Store) CreateSettlement(_ context.Context, customerID string, settlement domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return store.ErrNotFound
	}
	if settlement.ID == "" {
		settlement.ID = xid.New("stl")
	}
	settlement.CustomerID = customerID
	c.SettlementHistory = append(slices.Clone(c.SettlementHistory), settlement)
	s.customers[customerID] = c
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sale.Payment == nil {
		return "", store.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return "", store.ErrConflict
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}
	sale.Items = slices.Clone(sale.Items)
	s.salesByID[sale.ID] = sale
	return sale.ID, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.salesByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.salesByID, id)
	return nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if sale.Date.Before(from) || !sale.Date.Before(to) {
			continue
		}
		sale.Items = slices.Clone(sale.Items)
		out = append(out, sale)
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		if a.Date.Equal(b.Date) {
			return strings.Compare(a.ID, b.ID)
		}
		return a.Date.Compare(b.Date)
	})
	return out, nil
}

func (s *Store) GetGSTReport(ctx context.Context, from time.Time, to time.Time) (domain.GSTReport, error) {
	sales, err := s.ListSales(ctx, from, to)
	if err != nil {
		return domain.GSTReport{}, err
	}

	report := domain.GSTReport{From: from, To: to, ByPayment: make([]domain.GSTReportPayment, 0, 4)}
	byPayment := map[domain.PaymentMethod]*domain.GSTReportPayment{}
	for _, sale := range sales {
		report.Sales++
		report.GrandTotal = report.GrandTotal.Add(sale.GrandTotal)
		report.GSTAmount = report.GSTAmount.Add(sale.GSTAmount)
		report.Discount = report.Discount.Add(sale.Discount)

		method := sale.PaymentMethod()
		payment := byPayment[method]
		if payment == nil {
			payment = &domain.GSTReportPayment{PaymentMethod: method}
			byPayment[method] = payment
		}
		payment.Sales++
		payment.GrandTotal = payment.GrandTotal.Add(sale.GrandTotal)
	}
	report.NetOfTax = report.GrandTotal.Sub(report.GSTAmount)

	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.GSTReportPayment) int {
		return strings.Compare(string(a.PaymentMethod), string(b.PaymentMethod))
	})
	return report, nil
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
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	p.Units = slices.Clone(p.Units)
	return p
}

func cloneCustomer(c domain.Customer) domain.Customer {
	c.SettlementHistory = slices.Clone(c.SettlementHistory)
	return c
}
