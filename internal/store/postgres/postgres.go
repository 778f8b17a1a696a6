package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store"
	"github.com/alippalheyss/posnew-nw-sub000/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, name_alt, price, stock_shop, is_zero_tax, units`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p     domain.Product
		units []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.NameAlt, &p.Price, &p.StockShop, &p.IsZeroTax, &units); err != nil {
		return domain.Product{}, err
	}
	if len(units) > 0 {
		if err := json.Unmarshal(units, &p.Units); err != nil {
			return domain.Product{}, fmt.Errorf("decode units of %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetProducts returns the products found among ids. Missing ids are left out.
func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) SetShopStock(ctx context.Context, productID string, quantity decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET stock_shop = $2, updated_at = now() WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// UpsertProduct inserts or replaces a catalog entry.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" || p.Price.IsNegative() {
		return store.ErrInvalid
	}
	units := p.Units
	if units == nil {
		units = []domain.Unit{}
	}
	encoded, err := json.Marshal(units)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, name_alt, price, stock_shop, is_zero_tax, units, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			name_alt = EXCLUDED.name_alt,
			price = EXCLUDED.price,
			stock_shop = EXCLUDED.stock_shop,
			is_zero_tax = EXCLUDED.is_zero_tax,
			units = EXCLUDED.units,
			updated_at = now()
	`, p.ID, p.Name, p.NameAlt, p.Price, p.StockShop, p.IsZeroTax, encoded)
	return err
}

const customerColumns = `id, name, phone, credit_limit, loyalty_points, outstanding_balance`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.CreditLimit, &c.LoyaltyPoints, &c.OutstandingBalance)
	return c, err
}

// ListCustomers returns customers without their settlement history.
func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, amount_paid, settled_at, previous_outstanding, new_outstanding
		FROM settlements
		WHERE customer_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st domain.Settlement
		if err := rows.Scan(&st.ID, &st.CustomerID, &st.AmountPaid, &st.Date, &st.PreviousOutstanding, &st.NewOutstanding); err != nil {
			return nil, err
		}
		st.Date = st.Date.UTC()
		c.SettlementHistory = append(c.SettlementHistory, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCustomer writes only the fields set in update.
func (s *Store) UpdateCustomer(ctx context.Context, id string, update domain.CustomerUpdate) error {
	var points, balance any
	if update.LoyaltyPoints != nil {
		points = *update.LoyaltyPoints
	}
	if update.OutstandingBalance != nil {
		balance = *update.OutstandingBalance
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers SET
			loyalty_points = COALESCE($2::bigint, loyalty_points),
			outstanding_balance = COALESCE($3::numeric, outstanding_balance),
			updated_at = now()
		WHERE id = $1
	`, id, points, balance)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) CreateSettlement(ctx context.Context, customerID string, settlement domain.Settlement) error {
	if settlement.ID == "" {
		settlement.ID = xid.New("stl")
	}
	if settlement.Date.IsZero() {
		settlement.Date = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements (id, customer_id, amount_paid, previous_outstanding, new_outstanding, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, settlement.ID, customerID, settlement.AmountPaid, settlement.PreviousOutstanding, settlement.NewOutstanding, settlement.Date)
	switch {
	case isForeignKeyViolation(err):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return store.ErrConflict
	}
	return err
}

// UpsertCustomer inserts or replaces a customer record, leaving history alone.
func (s *Store) UpsertCustomer(ctx context.Context, c domain.Customer) error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" {
		return store.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, credit_limit, loyalty_points, outstanding_balance, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			credit_limit = EXCLUDED.credit_limit,
			loyalty_points = EXCLUDED.loyalty_points,
			outstanding_balance = EXCLUDED.outstanding_balance,
			updated_at = now()
	`, c.ID, c.Name, c.Phone, c.CreditLimit, c.LoyaltyPoints, c.OutstandingBalance)
	return err
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (string, error) {
	if sale.Payment == nil {
		return "", store.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	items, err := json.Marshal(sale.Items)
	if err != nil {
		return "", err
	}
	var customerID, customer any
	if sale.Customer != nil {
		customerID = sale.Customer.ID
		encoded, err := json.Marshal(sale.Customer)
		if err != nil {
			return "", err
		}
		customer = encoded
	}

	var paid, change any
	var reference string
	switch p := sale.Payment.(type) {
	case domain.CashPayment:
		paid, change = p.Paid, p.Change
	case domain.CardPayment:
		reference = p.Reference
	case domain.MobilePayment:
		reference = p.Reference
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, sold_at, customer_id, customer, items,
			subtotal, gst_amount, discount, grand_total,
			payment_method, paid_amount, change_amount, payment_reference, split_group_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.Date, customerID, customer, items,
		sale.Subtotal, sale.GSTAmount, sale.Discount, sale.GrandTotal,
		string(sale.PaymentMethod()), paid, change, reference, sale.SplitGroupID)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrConflict
		}
		return "", err
	}
	return sale.ID, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sold_at, customer, items, subtotal, gst_amount, discount, grand_total,
			payment_method, paid_amount, change_amount, payment_reference, split_group_id
		FROM sales
		WHERE sold_at >= $1 AND sold_at < $2
		ORDER BY sold_at, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var (
			sale            domain.Sale
			customer, items []byte
			method          string
			paid, change    decimal.NullDecimal
			reference       string
		)
		if err := rows.Scan(&sale.ID, &sale.Date, &customer, &items, &sale.Subtotal, &sale.GSTAmount, &sale.Discount,
			&sale.GrandTotal, &method, &paid, &change, &reference, &sale.SplitGroupID); err != nil {
			return nil, err
		}
		sale.Date = sale.Date.UTC()
		if len(customer) > 0 {
			if err := json.Unmarshal(customer, &sale.Customer); err != nil {
				return nil, fmt.Errorf("decode customer of sale %s: %w", sale.ID, err)
			}
		}
		if err := json.Unmarshal(items, &sale.Items); err != nil {
			return nil, fmt.Errorf("decode items of sale %s: %w", sale.ID, err)
		}
		payment, err := domain.PaymentFromFields(domain.PaymentMethod(method), nullable(paid), nullable(change), reference)
		if err != nil {
			return nil, fmt.Errorf("sale %s: %w", sale.ID, err)
		}
		sale.Payment = payment
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (s *Store) GetGSTReport(ctx context.Context, from time.Time, to time.Time) (domain.GSTReport, error) {
	report := domain.GSTReport{From: from, To: to, ByPayment: make([]domain.GSTReportPayment, 0, 4)}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(grand_total), 0),
			COALESCE(SUM(gst_amount), 0),
			COALESCE(SUM(discount), 0)
		FROM sales
		WHERE sold_at >= $1 AND sold_at < $2
	`, from, to).Scan(&report.Sales, &report.GrandTotal, &report.GSTAmount, &report.Discount)
	if err != nil {
		return report, err
	}
	report.NetOfTax = report.GrandTotal.Sub(report.GSTAmount)

	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*)::bigint, COALESCE(SUM(grand_total), 0)
		FROM sales
		WHERE sold_at >= $1 AND sold_at < $2
		GROUP BY payment_method
		ORDER BY payment_method
	`, from, to)
	if err != nil {
		return report, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry domain.GSTReportPayment
		var method string
		if err := rows.Scan(&method, &entry.Sales, &entry.GrandTotal); err != nil {
			return report, err
		}
		entry.PaymentMethod = domain.PaymentMethod(method)
		report.ByPayment = append(report.ByPayment, entry)
	}
	return report, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
