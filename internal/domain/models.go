package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BaseUnit is the implicit sellable unit of every product.
const BaseUnit = "Piece"

type Unit struct {
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	Barcode          string          `json:"barcode,omitempty"`
}

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	NameAlt   string          `json:"name_alt,omitempty"`
	Price     decimal.Decimal `json:"price"`
	StockShop decimal.Decimal `json:"stock_shop"`
	IsZeroTax bool            `json:"is_zero_tax"`
	Units     []Unit          `json:"units,omitempty"`
}

// CartItem is one cart line. PriceFactor is the manager-approved multiplier on
// the unit's list price; zero in older snapshots means no adjustment.
type CartItem struct {
	ID             string          `json:"id"`
	Product        Product         `json:"product"`
	Qty            int             `json:"qty"`
	SelectedUnit   string          `json:"selected_unit"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	UnitConversion decimal.Decimal `json:"unit_conversion"`
	PriceFactor    decimal.Decimal `json:"price_factor"`
}

// Factor returns PriceFactor, treating an unset value as 1.
func (i CartItem) Factor() decimal.Decimal {
	if !i.PriceFactor.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return i.PriceFactor
}

// LineTotal is the amount charged for the line.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Qty)))
}

// StockConsumed is how many base stock units the line removes from the shop.
func (i CartItem) StockConsumed() decimal.Decimal {
	return i.UnitConversion.Mul(decimal.NewFromInt(int64(i.Qty)))
}

type Cart struct {
	ID            string     `json:"id"`
	DisplayNumber int        `json:"display_number"`
	Customer      *Customer  `json:"customer,omitempty"`
	Items         []CartItem `json:"items"`
	RedeemPoints  int64      `json:"redeem_points"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Customer struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Phone              string          `json:"phone,omitempty"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	LoyaltyPoints      int64           `json:"loyalty_points"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	SettlementHistory  []Settlement    `json:"settlement_history,omitempty"`
}

type Settlement struct {
	ID                  string          `json:"id"`
	CustomerID          string          `json:"customer_id"`
	AmountPaid          decimal.Decimal `json:"amount_paid"`
	Date                time.Time       `json:"date"`
	PreviousOutstanding decimal.Decimal `json:"previous_outstanding"`
	NewOutstanding      decimal.Decimal `json:"new_outstanding"`
}

// CustomerUpdate carries the customer fields this engine is allowed to change.
// Nil fields are left untouched.
type CustomerUpdate struct {
	LoyaltyPoints      *int64           `json:"loyalty_points,omitempty"`
	OutstandingBalance *decimal.Decimal `json:"outstanding_balance,omitempty"`
}

type SplitEntry struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type Totals struct {
	TaxableTotal       decimal.Decimal `json:"taxable_total"`
	ZeroTaxTotal       decimal.Decimal `json:"zero_tax_total"`
	SubtotalNoDiscount decimal.Decimal `json:"subtotal_no_discount"`
	Discount           decimal.Decimal `json:"discount"`
	GrandTotal         decimal.Decimal `json:"grand_total"`
	GSTAmount          decimal.Decimal `json:"gst_amount"`
	Subtotal           decimal.Decimal `json:"subtotal"`
}

type CustomerStatement struct {
	Customer           Customer        `json:"customer"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	Settlements        []Settlement    `json:"settlements"`
}

type GSTReportPayment struct {
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Sales         int64           `json:"sales"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

type GSTReport struct {
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	Sales      int64              `json:"sales"`
	GrandTotal decimal.Decimal    `json:"grand_total"`
	GSTAmount  decimal.Decimal    `json:"gst_amount"`
	Discount   decimal.Decimal    `json:"discount"`
	NetOfTax   decimal.Decimal    `json:"net_of_tax"`
	ByPayment  []GSTReportPayment `json:"by_payment"`
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

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
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

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)
