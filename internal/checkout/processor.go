package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/obs"
	"github.com/alippalheyss/posnew-nw-sub000/internal/pricing"
	"github.com/alippalheyss/posnew-nw-sub000/internal/split"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store"
)

type State string

const (
	StateIdle      State = "idle"
	StateReviewing State = "reviewing"
	StateCommitted State = "committed"
	StateAborted   State = "aborted"
)

// Method is the payment path chosen for a checkout. Split settles as several
// credit sales.
type Method string

const (
	MethodCash   Method = "cash"
	MethodCredit Method = "credit"
	MethodCard   Method = "card"
	MethodMobile Method = "mobile"
	MethodSplit  Method = "split"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCredit, MethodCard, MethodMobile, MethodSplit:
		return true
	}
	return false
}

type Carts interface {
	Get(id string) (domain.Cart, error)
	Clear(ctx context.Context, id string) (domain.Cart, error)
}

type Ledger interface {
	AwardPoints(ctx context.Context, customerID string, points int64) error
	RedeemPoints(ctx context.Context, customerID string, points int64) error
	AdjustBalance(ctx context.Context, customerID string, delta decimal.Decimal) (decimal.Decimal, error)
}

type Customers interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

type SaleStore interface {
	CreateSale(ctx context.Context, sale domain.Sale) (string, error)
	DeleteSale(ctx context.Context, id string) error
}

type StockStore interface {
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	SetShopStock(ctx context.Context, productID string, quantity decimal.Decimal) error
}

type Deps struct {
	Carts      Carts
	Ledger     Ledger
	Customers  Customers
	Sales      SaleStore
	Stock      StockStore
	Calculator pricing.Calculator
	// PointDivisor is the grand total that earns one loyalty point. Defaults to 100.
	PointDivisor decimal.Decimal
	Logger       zerolog.Logger
	Metrics      *obs.Metrics
	Clock        func() time.Time
}

// Review is what the operator sees while a payment dialog is open.
type Review struct {
	CartID       string              `json:"cart_id"`
	State        State               `json:"state"`
	Method       Method              `json:"method"`
	Totals       domain.Totals       `json:"totals"`
	RedeemPoints int64               `json:"redeem_points"`
	Split        []domain.SplitEntry `json:"split,omitempty"`
	Remaining    *decimal.Decimal    `json:"remaining,omitempty"`
}

// Receipt is the outcome of a commit. SideEffectErr collects failures that
// happened after the sale was stored; those effects are not rolled back.
type Receipt struct {
	Sales          []domain.Sale   `json:"sales"`
	Totals         domain.Totals   `json:"totals"`
	PointsRedeemed int64           `json:"points_redeemed"`
	PointsAwarded  int64           `json:"points_awarded"`
	Warnings       []string        `json:"warnings,omitempty"`
	SideEffectErr  error           `json:"-"`
	Cart           domain.Cart     `json:"cart"`
	Change         decimal.Decimal `json:"change"`
}

type session struct {
	state      State
	method     Method
	allocation *split.Allocation
	inFlight   bool
}

// Processor drives carts from review to a committed sale. Each cart has at most
// one session and at most one commit in flight.
type Processor struct {
	mu       sync.Mutex
	deps     Deps
	sessions map[string]*session
}

func New(deps Deps) (*Processor, error) {
	if deps.Carts == nil || deps.Ledger == nil || deps.Customers == nil || deps.Sales == nil || deps.Stock == nil {
		return nil, fmt.Errorf("checkout: carts, ledger, customers, sales and stock are required")
	}
	if !deps.PointDivisor.IsPositive() {
		deps.PointDivisor = decimal.NewFromInt(100)
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{deps: deps, sessions: make(map[string]*session)}, nil
}

// Quote prices a cart with its pending redemption capped by the bill and by the
// points on the attached customer record.
func (p *Processor) Quote(c domain.Cart) (domain.Totals, int64) {
	return p.quote(c, true)
}

func (p *Processor) quote(c domain.Cart, allowRedemption bool) (domain.Totals, int64) {
	gross := p.deps.Calculator.Totals(c.Items, decimal.Zero)
	if !allowRedemption || c.Customer == nil || c.RedeemPoints <= 0 {
		return gross, 0
	}
	redeem := pricing.MaxRedeemable(min(c.RedeemPoints, c.Customer.LoyaltyPoints), gross.SubtotalNoDiscount)
	if redeem == 0 {
		return gross, 0
	}
	return p.deps.Calculator.Totals(c.Items, decimal.NewFromInt(redeem)), redeem
}

func (p *Processor) State(cartID string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[cartID]; ok {
		return s.state
	}
	return StateIdle
}

// Begin opens the payment dialog for a cart. Starting again while reviewing
// switches the method and discards any split allocation.
func (p *Processor) Begin(ctx context.Context, cartID string, method Method) (Review, error) {
	if !method.Valid() {
		return Review{}, domain.ErrUnsupportedMethod
	}
	c, err := p.deps.Carts.Get(cartID)
	if err != nil {
		return Review{}, err
	}
	if len(c.Items) == 0 {
		return Review{}, domain.ErrEmptyCart
	}
	if method == MethodCredit && c.Customer == nil {
		return Review{}, domain.ErrNoCustomer
	}
	if err := p.refreshCustomer(ctx, &c); err != nil {
		return Review{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[cartID]; ok && s.inFlight {
		return Review{}, domain.ErrCommitInFlight
	}
	p.sessions[cartID] = &session{state: StateReviewing, method: method}

	totals, redeem := p.quote(c, method != MethodSplit)
	p.deps.Logger.Debug().Str("cart_id", cartID).Str("method", string(method)).Msg("checkout review opened")
	return Review{CartID: cartID, State: StateReviewing, Method: method, Totals: totals, RedeemPoints: redeem}, nil
}

// Abort closes the dialog without side effects.
func (p *Processor) Abort(cartID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[cartID]
	if !ok || s.state != StateReviewing {
		return domain.ErrInvalidState
	}
	if s.inFlight {
		return domain.ErrCommitInFlight
	}
	s.state = StateAborted
	s.allocation = nil
	return nil
}

func (p *Processor) CommitCash(ctx context.Context, cartID string, paid decimal.Decimal) (Receipt, error) {
	return p.commit(ctx, cartID, MethodCash, func(c domain.Cart, totals domain.Totals) (domain.Payment, error) {
		if paid.LessThan(totals.GrandTotal) {
			return nil, &domain.InsufficientPaymentError{Due: totals.GrandTotal, Paid: paid}
		}
		return domain.CashPayment{Paid: paid, Change: paid.Sub(totals.GrandTotal)}, nil
	})
}

// CommitCredit charges the grand total to the attached customer. The limit is a
// ceiling per sale: existing outstanding debt is not counted against it.
func (p *Processor) CommitCredit(ctx context.Context, cartID string) (Receipt, error) {
	return p.commit(ctx, cartID, MethodCredit, func(c domain.Cart, totals domain.Totals) (domain.Payment, error) {
		if c.Customer == nil {
			return nil, domain.ErrNoCustomer
		}
		if c.Customer.CreditLimit.LessThan(totals.GrandTotal) {
			return nil, &domain.CreditLimitExceededError{
				CustomerID: c.Customer.ID,
				Limit:      c.Customer.CreditLimit,
				Total:      totals.GrandTotal,
			}
		}
		return domain.CreditPayment{}, nil
	})
}

// CommitElectronic settles by card or mobile wallet against a terminal reference.
func (p *Processor) CommitElectronic(ctx context.Context, cartID string, method Method, reference string) (Receipt, error) {
	if method != MethodCard && method != MethodMobile {
		return Receipt{}, domain.ErrUnsupportedMethod
	}
	reference = strings.TrimSpace(reference)
	return p.commit(ctx, cartID, method, func(domain.Cart, domain.Totals) (domain.Payment, error) {
		if reference == "" {
			return nil, domain.ErrMissingReference
		}
		if method == MethodCard {
			return domain.CardPayment{Reference: reference}, nil
		}
		return domain.MobilePayment{Reference: reference}, nil
	})
}

type tender func(c domain.Cart, totals domain.Totals) (domain.Payment, error)

func (p *Processor) commit(ctx context.Context, cartID string, method Method, pay tender) (Receipt, error) {
	if _, err := p.acquire(cartID, method); err != nil {
		return Receipt{}, err
	}
	committed := false
	defer func() { p.release(cartID, committed) }()

	c, err := p.deps.Carts.Get(cartID)
	if err != nil {
		return Receipt{}, err
	}
	if len(c.Items) == 0 {
		return Receipt{}, domain.ErrEmptyCart
	}
	if method == MethodCredit && c.Customer == nil {
		return Receipt{}, domain.ErrNoCustomer
	}
	if err := p.refreshCustomer(ctx, &c); err != nil {
		return Receipt{}, err
	}

	totals, redeem := p.quote(c, true)
	payment, err := pay(c, totals)
	if err != nil {
		p.deps.Metrics.CheckoutAttempt(string(method), "rejected")
		return Receipt{}, err
	}

	sale := domain.Sale{
		Date:       p.deps.Clock(),
		Customer:   c.Customer,
		Items:      c.Items,
		Subtotal:   totals.Subtotal,
		GSTAmount:  totals.GSTAmount,
		Discount:   totals.Discount,
		GrandTotal: totals.GrandTotal,
		Payment:    payment,
	}
	id, err := p.deps.Sales.CreateSale(ctx, sale)
	if err != nil {
		p.deps.Metrics.CheckoutAttempt(string(method), "failed")
		p.deps.Logger.Error().Err(err).Str("cart_id", cartID).Str("method", string(method)).Msg("sale not stored, cart kept")
		return Receipt{}, domain.Remote("create sale", err)
	}
	sale.ID = id
	committed = true

	receipt := Receipt{Sales: []domain.Sale{sale}, Totals: totals}
	if cash, ok := payment.(domain.CashPayment); ok {
		receipt.Change = cash.Change
	}

	fx := p.newEffects(cartID, id)
	if c.Customer != nil {
		customerID := c.Customer.ID
		if method == MethodCredit {
			_, err := p.deps.Ledger.AdjustBalance(ctx, customerID, totals.GrandTotal)
			fx.record("balance", err)
		}
		if redeem > 0 {
			if fx.record("redeem_points", p.deps.Ledger.RedeemPoints(ctx, customerID, redeem)) {
				receipt.PointsRedeemed = redeem
			}
		}
		earned := pricing.PointsEarned(totals.GrandTotal, p.deps.PointDivisor)
		if earned > 0 {
			if fx.record("award_points", p.deps.Ledger.AwardPoints(ctx, customerID, earned)) {
				receipt.PointsAwarded = earned
			}
		}
	}
	fx.record("stock", p.deductStock(ctx, c.Items))
	cleared, err := p.deps.Carts.Clear(ctx, cartID)
	fx.record("clear_cart", err)

	receipt.Cart = cleared
	receipt.SideEffectErr = fx.err
	receipt.Warnings = fx.warnings
	p.deps.Metrics.CheckoutAttempt(string(method), "committed")
	p.deps.Logger.Info().Str("cart_id", cartID).Str("sale_id", id).Str("method", string(method)).
		Str("grand_total", totals.GrandTotal.StringFixed(2)).Msg("checkout committed")
	return receipt, nil
}

// acquire marks the cart's commit as in flight. The session must be reviewing
// with the same method.
func (p *Processor) acquire(cartID string, method Method) (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[cartID]
	if !ok {
		return nil, domain.ErrInvalidState
	}
	if s.inFlight {
		return nil, domain.ErrCommitInFlight
	}
	if s.state != StateReviewing || s.method != method {
		return nil, domain.ErrInvalidState
	}
	s.inFlight = true
	return s, nil
}

func (p *Processor) release(cartID string, committed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[cartID]
	if !ok {
		return
	}
	s.inFlight = false
	if committed {
		s.state = StateCommitted
		s.allocation = nil
	}
}

// snapshot copies a customer for a sale record without the settlement history.
func snapshot(c *domain.Customer) *domain.Customer {
	if c == nil {
		return nil
	}
	out := *c
	out.SettlementHistory = nil
	return &out
}

// refreshCustomer swaps the cart's customer snapshot for the current record, so
// limits and redeemable points reflect sales made on other carts since attaching.
func (p *Processor) refreshCustomer(ctx context.Context, c *domain.Cart) error {
	if c.Customer == nil {
		return nil
	}
	fresh, err := p.customer(ctx, c.Customer.ID)
	if err != nil {
		return err
	}
	c.Customer = snapshot(fresh)
	return nil
}

func (p *Processor) customer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := p.deps.Customers.GetCustomer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, domain.Remote("get customer", err)
	}
	return c, nil
}
