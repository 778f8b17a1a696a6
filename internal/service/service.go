package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/cart"
	"github.com/alippalheyss/posnew-nw-sub000/internal/checkout"
	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/ledger"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store"
	"github.com/alippalheyss/posnew-nw-sub000/internal/units"
	"github.com/alippalheyss/posnew-nw-sub000/internal/xid"
)

var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// CartView is a cart together with its current pricing and checkout state.
type CartView struct {
	Cart         domain.Cart    `json:"cart"`
	Totals       domain.Totals  `json:"totals"`
	RedeemPoints int64          `json:"redeem_points"`
	State        checkout.State `json:"checkout_state"`
	Active       bool           `json:"active"`
}

type OutstandingReport struct {
	Customers []domain.Customer `json:"customers"`
	Total     decimal.Decimal   `json:"total"`
}

type Service struct {
	repo     store.Repository
	carts    *cart.Store
	ledger   *ledger.Ledger
	checkout *checkout.Processor
	logger   zerolog.Logger
	now      func() time.Time
}

func New(repo store.Repository, carts *cart.Store, customerLedger *ledger.Ledger, processor *checkout.Processor, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		carts:    carts,
		ledger:   customerLedger,
		checkout: processor,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) ListCarts() []CartView {
	activeID := s.carts.ActiveID()
	carts := s.carts.List()
	out := make([]CartView, 0, len(carts))
	for _, c := range carts {
		v := s.view(c)
		v.Active = c.ID == activeID
		out = append(out, v)
	}
	return out
}

func (s *Service) Cart(cartID string) (CartView, error) {
	c, err := s.carts.Get(cartID)
	if err != nil {
		return CartView{}, err
	}
	return s.view(c), nil
}

func (s *Service) CreateCart(ctx context.Context) (CartView, error) {
	c, err := s.carts.CreateCart(ctx)
	v := s.view(c)
	v.Active = true
	return v, err
}

func (s *Service) SwitchCart(ctx context.Context, cartID string) (CartView, error) {
	err := s.carts.SwitchActive(ctx, cartID)
	if err != nil && !errors.Is(err, domain.ErrRemotePersistence) {
		return CartView{}, err
	}
	c, getErr := s.carts.Get(cartID)
	if getErr != nil {
		return CartView{}, getErr
	}
	v := s.view(c)
	v.Active = true
	return v, err
}

func (s *Service) CloseCart(ctx context.Context, cartID string) (CartView, error) {
	if s.checkout.State(cartID) == checkout.StateReviewing {
		if err := s.checkout.Abort(cartID); err != nil {
			return CartView{}, err
		}
	}
	active, err := s.carts.CloseCart(ctx, cartID)
	if err != nil && !errors.Is(err, domain.ErrRemotePersistence) {
		return CartView{}, err
	}
	s.logAudit(ctx, "cart_close", "cart", cartID, fmt.Sprintf("active=%s", active.ID))
	v := s.view(active)
	v.Active = true
	return v, err
}

// AddLine looks the product up by id, or by packaging barcode when no id is
// given, and adds it to the cart.
func (s *Service) AddLine(ctx context.Context, cartID string, req domain.AddLineRequest) (CartView, error) {
	product, unit, err := s.lookupProduct(ctx, strings.TrimSpace(req.ProductID), strings.TrimSpace(req.Barcode))
	if err != nil {
		return CartView{}, err
	}
	if strings.TrimSpace(req.Unit) != "" {
		unit = req.Unit
	}
	factor := decimal.NewFromInt(1)
	if req.PriceFactor != nil {
		if !req.PriceFactor.IsPositive() {
			return CartView{}, domain.ErrInvalidAmount
		}
		factor = *req.PriceFactor
	}
	c, err := s.carts.AddLine(ctx, cartID, product, unit, factor, req.Qty)
	return s.result(c, err)
}

// UpdateLine applies a quantity change and then a unit change. A quantity of
// zero removes the line and ignores the unit.
func (s *Service) UpdateLine(ctx context.Context, cartID string, lineID string, req domain.UpdateLineRequest) (CartView, error) {
	if req.Qty == nil && req.Unit == nil {
		return s.Cart(cartID)
	}
	var (
		c   domain.Cart
		err error
	)
	if req.Qty != nil {
		c, err = s.carts.SetQty(ctx, cartID, lineID, *req.Qty)
		if err != nil && !errors.Is(err, domain.ErrRemotePersistence) {
			return CartView{}, err
		}
		if *req.Qty <= 0 {
			return s.result(c, err)
		}
	}
	if req.Unit != nil {
		c, err = s.carts.ChangeUnit(ctx, cartID, lineID, *req.Unit)
	}
	return s.result(c, err)
}

func (s *Service) RemoveLine(ctx context.Context, cartID string, lineID string) (CartView, error) {
	c, err := s.carts.RemoveLine(ctx, cartID, lineID)
	return s.result(c, err)
}

// SetCustomer attaches the customer with customerID, or detaches when it is empty.
func (s *Service) SetCustomer(ctx context.Context, cartID string, customerID string) (CartView, error) {
	var customer *domain.Customer
	if id := strings.TrimSpace(customerID); id != "" {
		found, err := s.repo.GetCustomer(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return CartView{}, domain.ErrCustomerNotFound
		}
		if err != nil {
			return CartView{}, domain.Remote("get customer", err)
		}
		customer = found
	}
	c, err := s.carts.SetCustomer(ctx, cartID, customer)
	return s.result(c, err)
}

func (s *Service) SetRedemption(ctx context.Context, cartID string, points int64) (CartView, error) {
	c, err := s.carts.SetRedemption(ctx, cartID, points)
	return s.result(c, err)
}

func (s *Service) BeginCheckout(ctx context.Context, cartID string, method string) (checkout.Review, error) {
	return s.checkout.Begin(ctx, cartID, checkout.Method(strings.ToLower(strings.TrimSpace(method))))
}

func (s *Service) AbortCheckout(cartID string) error {
	return s.checkout.Abort(cartID)
}

func (s *Service) CheckoutCash(ctx context.Context, cartID string, paid decimal.Decimal) (checkout.Receipt, error) {
	receipt, err := s.checkout.CommitCash(ctx, cartID, paid)
	return s.committed(ctx, cartID, receipt, err)
}

func (s *Service) CheckoutCredit(ctx context.Context, cartID string) (checkout.Receipt, error) {
	receipt, err := s.checkout.CommitCredit(ctx, cartID)
	return s.committed(ctx, cartID, receipt, err)
}

func (s *Service) CheckoutElectronic(ctx context.Context, cartID string, method string, reference string) (checkout.Receipt, error) {
	receipt, err := s.checkout.CommitElectronic(ctx, cartID, checkout.Method(strings.ToLower(method)), reference)
	return s.committed(ctx, cartID, receipt, err)
}

func (s *Service) SeedSplit(ctx context.Context, cartID string, customerIDs []string) (checkout.Review, error) {
	return s.checkout.SeedSplit(ctx, cartID, customerIDs)
}

func (s *Service) SetSplitAmount(cartID string, entryID string, amount decimal.Decimal) (checkout.Review, error) {
	return s.checkout.SetSplitAmount(cartID, entryID, amount)
}

func (s *Service) CommitSplit(ctx context.Context, cartID string) (checkout.Receipt, error) {
	receipt, err := s.checkout.CommitSplit(ctx, cartID)
	return s.committed(ctx, cartID, receipt, err)
}

func (s *Service) RecordSettlement(ctx context.Context, customerID string, amount decimal.Decimal) (domain.Settlement, error) {
	settlement, err := s.ledger.RecordSettlement(ctx, customerID, amount)
	if err != nil {
		return domain.Settlement{}, err
	}
	s.logAudit(ctx, "customer_settlement", "customer", customerID, fmt.Sprintf("amount=%s,outstanding=%s",
		settlement.AmountPaid.StringFixed(2), settlement.NewOutstanding.StringFixed(2)))
	return settlement, nil
}

func (s *Service) Statement(ctx context.Context, customerID string) (domain.CustomerStatement, error) {
	return s.ledger.Statement(ctx, customerID)
}

// GSTReport sums sales between two calendar days, both inclusive. An empty from
// means today and an empty to means the same day as from.
func (s *Service) GSTReport(ctx context.Context, fromDate string, toDate string) (domain.GSTReport, error) {
	from, err := s.parseDay(fromDate)
	if err != nil {
		return domain.GSTReport{}, err
	}
	to := from
	if strings.TrimSpace(toDate) != "" {
		if to, err = s.parseDay(toDate); err != nil {
			return domain.GSTReport{}, err
		}
	}
	if to.Before(from) {
		return domain.GSTReport{}, ErrInvalidDate
	}

	return s.repo.GetGSTReport(ctx, from, to.Add(24*time.Hour))
}

// OutstandingReport lists customers who owe money, largest balance first.
func (s *Service) OutstandingReport(ctx context.Context) (OutstandingReport, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return OutstandingReport{}, err
	}
	report := OutstandingReport{Customers: []domain.Customer{}, Total: decimal.Zero}
	for _, c := range customers {
		if !c.OutstandingBalance.IsPositive() {
			continue
		}
		c.SettlementHistory = nil
		report.Customers = append(report.Customers, c)
		report.Total = report.Total.Add(c.OutstandingBalance)
	}
	sort.SliceStable(report.Customers, func(i, j int) bool {
		a, b := report.Customers[i], report.Customers[j]
		if cmp := a.OutstandingBalance.Cmp(b.OutstandingBalance); cmp != 0 {
			return cmp > 0
		}
		return a.Name < b.Name
	})
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := s.parseDay(date)
		if err != nil {
			return nil, err
		}
		from = parsed
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func (s *Service) lookupProduct(ctx context.Context, productID string, barcode string) (domain.Product, string, error) {
	if productID != "" {
		product, err := s.repo.GetProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, "", domain.ErrProductNotFound
		}
		if err != nil {
			return domain.Product{}, "", domain.Remote("get product", err)
		}
		unit := ""
		if res, ok := units.ByBarcode(*product, barcode); ok {
			unit = res.Unit
		}
		return *product, unit, nil
	}
	if barcode == "" {
		return domain.Product{}, "", domain.ErrProductNotFound
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.Product{}, "", domain.Remote("list products", err)
	}
	for _, p := range products {
		if res, ok := units.ByBarcode(p, barcode); ok {
			return p, res.Unit, nil
		}
	}
	return domain.Product{}, "", domain.ErrProductNotFound
}

func (s *Service) committed(ctx context.Context, cartID string, receipt checkout.Receipt, err error) (checkout.Receipt, error) {
	if err != nil {
		return receipt, err
	}
	for _, sale := range receipt.Sales {
		detail := fmt.Sprintf("cart=%s,method=%s,total=%s", cartID, sale.PaymentMethod(), sale.GrandTotal.StringFixed(2))
		if sale.SplitGroupID != "" {
			detail += ",group=" + sale.SplitGroupID
		}
		s.logAudit(ctx, "checkout_commit", "sale", sale.ID, detail)
	}
	return receipt, nil
}

// result keeps the view when only the snapshot save failed, since the change
// itself was applied.
func (s *Service) result(c domain.Cart, err error) (CartView, error) {
	if err != nil && !errors.Is(err, domain.ErrRemotePersistence) {
		return CartView{}, err
	}
	return s.view(c), err
}

func (s *Service) view(c domain.Cart) CartView {
	totals, redeem := s.checkout.Quote(c)
	return CartView{Cart: c, Totals: totals, RedeemPoints: redeem, State: s.checkout.State(c.ID)}
}

func (s *Service) parseDay(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		now := s.now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return parsed.UTC(), nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("audit log not written")
	}
}
