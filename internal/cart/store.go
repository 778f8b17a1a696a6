package cart

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/units"
	"github.com/alippalheyss/posnew-nw-sub000/internal/xid"
)

// Store holds every open cart and the id of the active one. There is always at
// least one cart once the store has been touched.
type Store struct {
	mu        sync.Mutex
	carts     map[string]*domain.Cart
	activeID  string
	persister Persister
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(persister Persister, logger zerolog.Logger, opts ...Option) *Store {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	s := &Store{
		carts:     make(map[string]*domain.Cart),
		persister: persister,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores the collection from the persister. A stale active id falls back
// to the lowest-numbered cart, and an empty collection gets a fresh cart.
func (s *Store) Load(ctx context.Context) error {
	snap, ok, err := s.persister.Load(ctx)
	if err != nil {
		return domain.Remote("load carts", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.carts = make(map[string]*domain.Cart)
	s.activeID = ""
	if ok && snap != nil {
		for id, c := range snap.Carts {
			c := cloneCart(c)
			c.ID = id
			s.carts[id] = &c
		}
		s.activeID = snap.ActiveID
	}

	changed := s.ensureLocked()
	s.logger.Info().Int("carts", len(s.carts)).Str("active_id", s.activeID).Msg("carts loaded")
	if changed {
		return s.persistLocked(ctx)
	}
	return nil
}

func (s *Store) List() []domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()

	out := make([]domain.Cart, 0, len(s.carts))
	for _, c := range s.orderedLocked() {
		out = append(out, cloneCart(*c))
	}
	return out
}

func (s *Store) Active() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	return cloneCart(*s.carts[s.activeID])
}

func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	return s.activeID
}

func (s *Store) Get(id string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cloneCart(*c), nil
}

// CreateCart opens an empty cart and makes it active.
func (s *Store) CreateCart(ctx context.Context) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.newCartLocked()
	s.activeID = c.ID
	return cloneCart(*c), s.persistLocked(ctx)
}

func (s *Store) SwitchActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[id]; !ok {
		return domain.ErrCartNotFound
	}
	s.activeID = id
	return s.persistLocked(ctx)
}

// CloseCart removes a cart. Closing the last cart replaces it with a new empty
// one. It returns the cart that is active afterwards.
func (s *Store) CloseCart(ctx context.Context, id string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[id]; !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}

	delete(s.carts, id)
	if len(s.carts) == 0 {
		c := s.newCartLocked()
		s.activeID = c.ID
	} else if s.activeID == id {
		s.activeID = s.orderedLocked()[0].ID
	}
	s.logger.Info().Str("cart_id", id).Str("active_id", s.activeID).Msg("cart closed")
	return cloneCart(*s.carts[s.activeID]), s.persistLocked(ctx)
}

// AddLine adds qty of product in unitName. A line with the same product and
// resolved unit absorbs the quantity instead of a second line being appended.
func (s *Store) AddLine(ctx context.Context, cartID string, product domain.Product, unitName string, priceFactor decimal.Decimal, qty int) (domain.Cart, error) {
	if qty <= 0 {
		qty = 1
	}
	if !priceFactor.IsPositive() {
		priceFactor = decimal.NewFromInt(1)
	}
	res := units.Resolve(product, unitName)

	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		for i := range c.Items {
			if c.Items[i].Product.ID == product.ID && c.Items[i].SelectedUnit == res.Unit {
				c.Items[i].Qty += qty
				return nil
			}
		}
		c.Items = append(c.Items, domain.CartItem{
			ID:             xid.New("line"),
			Product:        cloneProduct(product),
			Qty:            qty,
			SelectedUnit:   res.Unit,
			UnitPrice:      res.Price.Mul(priceFactor),
			UnitConversion: res.Conversion,
			PriceFactor:    priceFactor,
		})
		return nil
	})
}

// SetQty sets a line's quantity, removing the line when qty is zero or less.
func (s *Store) SetQty(ctx context.Context, cartID string, lineID string, qty int) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		idx := lineIndex(c, lineID)
		if idx < 0 {
			return domain.ErrLineNotFound
		}
		if qty <= 0 {
			c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
			return nil
		}
		c.Items[idx].Qty = qty
		return nil
	})
}

func (s *Store) RemoveLine(ctx context.Context, cartID string, lineID string) (domain.Cart, error) {
	return s.SetQty(ctx, cartID, lineID, 0)
}

// ChangeUnit re-prices a line for another unit while keeping its quantity and
// price factor. If the cart already has the product in that unit, the two
// lines are merged at the existing line's price.
func (s *Store) ChangeUnit(ctx context.Context, cartID string, lineID string, unitName string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		idx := lineIndex(c, lineID)
		if idx < 0 {
			return domain.ErrLineNotFound
		}
		item := c.Items[idx]
		res := units.Resolve(item.Product, unitName)
		if res.Unit == item.SelectedUnit {
			return nil
		}
		for i := range c.Items {
			if i != idx && c.Items[i].Product.ID == item.Product.ID && c.Items[i].SelectedUnit == res.Unit {
				c.Items[i].Qty += item.Qty
				c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
				return nil
			}
		}
		c.Items[idx].SelectedUnit = res.Unit
		c.Items[idx].UnitPrice = res.Price.Mul(item.Factor())
		c.Items[idx].UnitConversion = res.Conversion
		return nil
	})
}

// SetCustomer attaches a customer snapshot, or detaches with nil for a walk-in.
// Any pending redemption is dropped.
func (s *Store) SetCustomer(ctx context.Context, cartID string, customer *domain.Customer) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		c.Customer = cloneCustomer(customer)
		c.RedeemPoints = 0
		return nil
	})
}

// SetRedemption records how many loyalty points the customer wants to spend,
// clamped to the points they hold.
func (s *Store) SetRedemption(ctx context.Context, cartID string, points int64) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		if c.Customer == nil {
			return domain.ErrNoCustomer
		}
		if points < 0 {
			return domain.ErrInvalidAmount
		}
		if points > c.Customer.LoyaltyPoints {
			points = c.Customer.LoyaltyPoints
		}
		c.RedeemPoints = points
		return nil
	})
}

// Clear empties items, customer and redemption after checkout.
func (s *Store) Clear(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		c.Items = nil
		c.Customer = nil
		c.RedeemPoints = 0
		return nil
	})
}

func (s *Store) mutate(ctx context.Context, cartID string, fn func(*domain.Cart) error) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err := fn(c); err != nil {
		return cloneCart(*c), err
	}
	return cloneCart(*c), s.persistLocked(ctx)
}

func (s *Store) ensureLocked() bool {
	changed := false
	if len(s.carts) == 0 {
		s.newCartLocked()
		changed = true
	}
	if _, ok := s.carts[s.activeID]; !ok {
		s.activeID = s.orderedLocked()[0].ID
		changed = true
	}
	return changed
}

func (s *Store) newCartLocked() *domain.Cart {
	next := 1
	for _, c := range s.carts {
		if c.DisplayNumber >= next {
			next = c.DisplayNumber + 1
		}
	}
	c := &domain.Cart{ID: xid.New("cart"), DisplayNumber: next, CreatedAt: s.now()}
	s.carts[c.ID] = c
	return c
}

func (s *Store) orderedLocked() []*domain.Cart {
	out := make([]*domain.Cart, 0, len(s.carts))
	for _, c := range s.carts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayNumber == out[j].DisplayNumber {
			return out[i].ID < out[j].ID
		}
		return out[i].DisplayNumber < out[j].DisplayNumber
	})
	return out
}

func (s *Store) persistLocked(ctx context.Context) error {
	snap := Snapshot{Carts: make(map[string]domain.Cart, len(s.carts)), ActiveID: s.activeID}
	for id, c := range s.carts {
		snap.Carts[id] = cloneCart(*c)
	}
	if err := s.persister.Save(ctx, snap); err != nil {
		s.logger.Warn().Err(err).Msg("cart snapshot not saved")
		return domain.Remote("save carts", err)
	}
	return nil
}

func lineIndex(c *domain.Cart, lineID string) int {
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			return i
		}
	}
	return -1
}

func cloneCart(c domain.Cart) domain.Cart {
	out := c
	out.Customer = cloneCustomer(c.Customer)
	if c.Items != nil {
		out.Items = make([]domain.CartItem, len(c.Items))
		for i, item := range c.Items {
			item.Product = cloneProduct(item.Product)
			out.Items[i] = item
		}
	}
	return out
}

func cloneProduct(p domain.Product) domain.Product {
	if p.Units != nil {
		p.Units = append([]domain.Unit(nil), p.Units...)
	}
	return p
}

func cloneCustomer(c *domain.Customer) *domain.Customer {
	if c == nil {
		return nil
	}
	out := *c
	if c.SettlementHistory != nil {
		out.SettlementHistory = append([]domain.Settlement(nil), c.SettlementHistory...)
	}
	return &out
}
