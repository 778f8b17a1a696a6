package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/obs"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store"
	"github.com/alippalheyss/posnew-nw-sub000/internal/xid"
)

// CustomerStore is the customer persistence the ledger writes through.
type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, id string, update domain.CustomerUpdate) error
	CreateSettlement(ctx context.Context, customerID string, settlement domain.Settlement) error
}

// Ledger owns loyalty points and outstanding balances. Balances and points
// never go below zero and settlement history is append-only.
type Ledger struct {
	mu      sync.Mutex
	store   CustomerStore
	logger  zerolog.Logger
	metrics *obs.Metrics
	now     func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func New(customers CustomerStore, logger zerolog.Logger, opts ...Option) (*Ledger, error) {
	if customers == nil {
		return nil, fmt.Errorf("customer store required")
	}
	l := &Ledger{
		store:  customers,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) AwardPoints(ctx context.Context, customerID string, points int64) error {
	if points < 0 {
		return domain.ErrInvalidAmount
	}
	if points == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.customer(ctx, customerID)
	if err != nil {
		return err
	}
	next := c.LoyaltyPoints + points
	return domain.Remote("award points", l.store.UpdateCustomer(ctx, customerID, domain.CustomerUpdate{LoyaltyPoints: &next}))
}

// RedeemPoints spends points, stopping at zero rather than going negative.
func (l *Ledger) RedeemPoints(ctx context.Context, customerID string, points int64) error {
	if points < 0 {
		return domain.ErrInvalidAmount
	}
	if points == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.customer(ctx, customerID)
	if err != nil {
		return err
	}
	next := c.LoyaltyPoints - points
	if next < 0 {
		next = 0
	}
	return domain.Remote("redeem points", l.store.UpdateCustomer(ctx, customerID, domain.CustomerUpdate{LoyaltyPoints: &next}))
}

// AdjustBalance adds delta to the outstanding balance, flooring at zero.
func (l *Ledger) AdjustBalance(ctx context.Context, customerID string, delta decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.customer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	next := decimal.Max(decimal.Zero, c.OutstandingBalance.Add(delta))
	if err := l.store.UpdateCustomer(ctx, customerID, domain.CustomerUpdate{OutstandingBalance: &next}); err != nil {
		return c.OutstandingBalance, domain.Remote("adjust balance", err)
	}
	return next, nil
}

// RecordSettlement appends a settlement row and then lowers the balance to
// max(0, previous - amountPaid). Repeated calls are not deduplicated.
func (l *Ledger) RecordSettlement(ctx context.Context, customerID string, amountPaid decimal.Decimal) (domain.Settlement, error) {
	if !amountPaid.IsPositive() {
		return domain.Settlement{}, domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.customer(ctx, customerID)
	if err != nil {
		return domain.Settlement{}, err
	}
	settlement := domain.Settlement{
		ID:                  xid.New("stl"),
		CustomerID:          customerID,
		AmountPaid:          amountPaid,
		Date:                l.now(),
		PreviousOutstanding: c.OutstandingBalance,
		NewOutstanding:      decimal.Max(decimal.Zero, c.OutstandingBalance.Sub(amountPaid)),
	}
	if err := l.store.CreateSettlement(ctx, customerID, settlement); err != nil {
		return domain.Settlement{}, domain.Remote("create settlement", err)
	}
	next := settlement.NewOutstanding
	if err := l.store.UpdateCustomer(ctx, customerID, domain.CustomerUpdate{OutstandingBalance: &next}); err != nil {
		l.logger.Warn().Err(err).Str("customer_id", customerID).Str("settlement_id", settlement.ID).
			Msg("settlement recorded but balance not updated")
		return settlement, domain.Remote("update balance", err)
	}
	l.metrics.SettlementRecorded()
	l.logger.Info().Str("customer_id", customerID).Str("amount", amountPaid.StringFixed(2)).
		Str("outstanding", next.StringFixed(2)).Msg("settlement recorded")
	return settlement, nil
}

// Statement returns the balance with settlements newest first. Stored order is untouched.
func (l *Ledger) Statement(ctx context.Context, customerID string) (domain.CustomerStatement, error) {
	c, err := l.customer(ctx, customerID)
	if err != nil {
		return domain.CustomerStatement{}, err
	}
	history := make([]domain.Settlement, len(c.SettlementHistory))
	for i, s := range c.SettlementHistory {
		history[len(history)-1-i] = s
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.After(history[j].Date)
	})
	return domain.CustomerStatement{
		Customer:           *c,
		OutstandingBalance: c.OutstandingBalance,
		Settlements:        history,
	}, nil
}

func (l *Ledger) customer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := l.store.GetCustomer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, domain.Remote("get customer", err)
	}
	return c, nil
}
