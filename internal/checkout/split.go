package checkout

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/split"
	"github.com/alippalheyss/posnew-nw-sub000/internal/xid"
)

// SeedSplit divides the cart total equally between the chosen customers.
// Loyalty points are neither redeemed nor awarded on split bills.
func (p *Processor) SeedSplit(ctx context.Context, cartID string, customerIDs []string) (Review, error) {
	c, err := p.deps.Carts.Get(cartID)
	if err != nil {
		return Review{}, err
	}
	if len(c.Items) == 0 {
		return Review{}, domain.ErrEmptyCart
	}
	totals, _ := p.quote(c, false)
	alloc, err := split.Seed(totals.GrandTotal, customerIDs)
	if err != nil {
		return Review{}, err
	}
	for _, e := range alloc.Entries() {
		if _, err := p.customer(ctx, e.CustomerID); err != nil {
			return Review{}, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.splitSessionLocked(cartID)
	if err != nil {
		return Review{}, err
	}
	s.allocation = alloc
	return splitReview(cartID, totals, alloc), nil
}

// SetSplitAmount overrides one customer's share.
func (p *Processor) SetSplitAmount(cartID string, entryID string, amount decimal.Decimal) (Review, error) {
	c, err := p.deps.Carts.Get(cartID)
	if err != nil {
		return Review{}, err
	}
	totals, _ := p.quote(c, false)

	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.splitSessionLocked(cartID)
	if err != nil {
		return Review{}, err
	}
	if s.allocation == nil {
		return Review{}, domain.ErrInvalidState
	}
	if err := s.allocation.SetAmount(entryID, amount); err != nil {
		return Review{}, err
	}
	return splitReview(cartID, totals, s.allocation), nil
}

// CommitSplit writes one credit sale per entry, each carrying the full item
// list and its entry amount as grand total. Stock is deducted once for the cart.
func (p *Processor) CommitSplit(ctx context.Context, cartID string) (Receipt, error) {
	s, err := p.acquire(cartID, MethodSplit)
	if err != nil {
		return Receipt{}, err
	}
	committed := false
	defer func() { p.release(cartID, committed) }()

	p.mu.Lock()
	alloc := s.allocation
	p.mu.Unlock()
	if alloc == nil {
		return Receipt{}, domain.ErrInvalidState
	}

	c, err := p.deps.Carts.Get(cartID)
	if err != nil {
		return Receipt{}, err
	}
	if len(c.Items) == 0 {
		return Receipt{}, domain.ErrEmptyCart
	}
	totals, _ := p.quote(c, false)
	if !alloc.Total().Equal(totals.GrandTotal) {
		return Receipt{}, &domain.SplitTotalMismatchError{Remaining: totals.GrandTotal.Sub(alloc.Sum())}
	}
	if err := alloc.Validate(); err != nil {
		p.deps.Metrics.CheckoutAttempt(string(MethodSplit), "rejected")
		return Receipt{}, err
	}

	entries := alloc.Entries()
	customers := make([]*domain.Customer, len(entries))
	for i, e := range entries {
		cust, err := p.customer(ctx, e.CustomerID)
		if err != nil {
			return Receipt{}, err
		}
		if cust.CreditLimit.LessThan(e.Amount) {
			p.deps.Metrics.CheckoutAttempt(string(MethodSplit), "rejected")
			return Receipt{}, &domain.CreditLimitExceededError{CustomerID: cust.ID, Limit: cust.CreditLimit, Total: e.Amount}
		}
		customers[i] = snapshot(cust)
	}

	groupID := xid.New("grp")
	now := p.deps.Clock()
	sales := make([]domain.Sale, 0, len(entries))
	for i, e := range entries {
		if e.Amount.IsZero() {
			continue
		}
		gst := decimal.Zero
		if totals.GrandTotal.IsPositive() {
			gst = totals.GSTAmount.Mul(e.Amount).Div(totals.GrandTotal)
		}
		sale := domain.Sale{
			Date:         now,
			Customer:     customers[i],
			Items:        c.Items,
			Subtotal:     e.Amount.Sub(gst),
			GSTAmount:    gst,
			GrandTotal:   e.Amount,
			Payment:      domain.CreditPayment{},
			SplitGroupID: groupID,
		}
		id, err := p.deps.Sales.CreateSale(ctx, sale)
		if err != nil {
			p.rollbackSales(ctx, cartID, sales)
			p.deps.Metrics.CheckoutAttempt(string(MethodSplit), "failed")
			return Receipt{}, domain.Remote("create split sale", err)
		}
		sale.ID = id
		sales = append(sales, sale)
	}
	committed = true

	fx := p.newEffects(cartID, groupID)
	for _, sale := range sales {
		_, err := p.deps.Ledger.AdjustBalance(ctx, sale.Customer.ID, sale.GrandTotal)
		fx.record("balance", err)
	}
	fx.record("stock", p.deductStock(ctx, c.Items))
	cleared, err := p.deps.Carts.Clear(ctx, cartID)
	fx.record("clear_cart", err)

	p.deps.Metrics.CheckoutAttempt(string(MethodSplit), "committed")
	p.deps.Logger.Info().Str("cart_id", cartID).Str("split_group_id", groupID).Int("sales", len(sales)).
		Str("grand_total", totals.GrandTotal.StringFixed(2)).Msg("split checkout committed")
	return Receipt{
		Sales:         sales,
		Totals:        totals,
		Cart:          cleared,
		Warnings:      fx.warnings,
		SideEffectErr: fx.err,
	}, nil
}

// rollbackSales removes sales already written for a split that could not finish.
func (p *Processor) rollbackSales(ctx context.Context, cartID string, sales []domain.Sale) {
	for _, sale := range sales {
		if err := p.deps.Sales.DeleteSale(ctx, sale.ID); err != nil {
			p.deps.Logger.Error().Err(err).Str("cart_id", cartID).Str("sale_id", sale.ID).
				Msg("split sale left behind after failed commit")
		}
	}
}

func (p *Processor) splitSessionLocked(cartID string) (*session, error) {
	s, ok := p.sessions[cartID]
	if !ok || s.state != StateReviewing || s.method != MethodSplit {
		return nil, domain.ErrInvalidState
	}
	if s.inFlight {
		return nil, domain.ErrCommitInFlight
	}
	return s, nil
}

func splitReview(cartID string, totals domain.Totals, alloc *split.Allocation) Review {
	remaining := alloc.Remaining()
	return Review{
		CartID:    cartID,
		State:     StateReviewing,
		Method:    MethodSplit,
		Totals:    totals,
		Split:     alloc.Entries(),
		Remaining: &remaining,
	}
}
