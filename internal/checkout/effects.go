package checkout

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
)

// effects runs post-sale steps in order and keeps going when one fails.
type effects struct {
	p        *Processor
	cartID   string
	saleID   string
	err      error
	warnings []string
}

func (p *Processor) newEffects(cartID string, saleID string) *effects {
	return &effects{p: p, cartID: cartID, saleID: saleID}
}

// record reports whether the step succeeded.
func (e *effects) record(step string, err error) bool {
	if err == nil {
		return true
	}
	err = domain.Remote(step, err)
	e.err = multierr.Append(e.err, err)
	e.warnings = append(e.warnings, err.Error())
	e.p.deps.Metrics.SideEffectFailed(step)
	e.p.deps.Logger.Warn().Err(err).Str("cart_id", e.cartID).Str("sale_id", e.saleID).Str("step", step).
		Msg("checkout side effect failed")
	return false
}

// deductStock removes each product's base-unit consumption once, reading the
// current shop stock first. Stock may go negative.
func (p *Processor) deductStock(ctx context.Context, items []domain.CartItem) error {
	consumed := make(map[string]decimal.Decimal, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id := item.Product.ID
		if _, ok := consumed[id]; !ok {
			ids = append(ids, id)
			consumed[id] = decimal.Zero
		}
		consumed[id] = consumed[id].Add(item.StockConsumed())
	}
	slices.Sort(ids)

	products, err := p.deps.Stock.GetProducts(ctx, ids)
	if err != nil {
		return err
	}
	var errs error
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id))
			continue
		}
		next := product.StockShop.Sub(consumed[id])
		if err := p.deps.Stock.SetShopStock(ctx, id, next); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("set stock %s: %w", id, err))
		}
	}
	return errs
}
