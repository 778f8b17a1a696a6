package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alippalheyss/posnew-nw-sub000/internal/cart"
	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/ledger"
	"github.com/alippalheyss/posnew-nw-sub000/internal/pricing"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// flakySales fails the nth CreateSale call (1-based) and can block on gate.
type flakySales struct {
	*memory.Store
	mu      sync.Mutex
	calls   int
	failOn  int
	gate    chan struct{}
	entered chan struct{}
}

func (f *flakySales) CreateSale(ctx context.Context, sale domain.Sale) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		f.entered <- struct{}{}
		<-gate
	}
	if f.failOn > 0 && n == f.failOn {
		return "", errors.New("backend unavailable")
	}
	return f.Store.CreateSale(ctx, sale)
}

type flakyStock struct {
	*memory.Store
	fail bool
}

func (f *flakyStock) SetShopStock(ctx context.Context, id string, qty decimal.Decimal) error {
	if f.fail {
		return errors.New("stock service down")
	}
	return f.Store.SetShopStock(ctx, id, qty)
}

type harness struct {
	repo  *memory.Store
	carts *cart.Store
	sales *flakySales
	stock *flakyStock
	proc  *Processor
	day   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memory.New()
	repo.PutProduct(domain.Product{ID: "tea", Name: "Tea", Price: dec("50.00"), StockShop: dec("100"),
		Units: []domain.Unit{{Name: "Box", Price: dec("90.00"), ConversionFactor: dec("2")}}})
	repo.PutProduct(domain.Product{ID: "milk", Name: "Milk", Price: dec("25.00"), StockShop: dec("40"), IsZeroTax: true})
	repo.PutProduct(domain.Product{ID: "tv", Name: "TV", Price: dec("500.00"), StockShop: dec("5")})
	repo.PutProduct(domain.Product{ID: "tv-plus", Name: "TV Plus", Price: dec("500.01"), StockShop: dec("5")})
	repo.PutCustomer(domain.Customer{ID: "ali", Name: "Ali", CreditLimit: dec("500"), LoyaltyPoints: 120, OutstandingBalance: dec("400")})
	repo.PutCustomer(domain.Customer{ID: "bee", Name: "Bee", CreditLimit: dec("40")})
	repo.PutCustomer(domain.Customer{ID: "cam", Name: "Cam", CreditLimit: dec("1000")})

	carts := cart.New(cart.NewMemoryPersister(), zerolog.Nop())
	require.NoError(t, carts.Load(context.Background()))

	led, err := ledger.New(repo, zerolog.Nop())
	require.NoError(t, err)

	h := &harness{
		repo:  repo,
		carts: carts,
		sales: &flakySales{Store: repo},
		stock: &flakyStock{Store: repo},
		day:   time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	proc, err := New(Deps{
		Carts:      carts,
		Ledger:     led,
		Customers:  repo,
		Sales:      h.sales,
		Stock:      h.stock,
		Calculator: pricing.NewCalculator(dec("8")),
		Logger:     zerolog.Nop(),
		Clock:      func() time.Time { return h.day },
	})
	require.NoError(t, err)
	h.proc = proc
	return h
}

func (h *harness) add(t *testing.T, productID string, unit string, qty int) string {
	t.Helper()
	ctx := context.Background()
	p, err := h.repo.GetProduct(ctx, productID)
	require.NoError(t, err)
	c, err := h.carts.AddLine(ctx, h.carts.ActiveID(), *p, unit, decimal.NewFromInt(1), qty)
	require.NoError(t, err)
	return c.ID
}

func (h *harness) attach(t *testing.T, cartID string, customerID string) {
	t.Helper()
	c, err := h.repo.GetCustomer(context.Background(), customerID)
	require.NoError(t, err)
	_, err = h.carts.SetCustomer(context.Background(), cartID, c)
	require.NoError(t, err)
}

func (h *harness) sold(t *testing.T) []domain.Sale {
	t.Helper()
	sales, err := h.repo.ListSales(context.Background(), h.day.Add(-time.Hour), h.day.Add(time.Hour))
	require.NoError(t, err)
	return sales
}

func (h *harness) stockOf(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	p, err := h.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockShop
}

func (h *harness) customer(t *testing.T, id string) *domain.Customer {
	t.Helper()
	c, err := h.repo.GetCustomer(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestBeginRejectsEmptyCartForEveryMethod(t *testing.T) {
	h := newHarness(t)
	for _, m := range []Method{MethodCash, MethodCredit, MethodCard, MethodMobile, MethodSplit} {
		_, err := h.proc.Begin(context.Background(), h.carts.ActiveID(), m)
		assert.ErrorIs(t, err, domain.ErrEmptyCart, m)
	}
	assert.Equal(t, StateIdle, h.proc.State(h.carts.ActiveID()))
}

func TestCashRejectsUnderpaymentAndLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 2)

	review, err := h.proc.Begin(ctx, cartID, MethodCash)
	require.NoError(t, err)
	assert.True(t, review.Totals.GrandTotal.Equal(dec("100")))

	_, err = h.proc.CommitCash(ctx, cartID, dec("99.99"))
	var short *domain.InsufficientPaymentError
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Due.Equal(dec("100")))

	assert.Equal(t, StateReviewing, h.proc.State(cartID))
	assert.Empty(t, h.sold(t))
	c, err := h.carts.Get(cartID)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
	assert.True(t, h.stockOf(t, "tea").Equal(dec("100")))
}

func TestCashExactPaymentCommits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "Box", 3)
	h.add(t, "milk", "", 2)

	review, err := h.proc.Begin(ctx, cartID, MethodCash)
	require.NoError(t, err)
	total := review.Totals.GrandTotal
	assert.True(t, total.Equal(dec("320")))

	receipt, err := h.proc.CommitCash(ctx, cartID, total)
	require.NoError(t, err)
	require.NoError(t, receipt.SideEffectErr)
	assert.True(t, receipt.Change.IsZero())
	require.Len(t, receipt.Sales, 1)
	payment, ok := receipt.Sales[0].Payment.(domain.CashPayment)
	require.True(t, ok)
	assert.True(t, payment.Change.IsZero())

	assert.True(t, h.stockOf(t, "tea").Equal(dec("94")), "3 boxes of 2 each")
	assert.True(t, h.stockOf(t, "milk").Equal(dec("38")))
	assert.Empty(t, receipt.Cart.Items)
	assert.Equal(t, StateCommitted, h.proc.State(cartID))
	assert.Len(t, h.sold(t), 1)
}

func TestCashWithCustomerRedeemsAndAwardsPoints(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 5)
	h.attach(t, cartID, "ali")
	_, err := h.carts.SetRedemption(ctx, cartID, 50)
	require.NoError(t, err)

	review, err := h.proc.Begin(ctx, cartID, MethodCash)
	require.NoError(t, err)
	assert.Equal(t, int64(50), review.RedeemPoints)
	assert.True(t, review.Totals.GrandTotal.Equal(dec("200")))

	receipt, err := h.proc.CommitCash(ctx, cartID, dec("250"))
	require.NoError(t, err)
	assert.True(t, receipt.Change.Equal(dec("50")))
	assert.Equal(t, int64(50), receipt.PointsRedeemed)
	assert.Equal(t, int64(2), receipt.PointsAwarded)
	assert.Equal(t, int64(72), h.customer(t, "ali").LoyaltyPoints)
	assert.True(t, h.customer(t, "ali").OutstandingBalance.Equal(dec("400")))
}

func TestRedemptionIsCappedByPointsHeldAtCommit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	cartA := h.add(t, "tea", "", 2)
	h.attach(t, cartA, "ali")
	_, err := h.carts.SetRedemption(ctx, cartA, 100)
	require.NoError(t, err)

	cartB, err := h.carts.CreateCart(ctx)
	require.NoError(t, err)
	h.add(t, "tea", "", 1)
	h.attach(t, cartB.ID, "ali")
	_, err = h.carts.SetRedemption(ctx, cartB.ID, 50)
	require.NoError(t, err)

	reviewB, err := h.proc.Begin(ctx, cartB.ID, MethodCredit)
	require.NoError(t, err)
	assert.Equal(t, int64(50), reviewB.RedeemPoints)

	_, err = h.proc.Begin(ctx, cartA, MethodCash)
	require.NoError(t, err)
	receiptA, err := h.proc.CommitCash(ctx, cartA, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(100), receiptA.PointsRedeemed)
	assert.Equal(t, int64(20), h.customer(t, "ali").LoyaltyPoints)

	receiptB, err := h.proc.CommitCredit(ctx, cartB.ID)
	require.NoError(t, err)
	require.NoError(t, receiptB.SideEffectErr)
	assert.Equal(t, int64(20), receiptB.PointsRedeemed)
	assert.True(t, receiptB.Totals.Discount.Equal(dec("20")))
	assert.True(t, receiptB.Totals.GrandTotal.Equal(dec("30")))

	ali := h.customer(t, "ali")
	assert.Zero(t, ali.LoyaltyPoints)
	assert.True(t, ali.OutstandingBalance.Equal(dec("430")))
}

func TestBeginUsesCurrentPointsForRestoredCart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 2)
	h.attach(t, cartID, "ali")
	_, err := h.carts.SetRedemption(ctx, cartID, 100)
	require.NoError(t, err)

	spent := int64(15)
	require.NoError(t, h.repo.UpdateCustomer(ctx, "ali", domain.CustomerUpdate{LoyaltyPoints: &spent}))

	review, err := h.proc.Begin(ctx, cartID, MethodCash)
	require.NoError(t, err)
	assert.Equal(t, int64(15), review.RedeemPoints)
	assert.True(t, review.Totals.GrandTotal.Equal(dec("85")))
}

func TestQuoteNeverRedeemsMoreThanTheCustomerHolds(t *testing.T) {
	h := newHarness(t)
	c := domain.Cart{
		Items:        []domain.CartItem{{ID: "l1", Product: domain.Product{ID: "tea"}, Qty: 1, UnitPrice: dec("50"), UnitConversion: dec("1")}},
		Customer:     &domain.Customer{ID: "ali", LoyaltyPoints: 10},
		RedeemPoints: 40,
	}
	totals, redeem := h.proc.Quote(c)
	assert.Equal(t, int64(10), redeem)
	assert.True(t, totals.GrandTotal.Equal(dec("40")))
}

func TestCreditNeedsCustomer(t *testing.T) {
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 1)
	_, err := h.proc.Begin(context.Background(), cartID, MethodCredit)
	assert.ErrorIs(t, err, domain.ErrNoCustomer)
}

// The limit is checked against this sale alone; Ali already owes 400.
func TestCreditLimitIsPerTransactionCeiling(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	cartID := h.add(t, "tv", "", 1)
	h.attach(t, cartID, "ali")
	_, err := h.proc.Begin(ctx, cartID, MethodCredit)
	require.NoError(t, err)
	receipt, err := h.proc.CommitCredit(ctx, cartID)
	require.NoError(t, err)
	_, isCredit := receipt.Sales[0].Payment.(domain.CreditPayment)
	assert.True(t, isCredit)
	assert.True(t, h.customer(t, "ali").OutstandingBalance.Equal(dec("900")))
	assert.Equal(t, int64(125), h.customer(t, "ali").LoyaltyPoints)

	h = newHarness(t)
	cartID = h.add(t, "tv-plus", "", 1)
	h.attach(t, cartID, "ali")
	_, err = h.proc.Begin(ctx, cartID, MethodCredit)
	require.NoError(t, err)
	_, err = h.proc.CommitCredit(ctx, cartID)
	var over *domain.CreditLimitExceededError
	require.ErrorAs(t, err, &over)
	assert.True(t, over.Total.Equal(dec("500.01")))
	assert.True(t, h.customer(t, "ali").OutstandingBalance.Equal(dec("400")))
	assert.Empty(t, h.sold(t))
}

func TestFailedSaleWriteKeepsCartForRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.sales.failOn = 1
	cartID := h.add(t, "tea", "", 1)
	h.attach(t, cartID, "ali")

	_, err := h.proc.Begin(ctx, cartID, MethodCredit)
	require.NoError(t, err)
	_, err = h.proc.CommitCredit(ctx, cartID)
	require.ErrorIs(t, err, domain.ErrRemotePersistence)

	c, err := h.carts.Get(cartID)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
	assert.NotNil(t, c.Customer)
	assert.Equal(t, StateReviewing, h.proc.State(cartID))
	assert.True(t, h.customer(t, "ali").OutstandingBalance.Equal(dec("400")))
	assert.True(t, h.stockOf(t, "tea").Equal(dec("100")))

	_, err = h.proc.CommitCredit(ctx, cartID)
	require.NoError(t, err)
	assert.Len(t, h.sold(t), 1)
	assert.True(t, h.customer(t, "ali").OutstandingBalance.Equal(dec("450")))
}

func TestSideEffectFailureIsReportedWithoutRollback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stock.fail = true
	cartID := h.add(t, "tea", "", 1)
	h.attach(t, cartID, "ali")

	_, err := h.proc.Begin(ctx, cartID, MethodCredit)
	require.NoError(t, err)
	receipt, err := h.proc.CommitCredit(ctx, cartID)
	require.NoError(t, err)
	require.Error(t, receipt.SideEffectErr)
	assert.ErrorIs(t, receipt.SideEffectErr, domain.ErrRemotePersistence)
	assert.NotEmpty(t, receipt.Warnings)

	assert.Len(t, h.sold(t), 1)
	assert.True(t, h.customer(t, "ali").OutstandingBalance.Equal(dec("450")))
	assert.True(t, h.stockOf(t, "tea").Equal(dec("100")))
	assert.Empty(t, receipt.Cart.Items)
}

func TestElectronicNeedsReference(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "milk", "", 1)

	_, err := h.proc.Begin(ctx, cartID, MethodCard)
	require.NoError(t, err)
	_, err = h.proc.CommitElectronic(ctx, cartID, MethodCard, " ")
	assert.ErrorIs(t, err, domain.ErrMissingReference)
	_, err = h.proc.CommitElectronic(ctx, cartID, MethodMobile, "ref")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	receipt, err := h.proc.CommitElectronic(ctx, cartID, MethodCard, "AUTH-7781")
	require.NoError(t, err)
	assert.Equal(t, domain.CardPayment{Reference: "AUTH-7781"}, receipt.Sales[0].Payment)
}

func TestAbortHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 1)

	_, err := h.proc.Begin(ctx, cartID, MethodCash)
	require.NoError(t, err)
	require.NoError(t, h.proc.Abort(cartID))
	assert.Equal(t, StateAborted, h.proc.State(cartID))

	_, err = h.proc.CommitCash(ctx, cartID, dec("100"))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, h.proc.Abort(cartID), domain.ErrInvalidState)
	assert.Empty(t, h.sold(t))
	assert.True(t, h.stockOf(t, "tea").Equal(dec("100")))
}

func TestSecondCommitWhileInFlightIsRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.sales.gate = make(chan struct{})
	h.sales.entered = make(chan struct{}, 1)
	cartID := h.add(t, "tea", "", 1)

	_, err := h.proc.Begin(ctx, cartID, MethodCash)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.proc.CommitCash(ctx, cartID, dec("50"))
		done <- err
	}()
	<-h.sales.entered

	_, err = h.proc.CommitCash(ctx, cartID, dec("50"))
	assert.ErrorIs(t, err, domain.ErrCommitInFlight)
	_, err = h.proc.Begin(ctx, cartID, MethodCash)
	assert.ErrorIs(t, err, domain.ErrCommitInFlight)
	assert.ErrorIs(t, h.proc.Abort(cartID), domain.ErrCommitInFlight)

	close(h.sales.gate)
	require.NoError(t, <-done)
	assert.Len(t, h.sold(t), 1)
	assert.True(t, h.stockOf(t, "tea").Equal(dec("99")))
}

func TestSplitThreeWaysCreatesOneSaleEachAndDeductsStockOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 1)
	h.add(t, "milk", "", 2)

	_, err := h.proc.Begin(ctx, cartID, MethodSplit)
	require.NoError(t, err)
	review, err := h.proc.SeedSplit(ctx, cartID, []string{"ali", "bee", "cam"})
	require.NoError(t, err)
	require.Len(t, review.Split, 3)
	assert.Equal(t, "33.33", review.Split[0].Amount.StringFixed(2))
	assert.Equal(t, "33.34", review.Split[2].Amount.StringFixed(2))
	assert.True(t, review.Remaining.IsZero())

	receipt, err := h.proc.CommitSplit(ctx, cartID)
	require.NoError(t, err)
	require.NoError(t, receipt.SideEffectErr)
	require.Len(t, receipt.Sales, 3)

	sum := decimal.Zero
	for _, sale := range receipt.Sales {
		sum = sum.Add(sale.GrandTotal)
		assert.Len(t, sale.Items, 2)
		assert.Equal(t, domain.PaymentCredit, sale.PaymentMethod())
		assert.Equal(t, receipt.Sales[0].SplitGroupID, sale.SplitGroupID)
	}
	assert.True(t, sum.Equal(dec("100")))

	assert.True(t, h.customer(t, "ali").OutstandingBalance.Equal(dec("433.33")))
	assert.True(t, h.customer(t, "bee").OutstandingBalance.Equal(dec("33.33")))
	assert.True(t, h.customer(t, "cam").OutstandingBalance.Equal(dec("33.34")))
	assert.Equal(t, int64(120), h.customer(t, "ali").LoyaltyPoints)

	assert.True(t, h.stockOf(t, "tea").Equal(dec("99")))
	assert.True(t, h.stockOf(t, "milk").Equal(dec("38")))
	assert.Empty(t, receipt.Cart.Items)
}

func TestSplitRequiresReconciledAmounts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 2)

	_, err := h.proc.Begin(ctx, cartID, MethodSplit)
	require.NoError(t, err)
	_, err = h.proc.SeedSplit(ctx, cartID, []string{"ali"})
	require.ErrorIs(t, err, domain.ErrSplitCustomerCount)

	review, err := h.proc.SeedSplit(ctx, cartID, []string{"ali", "cam"})
	require.NoError(t, err)
	review, err = h.proc.SetSplitAmount(cartID, review.Split[0].ID, dec("80"))
	require.NoError(t, err)
	assert.True(t, review.Remaining.Equal(dec("-30")))

	_, err = h.proc.CommitSplit(ctx, cartID)
	var mismatch *domain.SplitTotalMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Empty(t, h.sold(t))

	_, err = h.proc.SetSplitAmount(cartID, review.Split[1].ID, dec("20"))
	require.NoError(t, err)
	receipt, err := h.proc.CommitSplit(ctx, cartID)
	require.NoError(t, err)
	assert.Len(t, receipt.Sales, 2)
}

func TestSplitChecksEachCustomerLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 2)

	_, err := h.proc.Begin(ctx, cartID, MethodSplit)
	require.NoError(t, err)
	_, err = h.proc.SeedSplit(ctx, cartID, []string{"bee", "cam"})
	require.NoError(t, err)

	_, err = h.proc.CommitSplit(ctx, cartID)
	var over *domain.CreditLimitExceededError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, "bee", over.CustomerID)
	assert.Empty(t, h.sold(t))
}

func TestSplitSaleFailureRemovesEarlierSales(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.sales.failOn = 2
	cartID := h.add(t, "tea", "", 1)

	_, err := h.proc.Begin(ctx, cartID, MethodSplit)
	require.NoError(t, err)
	_, err = h.proc.SeedSplit(ctx, cartID, []string{"ali", "cam"})
	require.NoError(t, err)

	_, err = h.proc.CommitSplit(ctx, cartID)
	require.ErrorIs(t, err, domain.ErrRemotePersistence)
	assert.Empty(t, h.sold(t))
	assert.True(t, h.customer(t, "cam").OutstandingBalance.IsZero())
	assert.True(t, h.stockOf(t, "tea").Equal(dec("100")))
	c, err := h.carts.Get(cartID)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
	assert.Equal(t, StateReviewing, h.proc.State(cartID))
}

func TestSplitRejectsCartChangedAfterSeeding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cartID := h.add(t, "tea", "", 1)

	_, err := h.proc.Begin(ctx, cartID, MethodSplit)
	require.NoError(t, err)
	_, err = h.proc.SeedSplit(ctx, cartID, []string{"ali", "cam"})
	require.NoError(t, err)
	h.add(t, "milk", "", 1)

	_, err = h.proc.CommitSplit(ctx, cartID)
	assert.ErrorIs(t, err, domain.ErrSplitTotalMismatch)
}
