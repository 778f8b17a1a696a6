package split

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/xid"
)

// Tolerance is the largest unallocated amount still accepted at commit.
var Tolerance = decimal.RequireFromString("0.01")

// Allocation apportions one total across two or more customers.
type Allocation struct {
	total   decimal.Decimal
	entries []domain.SplitEntry
}

// Seed creates one entry per distinct customer. All but the last get
// round(total/n, 2) and the last takes the remainder, so the seeded entries
// always sum to total exactly. When rounding up would leave the last entry
// negative, the shares are rounded down instead.
func Seed(total decimal.Decimal, customerIDs []string) (*Allocation, error) {
	seen := make(map[string]bool, len(customerIDs))
	ids := make([]string, 0, len(customerIDs))
	for _, id := range customerIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return nil, domain.ErrSplitCustomerCount
	}
	if total.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}

	n := decimal.NewFromInt(int64(len(ids)))
	share := total.Div(n).Round(2)
	if share.Mul(n.Sub(decimal.NewFromInt(1))).GreaterThan(total) {
		share = total.Div(n).RoundFloor(2)
	}
	allocated := decimal.Zero
	entries := make([]domain.SplitEntry, len(ids))
	for i, id := range ids {
		amount := share
		if i == len(ids)-1 {
			amount = total.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		entries[i] = domain.SplitEntry{ID: xid.New("split"), CustomerID: id, Amount: amount}
	}
	return &Allocation{total: total, entries: entries}, nil
}

func (a *Allocation) Total() decimal.Decimal { return a.total }

// SetAmount overrides one entry. Amounts may leave the allocation unbalanced
// until Validate is called.
func (a *Allocation) SetAmount(entryID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	for i := range a.entries {
		if a.entries[i].ID == entryID {
			a.entries[i].Amount = amount
			return nil
		}
	}
	return domain.ErrSplitEntryNotFound
}

func (a *Allocation) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range a.entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

// Remaining is total minus the allocated sum; negative when over-allocated.
func (a *Allocation) Remaining() decimal.Decimal {
	return a.total.Sub(a.Sum())
}

// Validate rejects negative entries and any unallocated amount of a cent or more.
func (a *Allocation) Validate() error {
	for _, e := range a.entries {
		if e.Amount.IsNegative() {
			return domain.ErrInvalidAmount
		}
	}
	remaining := a.Remaining()
	if remaining.Abs().GreaterThanOrEqual(Tolerance) {
		return &domain.SplitTotalMismatchError{Remaining: remaining}
	}
	return nil
}

func (a *Allocation) Entries() []domain.SplitEntry {
	return append([]domain.SplitEntry(nil), a.entries...)
}
