package split

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSeedThreeWaysOfOneHundred(t *testing.T) {
	a, err := Seed(dec("100.00"), []string{"a", "b", "c"})
	require.NoError(t, err)

	entries := a.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "33.33", entries[0].Amount.StringFixed(2))
	assert.Equal(t, "33.33", entries[1].Amount.StringFixed(2))
	assert.Equal(t, "33.34", entries[2].Amount.StringFixed(2))
	assert.True(t, a.Sum().Equal(dec("100.00")))
	require.NoError(t, a.Validate())
}

func TestSeedSumsExactlyForAwkwardTotals(t *testing.T) {
	for _, total := range []string{"0.01", "0.09", "0.05", "10.00", "99.99", "1234.57"} {
		for n := 2; n <= 7; n++ {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = string(rune('a' + i))
			}
			a, err := Seed(dec(total), ids)
			require.NoError(t, err)
			assert.True(t, a.Sum().Equal(dec(total)), "total %s across %d", total, n)
			for _, e := range a.Entries() {
				assert.False(t, e.Amount.IsNegative(), "total %s across %d", total, n)
			}
		}
	}
}

func TestSeedNeedsTwoDistinctCustomers(t *testing.T) {
	_, err := Seed(dec("50"), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrSplitCustomerCount)

	_, err = Seed(dec("50"), []string{"a", "a", " "})
	assert.ErrorIs(t, err, domain.ErrSplitCustomerCount)

	_, err = Seed(dec("50"), nil)
	assert.ErrorIs(t, err, domain.ErrSplitCustomerCount)
}

func TestManualEditsMustReconcile(t *testing.T) {
	a, err := Seed(dec("100"), []string{"a", "b"})
	require.NoError(t, err)
	entries := a.Entries()

	require.NoError(t, a.SetAmount(entries[0].ID, dec("70")))
	err = a.Validate()
	var mismatch *domain.SplitTotalMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.ErrorIs(t, err, domain.ErrSplitTotalMismatch)
	assert.True(t, mismatch.Remaining.Equal(dec("-20")))

	require.NoError(t, a.SetAmount(entries[1].ID, dec("29.995")))
	require.NoError(t, a.Validate())

	require.NoError(t, a.SetAmount(entries[1].ID, dec("29.99")))
	assert.ErrorIs(t, a.Validate(), domain.ErrSplitTotalMismatch)

	assert.ErrorIs(t, a.SetAmount(entries[0].ID, dec("-1")), domain.ErrInvalidAmount)
	assert.ErrorIs(t, a.SetAmount("split-missing", dec("1")), domain.ErrSplitEntryNotFound)
}

func TestSeedRoundsDownWhenRoundingUpWouldOverdraw(t *testing.T) {
	a, err := Seed(dec("0.09"), []string{"a", "b", "c", "d", "e", "f"})
	require.NoError(t, err)

	entries := a.Entries()
	for _, e := range entries[:5] {
		assert.Equal(t, "0.01", e.Amount.StringFixed(2))
	}
	assert.Equal(t, "0.04", entries[5].Amount.StringFixed(2))
	require.NoError(t, a.Validate())
}

func TestValidateRejectsNegativeEntries(t *testing.T) {
	a, err := Seed(dec("10"), []string{"a", "b"})
	require.NoError(t, err)
	a.entries[0].Amount = dec("11")
	a.entries[1].Amount = dec("-1")

	assert.ErrorIs(t, a.Validate(), domain.ErrInvalidAmount)
}
