package obs

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Str("cart_id", "c1").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "c1", line["cart_id"])
	assert.Equal(t, "pos", line["service"])
}

func TestMetricsCountAndNilSafe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.CheckoutAttempt("cash", "committed")
	m.CheckoutAttempt("cash", "committed")
	m.SideEffectFailed("stock")
	m.SettlementRecorded()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkouts.WithLabelValues("cash", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sideEffectFailures.WithLabelValues("stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements))

	var none *Metrics
	assert.NotPanics(t, func() {
		none.CheckoutAttempt("credit", "rejected")
		none.SettlementRecorded()
		none.SideEffectFailed("ledger")
	})
}
