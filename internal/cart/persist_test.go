package cart

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisPersister(t *testing.T) (*RedisPersister, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := NewRedisPersisterFromClient(client, "")
	t.Cleanup(func() { _ = p.Close() })
	return p, mr
}

func TestRedisPersisterMissingKey(t *testing.T) {
	p, _ := newRedisPersister(t)
	require.NoError(t, p.Ping(context.Background()))

	snap, ok, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestCartsSurviveRestartThroughRedis(t *testing.T) {
	ctx := context.Background()
	p, mr := newRedisPersister(t)

	first := New(p, zerolog.Nop())
	require.NoError(t, first.Load(ctx))
	second, err := first.CreateCart(ctx)
	require.NoError(t, err)
	_, err = first.AddLine(ctx, second.ID, rice(), "Sack", decimal.NewFromInt(1), 3)
	require.NoError(t, err)

	assert.True(t, mr.Exists(DefaultStateKey))
	assert.Zero(t, mr.TTL(DefaultStateKey))

	restarted := New(p, zerolog.Nop())
	require.NoError(t, restarted.Load(ctx))
	assert.Len(t, restarted.List(), 2)
	assert.Equal(t, second.ID, restarted.ActiveID())

	active := restarted.Active()
	require.Len(t, active.Items, 1)
	assert.Equal(t, 3, active.Items[0].Qty)
	assert.Equal(t, "Sack", active.Items[0].SelectedUnit)
}

func TestRedisPersisterSurfacesCorruptPayload(t *testing.T) {
	p, mr := newRedisPersister(t)
	require.NoError(t, mr.Set(DefaultStateKey, "{not json"))

	s := New(p, zerolog.Nop())
	err := s.Load(context.Background())
	require.Error(t, err)
}
