package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alippalheyss/posnew-nw-sub000/internal/cart"
	"github.com/alippalheyss/posnew-nw-sub000/internal/config"
	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store/memory"
)

func TestValidateSecurityConfig(t *testing.T) {
	strongSecret := "0123456789abcdef0123456789abcdef"

	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "7391"}))
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"}))
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"123456", "999999", "234567", "876543", "12a456"} {
		assert.Error(t, validatePINStrength(pin), pin)
	}
	assert.NoError(t, validatePINStrength("739154"))
}

func TestCartPersisterFallsBackToMemory(t *testing.T) {
	var closers []func() error
	p := cartPersister(context.Background(), config.Config{RedisAddr: "127.0.0.1:1"}, zerolog.Nop(), &closers)
	assert.IsType(t, &cart.MemoryPersister{}, p)
	assert.Empty(t, closers)
}

func TestCartPersisterUsesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	var closers []func() error
	p := cartPersister(context.Background(), config.Config{RedisAddr: mr.Addr(), CartStateKey: "pos:test"}, zerolog.Nop(), &closers)
	require.IsType(t, &cart.RedisPersister{}, p)
	require.Len(t, closers, 1)
	assert.NoError(t, closers[0]())
}

type recordingSeedTarget struct {
	*memory.Store
	products  []domain.Product
	customers []domain.Customer
}

func (r *recordingSeedTarget) UpsertProduct(_ context.Context, p domain.Product) error {
	r.products = append(r.products, p)
	return nil
}

func (r *recordingSeedTarget) UpsertCustomer(_ context.Context, c domain.Customer) error {
	r.customers = append(r.customers, c)
	return nil
}

func TestSeedEmptyCatalogSkipsPopulatedDatabase(t *testing.T) {
	ctx := context.Background()
	target := &recordingSeedTarget{Store: memory.NewSeeded()}

	require.NoError(t, seedEmptyCatalog(ctx, target, memory.NewSeeded(), zerolog.Nop()))
	assert.Empty(t, target.products)
	assert.Empty(t, target.customers)
}

func TestSeedEmptyCatalogFillsFreshDatabase(t *testing.T) {
	ctx := context.Background()
	target := &recordingSeedTarget{Store: memory.New()}

	require.NoError(t, seedEmptyCatalog(ctx, target, memory.NewSeeded(), zerolog.Nop()))
	assert.NotEmpty(t, target.products)
	assert.NotEmpty(t, target.customers)

	users, err := target.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
