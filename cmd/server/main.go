package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/alippalheyss/posnew-nw-sub000/internal/cart"
	"github.com/alippalheyss/posnew-nw-sub000/internal/checkout"
	"github.com/alippalheyss/posnew-nw-sub000/internal/config"
	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
	"github.com/alippalheyss/posnew-nw-sub000/internal/httpapi"
	"github.com/alippalheyss/posnew-nw-sub000/internal/ledger"
	"github.com/alippalheyss/posnew-nw-sub000/internal/obs"
	"github.com/alippalheyss/posnew-nw-sub000/internal/pricing"
	"github.com/alippalheyss/posnew-nw-sub000/internal/service"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store"
	"github.com/alippalheyss/posnew-nw-sub000/internal/store/memory"
	pgstore "github.com/alippalheyss/posnew-nw-sub000/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		if err := seedEmptyCatalog(ctx, pg, memory.NewSeeded(), logger); err != nil {
			logger.Fatal().Err(err).Msg("seed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info().Str("repository", "postgres").Msg("repository ready")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Str("repository", "memory").Msg("repository ready")
	}

	persister := cartPersister(ctx, cfg, logger, &closers)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := obs.NewMetrics(reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("register metrics")
	}

	carts := cart.New(persister, logger.With().Str("component", "cart").Logger())
	if err := carts.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load carts")
	}
	customerLedger, err := ledger.New(repo, logger.With().Str("component", "ledger").Logger(), ledger.WithMetrics(metrics))
	if err != nil {
		logger.Fatal().Err(err).Msg("ledger")
	}
	processor, err := checkout.New(checkout.Deps{
		Carts:        carts,
		Ledger:       customerLedger,
		Customers:    repo,
		Sales:        repo,
		Stock:        repo,
		Calculator:   pricing.NewCalculator(cfg.GSTRate),
		PointDivisor: cfg.LoyaltyPointDivisor,
		Logger:       logger.With().Str("component", "checkout").Logger(),
		Metrics:      metrics,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("checkout")
	}

	svc := service.New(repo, carts, customerLedger, processor, logger.With().Str("component", "service").Logger())
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger.With().Str("component", "http").Logger(),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Str("gst_rate", cfg.GSTRate.String()).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}
	logger.Info().Msg("server stopped")
}

// cartPersister uses redis when it answers a ping and keeps carts in memory otherwise.
func cartPersister(ctx context.Context, cfg config.Config, logger zerolog.Logger, closers *[]func() error) cart.Persister {
	if cfg.RedisAddr == "" {
		logger.Info().Str("cart_state", "memory").Msg("cart persistence ready")
		return cart.NewMemoryPersister()
	}
	redisPersister := cart.NewRedisPersister(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CartStateKey)
	if err := redisPersister.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, carts will not survive a restart")
		_ = redisPersister.Close()
		return cart.NewMemoryPersister()
	}
	*closers = append(*closers, redisPersister.Close)
	logger.Info().Str("cart_state", "redis").Str("key", cfg.CartStateKey).Msg("cart persistence ready")
	return redisPersister
}

type seedTarget interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpsertProduct(ctx context.Context, p domain.Product) error
	UpsertCustomer(ctx context.Context, c domain.Customer) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
}

// seedEmptyCatalog copies the demo catalog, customers and users into a fresh database.
func seedEmptyCatalog(ctx context.Context, target seedTarget, source *memory.Store, logger zerolog.Logger) error {
	existing, err := target.ListProducts(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		products, err := source.ListProducts(ctx)
		if err != nil {
			return err
		}
		for _, p := range products {
			if err := target.UpsertProduct(ctx, p); err != nil {
				return fmt.Errorf("seed product %s: %w", p.ID, err)
			}
		}
		customers, err := source.ListCustomers(ctx)
		if err != nil {
			return err
		}
		for _, c := range customers {
			if err := target.UpsertCustomer(ctx, c); err != nil {
				return fmt.Errorf("seed customer %s: %w", c.ID, err)
			}
		}
		logger.Info().Int("products", len(products)).Int("customers", len(customers)).Msg("seeded catalog")
	}

	users, err := target.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	seedUsers, err := source.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range seedUsers {
		if err := target.CreateUser(ctx, u); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects common, repeated-digit and sequential PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "159753": true, "147258": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be digits only")
		}
	}

	allSame := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
		}
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
