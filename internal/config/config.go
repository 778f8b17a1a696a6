package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CartStateKey          string
	GSTRate               decimal.Decimal
	LoyaltyPointDivisor   decimal.Decimal
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogFormat             string
	LogLevel              string
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	gstRate, err := parseDecimal(k.String("GST_RATE"), "8")
	if err != nil || gstRate.IsNegative() {
		return Config{}, fmt.Errorf("GST_RATE must be a non-negative percentage")
	}
	divisor, err := parseDecimal(k.String("LOYALTY_POINT_DIVISOR"), "100")
	if err != nil || !divisor.IsPositive() {
		return Config{}, fmt.Errorf("LOYALTY_POINT_DIVISOR must be positive")
	}

	return Config{
		Port:                  valueOrDefault(k.String("PORT"), "8080"),
		AllowedOrigin:         valueOrDefault(k.String("ALLOWED_ORIGIN"), "http://127.0.0.1:3000"),
		DatabaseURL:           strings.TrimSpace(k.String("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(k.String("REDIS_ADDR")),
		RedisPassword:         k.String("REDIS_PASSWORD"),
		RedisDB:               parseInt(k.String("REDIS_DB"), 0, 0),
		CartStateKey:          valueOrDefault(k.String("CART_STATE_KEY"), "pos:carts:v1"),
		GSTRate:               gstRate,
		LoyaltyPointDivisor:   divisor,
		AuthSecret:            strings.TrimSpace(k.String("AUTH_SECRET")),
		AccessTokenTTLMinutes: parseInt(k.String("ACCESS_TOKEN_TTL_MINUTES"), 480, 1),
		ManagerPIN:            strings.TrimSpace(k.String("MANAGER_PIN")),
		LogFormat:             valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:              valueOrDefault(k.String("LOG_LEVEL"), "info"),
	}, nil
}

func (c Config) Address() string {
	port := strings.TrimSpace(c.Port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// parseInt falls back when the value is missing, malformed or below min.
func parseInt(value string, fallback int, min int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < min {
		return fallback
	}
	return n
}

func parseDecimal(value, fallback string) (decimal.Decimal, error) {
	return decimal.NewFromString(valueOrDefault(value, fallback))
}
