package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid record")
)

type ProductRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	SetShopStock(ctx context.Context, productID string, quantity decimal.Decimal) error
}

type CustomerRepository interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, id string, update domain.CustomerUpdate) error
	CreateSettlement(ctx context.Context, customerID string, settlement domain.Settlement) error
}

type SaleRepository interface {
	CreateSale(ctx context.Context, sale domain.Sale) (string, error)
	DeleteSale(ctx context.Context, id string) error
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	GetGSTReport(ctx context.Context, from time.Time, to time.Time) (domain.GSTReport, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// Repository is the backend the POS core treats as its external collaborator.
type Repository interface {
	ProductRepository
	CustomerRepository
	SaleRepository
	UserRepository
	AuditRepository
}
