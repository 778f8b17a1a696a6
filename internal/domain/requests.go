package domain

import "github.com/shopspring/decimal"

type AddLineRequest struct {
	ProductID   string           `json:"product_id" validate:"required_without=Barcode"`
	Barcode     string           `json:"barcode,omitempty"`
	Unit        string           `json:"unit,omitempty" validate:"max=64"`
	Qty         int              `json:"qty,omitempty" validate:"gte=0,lte=100000"`
	PriceFactor *decimal.Decimal `json:"price_factor,omitempty"`
}

type UpdateLineRequest struct {
	Qty  *int    `json:"qty,omitempty"`
	Unit *string `json:"unit,omitempty" validate:"omitempty,max=64"`
}

type SetCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type RedemptionRequest struct {
	Points int64 `json:"points" validate:"gte=0"`
}

type BeginCheckoutRequest struct {
	Method string `json:"method" validate:"required,oneof=cash credit card mobile split"`
}

type CashCheckoutRequest struct {
	Paid decimal.Decimal `json:"paid"`
}

type ElectronicCheckoutRequest struct {
	Method    string `json:"method" validate:"required,oneof=card mobile"`
	Reference string `json:"reference" validate:"required,max=128"`
}

type SplitSeedRequest struct {
	CustomerIDs []string `json:"customer_ids" validate:"required,min=2,dive,required"`
}

type SplitAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type SettlementRequest struct {
	Amount decimal.Decimal `json:"amount"`
}
