package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCredit PaymentMethod = "credit"
	PaymentCard   PaymentMethod = "card"
	PaymentMobile PaymentMethod = "mobile"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCredit, PaymentCard, PaymentMobile:
		return true
	}
	return false
}

// Payment is the settled tender of a sale. Each method carries only its own fields.
type Payment interface {
	Method() PaymentMethod
}

type CashPayment struct {
	Paid   decimal.Decimal `json:"paid_amount"`
	Change decimal.Decimal `json:"balance"`
}

type CreditPayment struct{}

type CardPayment struct {
	Reference string `json:"reference"`
}

type MobilePayment struct {
	Reference string `json:"reference"`
}

func (CashPayment) Method() PaymentMethod   { return PaymentCash }
func (CreditPayment) Method() PaymentMethod { return PaymentCredit }
func (CardPayment) Method() PaymentMethod   { return PaymentCard }
func (MobilePayment) Method() PaymentMethod { return PaymentMobile }

// Sale is a finalized transaction. SplitGroupID links the sales produced by one split bill.
type Sale struct {
	ID           string
	Date         time.Time
	Customer     *Customer
	Items        []CartItem
	Subtotal     decimal.Decimal
	GSTAmount    decimal.Decimal
	Discount     decimal.Decimal
	GrandTotal   decimal.Decimal
	Payment      Payment
	SplitGroupID string
}

func (s Sale) PaymentMethod() PaymentMethod {
	if s.Payment == nil {
		return ""
	}
	return s.Payment.Method()
}

type saleJSON struct {
	ID            string           `json:"id"`
	Date          time.Time        `json:"date"`
	Customer      *Customer        `json:"customer,omitempty"`
	Items         []CartItem       `json:"items"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	GSTAmount     decimal.Decimal  `json:"gst_amount"`
	Discount      decimal.Decimal  `json:"discount"`
	GrandTotal    decimal.Decimal  `json:"grand_total"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
	PaidAmount    *decimal.Decimal `json:"paid_amount,omitempty"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	SplitGroupID  string           `json:"split_group_id,omitempty"`
}

func (s Sale) MarshalJSON() ([]byte, error) {
	out := saleJSON{
		ID:           s.ID,
		Date:         s.Date,
		Customer:     s.Customer,
		Items:        s.Items,
		Subtotal:     s.Subtotal,
		GSTAmount:    s.GSTAmount,
		Discount:     s.Discount,
		GrandTotal:   s.GrandTotal,
		SplitGroupID: s.SplitGroupID,
	}
	switch p := s.Payment.(type) {
	case CashPayment:
		out.PaymentMethod = PaymentCash
		out.PaidAmount = &p.Paid
		out.Balance = &p.Change
	case CreditPayment:
		out.PaymentMethod = PaymentCredit
	case CardPayment:
		out.PaymentMethod = PaymentCard
		out.Reference = p.Reference
	case MobilePayment:
		out.PaymentMethod = PaymentMobile
		out.Reference = p.Reference
	case nil:
	default:
		return nil, fmt.Errorf("unsupported payment type %T", s.Payment)
	}
	return json.Marshal(out)
}

func (s *Sale) UnmarshalJSON(data []byte) error {
	var in saleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	payment, err := PaymentFromFields(in.PaymentMethod, in.PaidAmount, in.Balance, in.Reference)
	if err != nil {
		return err
	}
	*s = Sale{
		ID:           in.ID,
		Date:         in.Date,
		Customer:     in.Customer,
		Items:        in.Items,
		Subtotal:     in.Subtotal,
		GSTAmount:    in.GSTAmount,
		Discount:     in.Discount,
		GrandTotal:   in.GrandTotal,
		Payment:      payment,
		SplitGroupID: in.SplitGroupID,
	}
	return nil
}

// PaymentFromFields rebuilds a payment variant from its flattened storage columns.
func PaymentFromFields(method PaymentMethod, paid, change *decimal.Decimal, reference string) (Payment, error) {
	switch method {
	case PaymentCash:
		p := CashPayment{}
		if paid != nil {
			p.Paid = *paid
		}
		if change != nil {
			p.Change = *change
		}
		return p, nil
	case PaymentCredit:
		return CreditPayment{}, nil
	case PaymentCard:
		return CardPayment{Reference: reference}, nil
	case PaymentMobile:
		return MobilePayment{Reference: reference}, nil
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
}
