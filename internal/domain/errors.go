package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrNoCustomer          = errors.New("a customer must be selected")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrSplitTotalMismatch  = errors.New("split amounts do not match the total")
	ErrSplitCustomerCount  = errors.New("split bill needs at least two customers")
	ErrRemotePersistence   = errors.New("remote persistence failed")

	ErrCartNotFound       = errors.New("cart not found")
	ErrLineNotFound       = errors.New("cart line not found")
	ErrSplitEntryNotFound = errors.New("split entry not found")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrCommitInFlight     = errors.New("checkout already in progress")
	ErrInvalidState       = errors.New("invalid checkout state")
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
	ErrMissingReference   = errors.New("payment reference is required")
)

type InsufficientPaymentError struct {
	Due  decimal.Decimal
	Paid decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: due %s, paid %s", e.Due.StringFixed(2), e.Paid.StringFixed(2))
}

func (e *InsufficientPaymentError) Is(target error) bool { return target == ErrInsufficientPayment }

type CreditLimitExceededError struct {
	CustomerID string
	Limit      decimal.Decimal
	Total      decimal.Decimal
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("credit limit exceeded for customer %s: limit %s, total %s",
		e.CustomerID, e.Limit.StringFixed(2), e.Total.StringFixed(2))
}

func (e *CreditLimitExceededError) Is(target error) bool { return target == ErrCreditLimitExceeded }

// SplitTotalMismatchError reports the unallocated amount. Negative means over-allocated.
type SplitTotalMismatchError struct {
	Remaining decimal.Decimal
}

func (e *SplitTotalMismatchError) Error() string {
	if e.Remaining.IsNegative() {
		return fmt.Sprintf("split over-allocated by %s", e.Remaining.Neg().StringFixed(2))
	}
	return fmt.Sprintf("split has %s left to allocate", e.Remaining.StringFixed(2))
}

func (e *SplitTotalMismatchError) Is(target error) bool { return target == ErrSplitTotalMismatch }

// RemotePersistenceError wraps a collaborator failure with the operation that hit it.
type RemotePersistenceError struct {
	Op  string
	Err error
}

func (e *RemotePersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemotePersistenceError) Unwrap() error { return e.Err }

func (e *RemotePersistenceError) Is(target error) bool { return target == ErrRemotePersistence }

// Remote wraps err as a RemotePersistenceError, passing nil through.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *RemotePersistenceError
	if errors.As(err, &existing) {
		return err
	}
	return &RemotePersistenceError{Op: op, Err: err}
}
