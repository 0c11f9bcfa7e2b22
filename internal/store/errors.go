package store

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindSessionClosed           Kind = "session_closed"
	KindSessionAlreadyOpen      Kind = "session_already_open"
	KindNoOpenSession           Kind = "no_open_session"
	KindEmptyCart               Kind = "empty_cart"
	KindNoPayment               Kind = "no_payment"
	KindProductNotFound         Kind = "product_not_found"
	KindInsufficientStock       Kind = "insufficient_stock"
	KindInvalidPaymentMethod    Kind = "invalid_payment_method"
	KindInsufficientPayment     Kind = "insufficient_payment"
	KindSaleNotFound            Kind = "sale_not_found"
	KindAlreadyCancelled        Kind = "already_cancelled"
	KindMultiplePaymentsPresent Kind = "multiple_payments_present"
	KindSaleCancelled           Kind = "sale_cancelled"
	KindStorageFailure          Kind = "storage_failure"
	KindInvalidInput            Kind = "invalid_input"
	KindNotFound                Kind = "not_found"
	KindConcurrentUpdate        Kind = "concurrent_update"
	KindIdempotencyReplay       Kind = "idempotency_replay"
)

// Error is the typed failure returned by repositories and the service layer.
// errors.Is matches any *Error of the same Kind, so the sentinels below can be
// used as targets regardless of the carried details.
type Error struct {
	Kind    Kind
	Message string

	ProductID    int64
	Available    int
	Requested    int
	Method       string
	Total        decimal.Decimal
	Paid         decimal.Decimal
	PaymentCount int

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Shortfall is how much payment is missing for an InsufficientPayment error.
func (e *Error) Shortfall() decimal.Decimal {
	return e.Total.Round(2).Sub(e.Paid.Round(2))
}

var (
	ErrSessionClosed           = &Error{Kind: KindSessionClosed, Message: "cash session is closed"}
	ErrSessionAlreadyOpen      = &Error{Kind: KindSessionAlreadyOpen, Message: "cash session already open"}
	ErrNoOpenSession           = &Error{Kind: KindNoOpenSession, Message: "no open cash session"}
	ErrEmptyCart               = &Error{Kind: KindEmptyCart, Message: "cart is empty"}
	ErrNoPayment               = &Error{Kind: KindNoPayment, Message: "no payment informed"}
	ErrProductNotFound         = &Error{Kind: KindProductNotFound, Message: "product not found"}
	ErrInsufficientStock       = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrInvalidPaymentMethod    = &Error{Kind: KindInvalidPaymentMethod, Message: "invalid payment method"}
	ErrInsufficientPayment     = &Error{Kind: KindInsufficientPayment, Message: "insufficient payment"}
	ErrSaleNotFound            = &Error{Kind: KindSaleNotFound, Message: "sale not found"}
	ErrAlreadyCancelled        = &Error{Kind: KindAlreadyCancelled, Message: "sale already cancelled"}
	ErrMultiplePaymentsPresent = &Error{Kind: KindMultiplePaymentsPresent, Message: "sale must have exactly one payment"}
	ErrSaleCancelled           = &Error{Kind: KindSaleCancelled, Message: "sale is cancelled"}
	ErrStorageFailure          = &Error{Kind: KindStorageFailure, Message: "storage failure"}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrNotFound                = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConcurrentUpdate        = &Error{Kind: KindConcurrentUpdate, Message: "concurrent update, try again"}
	// ErrIdempotencyReplay means a sale with the same operator and key already
	// exists; nothing was written.
	ErrIdempotencyReplay = &Error{Kind: KindIdempotencyReplay, Message: "sale already settled for this idempotency key"}
)

func ProductNotFound(productID int64) error {
	return &Error{
		Kind:      KindProductNotFound,
		Message:   fmt.Sprintf("product %d not found", productID),
		ProductID: productID,
	}
}

func InsufficientStock(productID int64, name string, available, requested int) error {
	label := name
	if label == "" {
		label = fmt.Sprintf("product %d", productID)
	}
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for %s (available: %d, requested: %d)", label, available, requested),
		ProductID: productID,
		Available: available,
		Requested: requested,
	}
}

func InvalidPaymentMethod(method string) error {
	return &Error{
		Kind:    KindInvalidPaymentMethod,
		Message: fmt.Sprintf("payment method %q is not allowed", method),
		Method:  method,
	}
}

func InsufficientPayment(total, paid decimal.Decimal) error {
	e := &Error{Kind: KindInsufficientPayment, Total: total, Paid: paid}
	e.Message = fmt.Sprintf("paid %s is less than total %s (short %s)",
		paid.StringFixed(2), total.StringFixed(2), e.Shortfall().StringFixed(2))
	return e
}

func MultiplePaymentsPresent(count int) error {
	return &Error{
		Kind:         KindMultiplePaymentsPresent,
		Message:      fmt.Sprintf("payment correction requires exactly one payment, sale has %d", count),
		PaymentCount: count,
	}
}

func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps an unexpected persistence fault. Typed errors pass through.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindStorageFailure, Message: "storage failure", Err: err}
}

// ConcurrentUpdate wraps a transaction the database aborted because of a
// conflicting writer. Nothing was persisted and the request may be repeated.
func ConcurrentUpdate(err error) error {
	return &Error{Kind: KindConcurrentUpdate, Message: "concurrent update, try again", Err: err}
}

// KindOf returns the kind carried by err, or "" for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}
