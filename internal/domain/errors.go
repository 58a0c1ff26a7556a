package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLineItem       = errors.New("invalid line item")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrPaymentFailed         = errors.New("payment failed")
	ErrPaymentCancelled      = errors.New("payment cancelled")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrMissingTrackingNumber = errors.New("tracking number required")
	ErrStorageUnavailable    = errors.New("storage unavailable")

	ErrNotFound           = errors.New("not found")
	ErrVersionConflict    = errors.New("version conflict")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	ErrCheckoutTokenTaken = errors.New("checkout token belongs to another user")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrInvalidInput       = errors.New("invalid input")
)

// StockError reports which product could not satisfy a requested quantity.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }
