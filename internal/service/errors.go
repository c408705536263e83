package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrOutOfStock         = errors.New("out of stock")
	ErrSaleNotSaved       = errors.New("sale not saved")
	ErrInvalidCredentials = errors.New("invalid username or pin")
)

// ValidationError rejects input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func invalidErr(field string, err error) error {
	return &ValidationError{Field: field, Reason: err.Error(), Err: err}
}

// OutOfStockError reports the first product or ingredient that could not cover a reservation.
type OutOfStockError struct {
	ProductID    string
	IngredientID string
	Available    int
	Requested    int
}

func (e *OutOfStockError) Error() string {
	if e.IngredientID != "" {
		return fmt.Sprintf("product %s: ingredient %s has %d, needs %d", e.ProductID, e.IngredientID, e.Available, e.Requested)
	}
	return fmt.Sprintf("product %s has %d in stock, needs %d", e.ProductID, e.Available, e.Requested)
}

func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOutOfStock
}
