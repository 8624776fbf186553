package domain

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrValidation         = errors.New("validation failed")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
)

// ErrInUse is returned when deleting a record that other records still reference.
var ErrInUse = errors.New("record is in use")
