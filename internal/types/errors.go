package types

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSymbol       = errors.New("unknown symbol")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderAlreadyClosed  = errors.New("order already closed")
)

// InsufficientBalanceError names the asset and the shortfall
type InsufficientBalanceError struct {
	Asset     string
	Required  float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %.8f, available %.8f", e.Asset, e.Required, e.Available)
}

// Is lets callers match with errors.Is(err, ErrInsufficientBalance)
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
