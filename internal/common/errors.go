package common

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrInsufficientCollateral     = errors.New("insufficient collateral")
	ErrUnauthorized               = errors.New("unauthorized")
	ErrOrderNotFound              = errors.New("order not found")
	ErrBelowMinimumOrderSize      = errors.New("below minimum order size")
	ErrMakerOrderCapacityExceeded = errors.New("maker order capacity exceeded")
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrRateTooHigh                = fmt.Errorf("%w: rate too high", ErrInvalidAmount)
	ErrInvalidDirection           = errors.New("invalid direction")
	ErrInvalidAsset               = errors.New("asset not traded by this reserve")
	ErrReentrantCall              = errors.New("reentrant call")
)
