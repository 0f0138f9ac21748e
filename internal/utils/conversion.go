/*
This file contains common utility functions for converting between on-chain
integer amounts and decimals, particularly for precision handling around
native fee units and token amounts.
*/

package utils

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
)

// BigIntToDecimal converts a raw chain integer (e.g. wei) to a decimal with
// the given precision shifted out.
func BigIntToDecimal(amount *big.Int, precision int) (decimal.Decimal, error) {
	if precision < 0 || precision > 18 {
		return decimal.Zero, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount == nil {
		return decimal.Zero, ErrAmountNil
	}
	if amount.Sign() < 0 {
		return decimal.Zero, ErrAmountNegative
	}
	return decimal.NewFromBigInt(amount, int32(-precision)), nil
}

// DecimalToBigInt converts a decimal amount to the raw chain integer with the
// given precision shifted in. Fractional dust below the precision truncates.
func DecimalToBigInt(amount decimal.Decimal, precision int) (*big.Int, error) {
	if precision < 0 || precision > 18 {
		return nil, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNegative() {
		return nil, ErrAmountNegative
	}
	return amount.Shift(int32(precision)).BigInt(), nil
}
