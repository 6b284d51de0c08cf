package utils

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateBigInt checks if a string is a valid non-negative base-10 integer
func ValidateBigInt(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	bigInt := new(big.Int)
	if _, ok := bigInt.SetString(value, 10); !ok {
		return nil, fmt.Errorf("invalid big integer format")
	}

	if bigInt.Sign() < 0 {
		return nil, fmt.Errorf("value cannot be negative")
	}

	return bigInt, nil
}

// ParseAddress parses a 0x-prefixed hex address. The zero address is rejected.
func ParseAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("invalid address %q", address)
	}
	a := common.HexToAddress(address)
	if a == (common.Address{}) {
		return common.Address{}, fmt.Errorf("address cannot be the zero address")
	}
	return a, nil
}

// ParseUnits converts a human-readable amount ("5.99") into the token's
// smallest unit at the given decimals. More fractional digits than decimals
// is an error rather than a silent truncation.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}

	if !dec.Equal(dec.Truncate(decimals)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}

	return dec.Shift(decimals).BigInt(), nil
}

// FormatUnits renders a smallest-unit amount at the given decimals.
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}
