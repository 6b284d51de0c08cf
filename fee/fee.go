// Package fee computes the protocol fee deducted from a payment.
package fee

import (
	"fmt"
	"math/big"

	"github.com/vitwit/paycore/types"
)

const (
	// MaxBasisPoints is 100%.
	MaxBasisPoints = 10_000

	// DefaultBasisPoints is the PaymentCore default of 1%.
	DefaultBasisPoints = 100

	// GridBasisPoints is the GridPaymentGateway default of 0.1%.
	GridBasisPoints = 10
)

var denominator = big.NewInt(MaxBasisPoints)

// Validate rejects rates above 100%.
func Validate(bps uint64) error {
	if bps > MaxBasisPoints {
		return types.NewError(
			types.ErrCodeInvalidConfiguration,
			fmt.Sprintf("protocol fee %d bps exceeds maximum of %d bps", bps, MaxBasisPoints),
			nil,
		)
	}
	return nil
}

// Calculator applies a fixed basis-point rate.
type Calculator struct {
	BasisPoints uint64
}

// New returns a calculator for bps, or an error if bps is out of range.
func New(bps uint64) (Calculator, error) {
	if err := Validate(bps); err != nil {
		return Calculator{}, err
	}
	return Calculator{BasisPoints: bps}, nil
}

// Fee returns floor(gross * bps / 10000). Nil or negative gross yields 0.
func (c Calculator) Fee(gross *big.Int) *big.Int {
	if gross == nil || gross.Sign() <= 0 || c.BasisPoints == 0 {
		return new(big.Int)
	}
	f := new(big.Int).Mul(gross, new(big.Int).SetUint64(c.BasisPoints))
	// Quo truncates toward zero, which is floor for non-negative operands.
	return f.Quo(f, denominator)
}

// Split returns fee and net such that fee + net == gross. Any truncated
// remainder of the fee stays in net.
func (c Calculator) Split(gross *big.Int) (fee, net *big.Int) {
	fee = c.Fee(gross)
	if gross == nil {
		return fee, new(big.Int)
	}
	net = new(big.Int).Sub(gross, fee)
	return fee, net
}
