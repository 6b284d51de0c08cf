package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/paycore/types"
)

// ErrCompensationFailed is reported when a failed settlement could not be
// fully rolled back. Balances may then be inconsistent and need manual repair.
var ErrCompensationFailed = errors.New("settlement: compensation failed")

// Transfers moves value for one settlement. Execute must be all-or-nothing:
// when it returns an error no leg may remain applied.
type Transfers interface {
	Execute(ctx context.Context, token common.Address, legs []types.Leg) error
}

// TokenTransferer is a plain ERC20-style transfer capability with no notion
// of atomicity across calls.
type TokenTransferer interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error
}

// Saga makes a TokenTransferer all-or-nothing by reversing completed legs when
// a later one fails. A reversed pull returns the funds but not the allowance
// it consumed.
type Saga struct {
	tokens TokenTransferer
}

// NewSaga wraps t.
func NewSaga(t TokenTransferer) *Saga {
	return &Saga{tokens: t}
}

var _ Transfers = (*Saga)(nil)

// Execute applies legs in order and compensates on the first failure.
func (s *Saga) Execute(ctx context.Context, token common.Address, legs []types.Leg) error {
	for i, leg := range legs {
		if err := s.apply(ctx, token, leg); err != nil {
			legErr := fmt.Errorf("leg %d (%s): %w", i, leg.Kind, err)
			if cerr := s.compensate(ctx, token, legs[:i]); cerr != nil {
				return errors.Join(legErr, cerr)
			}
			return legErr
		}
	}
	return nil
}

func (s *Saga) apply(ctx context.Context, token common.Address, leg types.Leg) error {
	switch leg.Kind {
	case types.LegPull:
		return s.tokens.TransferFrom(ctx, token, leg.Spender, leg.From, leg.To, leg.Amount)
	case types.LegPush:
		return s.tokens.Transfer(ctx, token, leg.From, leg.To, leg.Amount)
	default:
		return fmt.Errorf("unknown leg kind %q", leg.Kind)
	}
}

// compensate pushes every completed leg back in reverse order. It runs
// detached from ctx's deadline: a timed out settlement still has to unwind.
func (s *Saga) compensate(ctx context.Context, token common.Address, done []types.Leg) error {
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		leg := done[i]
		if err := s.tokens.Transfer(ctx, token, leg.To, leg.From, leg.Amount); err != nil {
			return fmt.Errorf("%w: reversing leg %d (%s): %v", ErrCompensationFailed, i, leg, err)
		}
	}
	return nil
}
