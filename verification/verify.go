package verification

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/paycore/fee"
	"github.com/vitwit/paycore/types"
)

// Verifier interface defines the contract for payment preflight checks
type Verifier interface {
	Verify(ctx context.Context, intent *types.PaymentIntent) (*types.VerificationResult, error)
}

// BalanceReader reads token balances and allowances. Both ledger.Ledger and
// clients.ERC20Client implement it.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Settings is the engine state a preflight check depends on.
type Settings interface {
	IsTokenSupported(token common.Address) bool
	GetProtocolFee() uint64
	GetCustody() common.Address
}

// VerificationService predicts whether ProcessPayment would succeed for an
// intent, without moving funds.
type VerificationService struct {
	settings Settings
	reader   BalanceReader
	timeout  time.Duration
}

var _ Verifier = (*VerificationService)(nil)

// NewVerificationService creates a new verification service
func NewVerificationService(settings Settings, reader BalanceReader, timeout time.Duration) *VerificationService {
	return &VerificationService{
		settings: settings,
		reader:   reader,
		timeout:  timeout,
	}
}

// Verify checks intent against the token registry, the payer's balance and
// the allowance granted to custody. Failed checks are reported in the result;
// the error return is reserved for a cancelled context.
func (s *VerificationService) Verify(ctx context.Context, intent *types.PaymentIntent) (*types.VerificationResult, error) {
	verifyCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := intent.Validate(); err != nil {
		return invalid(types.ReasonInvalidIntent), nil
	}

	if !s.settings.IsTokenSupported(intent.Token) {
		return invalid(types.ReasonUnsupportedToken), nil
	}

	feeAmount, net := fee.Calculator{BasisPoints: s.settings.GetProtocolFee()}.Split(intent.Amount)
	result := &types.VerificationResult{Fee: feeAmount, Net: net}

	balance, err := s.reader.BalanceOf(verifyCtx, intent.Token, intent.Payer)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.InvalidReason = types.ReasonBalanceLookupFailed
		return result, nil
	}
	result.Balance = balance

	allowance, err := s.reader.Allowance(verifyCtx, intent.Token, intent.Payer, s.settings.GetCustody())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.InvalidReason = types.ReasonAllowanceLookupFailed
		return result, nil
	}
	result.Allowance = allowance

	switch {
	case balance.Cmp(intent.Amount) < 0:
		result.InvalidReason = types.ReasonInsufficientBalance
	case allowance.Cmp(intent.Amount) < 0:
		result.InvalidReason = types.ReasonInsufficientAllowance
	default:
		result.IsValid = true
	}
	return result, nil
}

func invalid(reason string) *types.VerificationResult {
	return &types.VerificationResult{
		IsValid:       false,
		InvalidReason: reason,
	}
}
