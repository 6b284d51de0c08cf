package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20Client reads balances and allowances of any ERC20 token.
type ERC20Client struct {
	*contract
}

// NewERC20Client creates a reader on backend. Calls name the token per call.
func NewERC20Client(backend Backend) (*ERC20Client, error) {
	ct, err := newContract(backend, common.Address{}, ERC20ABI, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	return &ERC20Client{contract: ct}, nil
}

func (e *ERC20Client) at(token common.Address) *contract {
	c := *e.contract
	c.address = token
	return &c
}

// BalanceOf returns owner's balance of token.
func (e *ERC20Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := e.at(token).call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBig(out[0])
}

// Allowance returns what spender may pull from owner.
func (e *ERC20Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := e.at(token).call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBig(out[0])
}

// Decimals returns the token's decimals.
func (e *ERC20Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := e.at(token).call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}
