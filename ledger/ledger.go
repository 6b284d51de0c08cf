// Package ledger is an in-memory ERC20-style ledger holding balances and
// allowances for any number of tokens. It backs local deployments and tests
// and provides the all-or-nothing transfer capability the settlement engine
// needs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/paycore/types"
)

// Transfer failure reasons.
var (
	ErrInsufficientBalance   = errors.New("ledger: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrZeroAddress           = errors.New("ledger: transfer to the zero address")
	ErrInvalidAmount         = errors.New("ledger: invalid amount")
)

type account struct {
	token common.Address
	owner common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[account]*big.Int
	allowances map[allowanceKey]*big.Int
	supply     map[common.Address]*big.Int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[account]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		supply:     make(map[common.Address]*big.Int),
	}
}

// Mint credits amount of token to owner.
func (l *Ledger) Mint(token, owner common.Address, amount *big.Int) error {
	if owner == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := account{token, owner}
	l.balances[k] = new(big.Int).Add(l.get(k), amount)
	s := l.supply[token]
	if s == nil {
		s = new(big.Int)
	}
	l.supply[token] = new(big.Int).Add(s, amount)
	return nil
}

// Approve sets spender's allowance over owner's token balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
	return nil
}

// BalanceOf returns owner's balance of token.
func (l *Ledger) BalanceOf(_ context.Context, token, owner common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return new(big.Int).Set(l.get(account{token, owner})), nil
}

// Allowance returns what spender may still pull from owner.
func (l *Ledger) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a := l.allowances[allowanceKey{token, owner, spender}]
	if a == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(a), nil
}

// TotalSupply returns the minted amount of token.
func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.supply[token]
	if s == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(s)
}

// Transfer moves amount from from's own balance.
func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	return l.Execute(ctx, token, []types.Leg{{Kind: types.LegPush, From: from, To: to, Amount: amount}})
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	return l.Execute(ctx, token, []types.Leg{{Kind: types.LegPull, Spender: spender, From: from, To: to, Amount: amount}})
}

// Execute applies legs in order against a staged copy and commits only if
// every leg succeeds.
func (l *Ledger) Execute(ctx context.Context, token common.Address, legs []types.Leg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &stage{
		l:          l,
		token:      token,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
	for i, leg := range legs {
		if err := tx.apply(leg); err != nil {
			return fmt.Errorf("leg %d (%s): %w", i, leg.Kind, err)
		}
	}
	tx.commit()
	return nil
}

func (l *Ledger) get(k account) *big.Int {
	if b := l.balances[k]; b != nil {
		return b
	}
	return new(big.Int)
}

// stage buffers writes of one Execute call.
type stage struct {
	l          *Ledger
	token      common.Address
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func (s *stage) balance(owner common.Address) *big.Int {
	if b, ok := s.balances[owner]; ok {
		return b
	}
	return s.l.get(account{s.token, owner})
}

func (s *stage) allowance(k allowanceKey) *big.Int {
	if a, ok := s.allowances[k]; ok {
		return a
	}
	if a := s.l.allowances[k]; a != nil {
		return a
	}
	return new(big.Int)
}

func (s *stage) apply(leg types.Leg) error {
	if leg.Amount == nil || leg.Amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if leg.To == (common.Address{}) {
		return ErrZeroAddress
	}

	if leg.Kind == types.LegPull {
		k := allowanceKey{s.token, leg.From, leg.Spender}
		allowed := s.allowance(k)
		if allowed.Cmp(leg.Amount) < 0 {
			return ErrInsufficientAllowance
		}
		s.allowances[k] = new(big.Int).Sub(allowed, leg.Amount)
	} else if leg.Kind != types.LegPush {
		return fmt.Errorf("unknown leg kind %q", leg.Kind)
	}

	from := s.balance(leg.From)
	if from.Cmp(leg.Amount) < 0 {
		return ErrInsufficientBalance
	}
	s.balances[leg.From] = new(big.Int).Sub(from, leg.Amount)
	s.balances[leg.To] = new(big.Int).Add(s.balance(leg.To), leg.Amount)
	return nil
}

func (s *stage) commit() {
	for owner, b := range s.balances {
		s.l.balances[account{s.token, owner}] = b
	}
	for k, a := range s.allowances {
		s.l.allowances[k] = a
	}
}
