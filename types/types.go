package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SchemaVersion is the persisted state layout version. Layout changes are
// additive only so that state written by an older engine stays readable.
const SchemaVersion = 1

// TokenInfo describes one registered payment token.
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Symbol      string         `json:"symbol"`
	IsSupported bool           `json:"isSupported"`
	AddedAt     time.Time      `json:"addedAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ProtocolConfig is the settlement configuration shared by every payment.
type ProtocolConfig struct {
	// Fee rate in basis points (1/100th of a percent).
	FeeBasisPoints uint64 `json:"feeBasisPoints"`

	// Recipient of collected protocol fees.
	Treasury common.Address `json:"treasury"`

	// Relayer allowed to submit payments on behalf of payers.
	Relayer common.Address `json:"relayer"`

	// Permit/allowance helper the deployment was initialized with.
	Entrypoint common.Address `json:"entrypoint"`

	// Address that pulls payer funds and pays out payee and treasury.
	Custody common.Address `json:"custody"`

	SchemaVersion int       `json:"schemaVersion"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// RoleAssignment records whether an account currently holds a role.
type RoleAssignment struct {
	Role      string         `json:"role"`
	Account   common.Address `json:"account"`
	Active    bool           `json:"active"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// PaymentIntent is one settlement request. It is never stored.
type PaymentIntent struct {
	Payer  common.Address `json:"payer"`
	Payee  common.Address `json:"payee"`
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// Validate checks that the intent names both parties and a non-negative amount.
func (p *PaymentIntent) Validate() error {
	if p == nil {
		return fmt.Errorf("payment intent is required")
	}

	if p.Payer == (common.Address{}) {
		return fmt.Errorf("payer is required")
	}

	if p.Payee == (common.Address{}) {
		return fmt.Errorf("payee is required")
	}

	if p.Token == (common.Address{}) {
		return fmt.Errorf("token is required")
	}

	if p.Amount == nil {
		return fmt.Errorf("amount is required")
	}

	if p.Amount.Sign() < 0 {
		return fmt.Errorf("amount cannot be negative, got: %s", p.Amount)
	}

	return nil
}

// SettlementResult contains the outcome of a processed payment.
type SettlementResult struct {
	Success   bool           `json:"success"`
	PaymentID string         `json:"paymentId,omitempty"`
	Payer     common.Address `json:"payer"`
	Payee     common.Address `json:"payee"`
	Token     common.Address `json:"token"`
	Treasury  common.Address `json:"treasury"`
	Gross     *big.Int       `json:"gross,omitempty"`
	Fee       *big.Int       `json:"fee,omitempty"`
	Net       *big.Int       `json:"net,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// VerificationResult contains the result of a payment preflight check.
type VerificationResult struct {
	IsValid       bool     `json:"isValid"`
	InvalidReason string   `json:"invalidReason,omitempty"`
	Fee           *big.Int `json:"fee,omitempty"`
	Net           *big.Int `json:"net,omitempty"`
	Balance       *big.Int `json:"balance,omitempty"`
	Allowance     *big.Int `json:"allowance,omitempty"`
}

// Invalid reasons reported by preflight verification.
const (
	ReasonInvalidIntent         = "invalid_payment_intent"
	ReasonUnsupportedToken      = "unsupported_token"
	ReasonInsufficientBalance   = "insufficient_balance"
	ReasonInsufficientAllowance = "insufficient_allowance"
	ReasonBalanceLookupFailed   = "balance_lookup_failed"
	ReasonAllowanceLookupFailed = "allowance_lookup_failed"
)
