package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind represents the type of an engine event.
type EventKind string

const (
	EventInitialized        EventKind = "initialized"
	EventPaymentProcessed   EventKind = "payment_processed"
	EventTokenAdded         EventKind = "token_added"
	EventTokenRemoved       EventKind = "token_removed"
	EventProtocolFeeChanged EventKind = "protocol_fee_changed"
	EventTreasuryChanged    EventKind = "treasury_changed"
	EventRelayerChanged     EventKind = "relayer_changed"
	EventRoleGranted        EventKind = "role_granted"
	EventRoleRevoked        EventKind = "role_revoked"
)

// Event is an audit record of one committed engine call. Only the fields
// touched by the call are populated.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Caller    common.Address `json:"caller"`
	Timestamp time.Time      `json:"timestamp"`

	// Payments
	PaymentID string          `json:"paymentId,omitempty"`
	Payer     *common.Address `json:"payer,omitempty"`
	Payee     *common.Address `json:"payee,omitempty"`
	Token     *common.Address `json:"token,omitempty"`
	Gross     *big.Int        `json:"gross,omitempty"`
	Fee       *big.Int        `json:"fee,omitempty"`
	Net       *big.Int        `json:"net,omitempty"`

	// Registry
	Symbol string `json:"symbol,omitempty"`

	// Configuration
	OldFeeBasisPoints *uint64         `json:"oldFeeBasisPoints,omitempty"`
	NewFeeBasisPoints *uint64         `json:"newFeeBasisPoints,omitempty"`
	OldAddress        *common.Address `json:"oldAddress,omitempty"`
	NewAddress        *common.Address `json:"newAddress,omitempty"`
	Treasury          *common.Address `json:"treasury,omitempty"`

	// Access control
	Role    string          `json:"role,omitempty"`
	Account *common.Address `json:"account,omitempty"`
}

// EventFilter narrows an event listing. Zero values match everything.
type EventFilter struct {
	Kind  EventKind
	Limit int
}
