package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LegKind distinguishes allowance-based pulls from custody pushes.
type LegKind string

const (
	// LegPull moves From -> To using To's allowance from From (transferFrom).
	LegPull LegKind = "pull"

	// LegPush moves From -> To out of From's own balance (transfer).
	LegPush LegKind = "push"
)

// Leg is one value movement inside a settlement.
type Leg struct {
	Kind    LegKind        `json:"kind"`
	Spender common.Address `json:"spender,omitempty"`
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Amount  *big.Int       `json:"amount"`
}

func (l Leg) String() string {
	return fmt.Sprintf("%s %s %s->%s", l.Kind, l.Amount, l.From.Hex(), l.To.Hex())
}
