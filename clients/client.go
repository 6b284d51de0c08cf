// Package clients talks to a deployed PaymentCore contract and to ERC20
// tokens over JSON-RPC.
package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/paycore/types"
)

// ErrNoSigner is returned by write calls on a read-only client.
var ErrNoSigner = errors.New("no signer configured on client")

// Backend is the subset of *ethclient.Client the clients use.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
}

// contract packs calls against one address and ABI.
type contract struct {
	backend Backend
	address common.Address
	abi     abi.ABI
	signer  *ecdsa.PrivateKey
	chain   *chainID
	timeout time.Duration
}

// chainID caches the signing chain id. It is shared by pointer so copies of
// a contract resolve it once.
type chainID struct {
	mu sync.Mutex
	id *big.Int
}

// get returns the cached id, fetching it from backend on first use. A failed
// fetch is not cached.
func (c *chainID) get(ctx context.Context, backend Backend) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.id == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		c.id = id
	}
	return c.id, nil
}

func newContract(backend Backend, address common.Address, abiJSON string, signer *ecdsa.PrivateKey, id *big.Int, timeout time.Duration) (*contract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi failed: %w", err)
	}
	return &contract{
		backend: backend,
		address: address,
		abi:     parsed,
		signer:  signer,
		chain:   &chainID{id: id},
		timeout: timeout,
	}, nil
}

func (c *contract) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// call runs a view method and returns its decoded outputs.
func (c *contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s failed: %w", method, err)
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, wrapRevert(method, err)
	}

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s failed: %w", method, err)
	}
	return values, nil
}

// transact signs and broadcasts a state-changing call and returns the
// transaction hash. It does not wait for inclusion.
func (c *contract) transact(ctx context.Context, method string, args ...any) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, ErrNoSigner
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	callData, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s failed: %w", method, err)
	}

	signerAddr := crypto.PubkeyToAddress(c.signer.PublicKey)

	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: signerAddr, To: &c.address, Data: callData})
	if err != nil {
		return common.Hash{}, wrapRevert(method, err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price failed: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, signerAddr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce failed: %w", err)
	}

	id, err := c.chain.get(ctx, c.backend)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id failed: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, c.address, big.NewInt(0), gasLimit, gasPrice, callData)

	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(id), c.signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx failed: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx failed: %w", err)
	}

	return signed.Hash(), nil
}

// wrapRevert maps contract revert reasons onto paycore error codes.
func wrapRevert(method string, err error) error {
	reason := err.Error()

	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if r, uerr := abi.UnpackRevert(data); uerr == nil {
					reason = r
				}
			}
		}
	}

	switch {
	case strings.Contains(reason, types.MsgNotOperator):
		return types.NewError(types.ErrCodeUnauthorized, types.MsgNotOperator, err).WithDetails("method", method)
	case strings.Contains(strings.ToLower(reason), "not supported"):
		return types.NewError(types.ErrCodeUnsupportedToken, reason, err).WithDetails("method", method)
	case strings.Contains(strings.ToLower(reason), "insufficient allowance"),
		strings.Contains(strings.ToLower(reason), "exceeds balance"):
		return types.NewError(types.ErrCodeTransferFailed, reason, err).WithDetails("method", method)
	}
	return fmt.Errorf("%s failed: %w", method, err)
}

func asBig(v any) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T, want *big.Int", v)
	}
	return b, nil
}
