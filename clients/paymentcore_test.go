package clients

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paycore/access"
	"github.com/vitwit/paycore/types"
)

var (
	contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	usdc         = common.HexToAddress("0xd33602Ce228aDBc90625e4FC8071aAE0CAd11Fe9")
	treasury     = common.HexToAddress("0x4768d9c51b152153d29efe003aebf19f88152ce9")
	payer        = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	payee        = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
)

// Hardhat's first well-known development key.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type handler func(args []any) ([]any, error)

// fakeBackend answers eth_call by decoding the selector against an ABI and
// packing whatever the registered handler returns.
type fakeBackend struct {
	t        *testing.T
	abis     []abi.ABI
	handlers map[string]handler
	estimate error

	mu       sync.Mutex
	sent     []*ethtypes.Transaction
	chainIDs int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	var abis []abi.ABI
	for _, j := range []string{PaymentCoreABI, ERC20ABI} {
		parsed, err := abi.JSON(strings.NewReader(j))
		require.NoError(t, err)
		abis = append(abis, parsed)
	}
	return &fakeBackend{t: t, abis: abis, handlers: map[string]handler{}}
}

func (f *fakeBackend) method(data []byte) *abi.Method {
	for _, a := range f.abis {
		if m, err := a.MethodById(data[:4]); err == nil {
			return m
		}
	}
	f.t.Fatalf("unknown selector %x", data[:4])
	return nil
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m := f.method(call.Data)
	args, err := m.Inputs.Unpack(call.Data[4:])
	require.NoError(f.t, err)

	h, ok := f.handlers[m.Name]
	if !ok {
		f.t.Fatalf("no handler for %s", m.Name)
	}
	out, err := h(args)
	if err != nil {
		return nil, err
	}
	return m.Outputs.Pack(out...)
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 90_000, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainIDs++
	return big.NewInt(31337), nil
}

// revertError mimics the JSON-RPC error returned for a reverted call.
type revertError struct {
	data string
}

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorData() interface{} { return e.data }

func newRevert(t *testing.T, reason string) revertError {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return revertError{data: hexutil.Encode(append(selector, packed...))}
}

func newTestClient(t *testing.T, withSigner bool) (*PaymentCoreClient, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend(t)
	var c *PaymentCoreClient
	var err error
	if withSigner {
		key, kerr := crypto.HexToECDSA(testKey)
		require.NoError(t, kerr)
		c, err = NewPaymentCoreClientWithBackend(fb, contractAddr, key, nil)
	} else {
		c, err = NewPaymentCoreClientWithBackend(fb, contractAddr, nil, nil)
	}
	require.NoError(t, err)
	return c, fb
}

func TestPaymentCoreClient_Reads(t *testing.T) {
	c, fb := newTestClient(t, false)
	ctx := context.Background()

	fb.handlers["version"] = func([]any) ([]any, error) { return []any{"1.0.0"}, nil }
	fb.handlers["getProtocolFee"] = func([]any) ([]any, error) { return []any{big.NewInt(100)}, nil }
	fb.handlers["getTreasuryWallet"] = func([]any) ([]any, error) { return []any{treasury}, nil }
	fb.handlers["isTokenSupported"] = func(args []any) ([]any, error) {
		return []any{args[0].(common.Address) == usdc}, nil
	}
	fb.handlers["supportedTokens"] = func([]any) ([]any, error) { return []any{true, "USDC"}, nil }
	fb.handlers["getSupportedTokens"] = func([]any) ([]any, error) { return []any{[]common.Address{usdc}}, nil }
	fb.handlers["calculateProtocolFees"] = func(args []any) ([]any, error) {
		amount := args[0].(*big.Int)
		return []any{new(big.Int).Div(new(big.Int).Mul(amount, big.NewInt(100)), big.NewInt(10_000))}, nil
	}
	fb.handlers["hasRole"] = func(args []any) ([]any, error) {
		role := args[0].([32]byte)
		return []any{common.Hash(role) == access.RoleAdmin.ID() && args[1].(common.Address) == payer}, nil
	}

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)

	bps, err := c.ProtocolFee(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bps)

	tw, err := c.TreasuryWallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, treasury, tw)

	ok, err := c.IsTokenSupported(ctx, usdc)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.IsTokenSupported(ctx, payer)
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := c.SupportedToken(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, types.TokenInfo{Address: usdc, Symbol: "USDC", IsSupported: true}, info)

	list, err := c.SupportedTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{usdc}, list)

	f, err := c.CalculateProtocolFees(ctx, big.NewInt(5_990_000))
	require.NoError(t, err)
	assert.Equal(t, int64(59_900), f.Int64())

	isAdmin, err := c.HasRole(ctx, access.RoleAdmin, payer)
	require.NoError(t, err)
	assert.True(t, isAdmin)
	isAdmin, err = c.HasRole(ctx, access.RoleRelayer, payer)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestPaymentCoreClient_ProcessPayment(t *testing.T) {
	c, fb := newTestClient(t, true)
	ctx := context.Background()

	intent := &types.PaymentIntent{Payer: payer, Payee: payee, Token: usdc, Amount: big.NewInt(100)}
	hash, err := c.ProcessPayment(ctx, intent)
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)

	tx := fb.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, contractAddr, *tx.To())
	assert.Equal(t, uint64(90_000), tx.Gas())

	want, err := c.contract.abi.Pack("processPayment", payer, payee, usdc, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, want, tx.Data())

	from, err := ethtypes.Sender(ethtypes.NewEIP155Signer(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, c.Signer(), from)

	_, err = c.ProcessPayment(ctx, &types.PaymentIntent{Payer: payer, Token: usdc, Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, types.ErrInvalidPayment)
	assert.Len(t, fb.sent, 1)
}

func TestPaymentCoreClient_AdminWrites(t *testing.T) {
	c, fb := newTestClient(t, true)
	ctx := context.Background()

	_, err := c.AddSupportedToken(ctx, usdc, "USDC")
	require.NoError(t, err)
	_, err = c.RemoveSupportedToken(ctx, usdc)
	require.NoError(t, err)
	_, err = c.SetProtocolFee(ctx, 10)
	require.NoError(t, err)
	_, err = c.SetTreasuryWallet(ctx, treasury)
	require.NoError(t, err)
	_, err = c.GrantAdmin(ctx, payer)
	require.NoError(t, err)
	_, err = c.RevokeAdmin(ctx, payer)
	require.NoError(t, err)

	require.Len(t, fb.sent, 6)
	for i, tx := range fb.sent {
		assert.Equal(t, uint64(i), tx.Nonce())
	}
	m, err := c.contract.abi.MethodById(fb.sent[2].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "setProtocolFee", m.Name)
}

func TestPaymentCoreClient_ReadOnly(t *testing.T) {
	c, _ := newTestClient(t, false)
	assert.Equal(t, common.Address{}, c.Signer())

	_, err := c.AddSupportedToken(context.Background(), usdc, "USDC")
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestPaymentCoreClient_RevertMapping(t *testing.T) {
	c, fb := newTestClient(t, true)
	ctx := context.Background()

	fb.estimate = newRevert(t, types.MsgNotOperator)
	_, err := c.AddSupportedToken(ctx, usdc, "USDC")
	require.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Equal(t, types.MsgNotOperator, err.Error()[:len(types.MsgNotOperator)])

	fb.estimate = newRevert(t, "Token not supported")
	_, err = c.ProcessPayment(ctx, &types.PaymentIntent{Payer: payer, Payee: payee, Token: usdc, Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, types.ErrUnsupportedToken)

	fb.estimate = newRevert(t, "ERC20: insufficient allowance")
	_, err = c.ProcessPayment(ctx, &types.PaymentIntent{Payer: payer, Payee: payee, Token: usdc, Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, types.ErrTransferFailed)

	boom := errors.New("connection refused")
	fb.estimate = boom
	_, err = c.RevokeAdmin(ctx, payer)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, fb.sent)
}

func TestERC20Client(t *testing.T) {
	fb := newFakeBackend(t)
	e, err := NewERC20Client(fb)
	require.NoError(t, err)
	ctx := context.Background()

	fb.handlers["balanceOf"] = func(args []any) ([]any, error) {
		if args[0].(common.Address) == payer {
			return []any{big.NewInt(1000)}, nil
		}
		return []any{big.NewInt(0)}, nil
	}
	fb.handlers["allowance"] = func(args []any) ([]any, error) {
		assert.Equal(t, contractAddr, args[1].(common.Address))
		return []any{big.NewInt(250)}, nil
	}
	fb.handlers["decimals"] = func([]any) ([]any, error) { return []any{uint8(6)}, nil }

	b, err := e.BalanceOf(ctx, usdc, payer)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Int64())

	a, err := e.Allowance(ctx, usdc, payer, contractAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(250), a.Int64())

	d, err := e.Decimals(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), d)
}

func TestPaymentCoreClient_ConcurrentWritesResolveChainIDOnce(t *testing.T) {
	c, fb := newTestClient(t, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(bps uint64) {
			defer wg.Done()
			_, err := c.SetProtocolFee(ctx, bps)
			assert.NoError(t, err)
		}(uint64(i))
	}
	wg.Wait()

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, 1, fb.chainIDs)
	require.Len(t, fb.sent, 16)

	signer := ethtypes.NewEIP155Signer(big.NewInt(31337))
	for _, tx := range fb.sent {
		from, err := ethtypes.Sender(signer, tx)
		require.NoError(t, err)
		assert.Equal(t, c.Signer(), from)
	}
}
