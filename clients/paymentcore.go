package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vitwit/paycore/access"
	"github.com/vitwit/paycore/types"
)

// PaymentCoreClient reads and administers a deployed PaymentCore contract.
type PaymentCoreClient struct {
	eth      *ethclient.Client
	backend  Backend
	contract *contract
	tokens   *ERC20Client
}

// NewPaymentCoreClient dials cfg.RPCUrl. Without cfg.HexSeed the client is read-only.
func NewPaymentCoreClient(ctx context.Context, cfg types.ClientConfig) (*PaymentCoreClient, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("ethereum rpc dial: %w", err)
	}

	var signer *ecdsa.PrivateKey
	if cfg.HexSeed != "" {
		signer, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.HexSeed, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("invalid signer key: %w", err)
		}
	}

	var chainID *big.Int
	if cfg.ChainID > 0 {
		chainID = big.NewInt(cfg.ChainID)
	}

	c, err := NewPaymentCoreClientWithBackend(eth, common.HexToAddress(cfg.Contract), signer, chainID)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.eth = eth
	c.contract.timeout = cfg.Timeout
	c.tokens.timeout = cfg.Timeout
	return c, nil
}

// NewPaymentCoreClientWithBackend builds a client on an existing backend.
// chainID may be nil, in which case it is fetched on the first write.
func NewPaymentCoreClientWithBackend(backend Backend, address common.Address, signer *ecdsa.PrivateKey, chainID *big.Int) (*PaymentCoreClient, error) {
	ct, err := newContract(backend, address, PaymentCoreABI, signer, chainID, 0)
	if err != nil {
		return nil, err
	}
	tokens, err := NewERC20Client(backend)
	if err != nil {
		return nil, err
	}
	return &PaymentCoreClient{backend: backend, contract: ct, tokens: tokens}, nil
}

// Address returns the contract address.
func (c *PaymentCoreClient) Address() common.Address {
	return c.contract.address
}

// Signer returns the address transactions are sent from, or the zero address.
func (c *PaymentCoreClient) Signer() common.Address {
	if c.contract.signer == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.contract.signer.PublicKey)
}

// Tokens returns an ERC20 reader on the same connection.
func (c *PaymentCoreClient) Tokens() *ERC20Client {
	return c.tokens
}

// Close releases the RPC connection if the client dialed it.
func (c *PaymentCoreClient) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

func (c *PaymentCoreClient) Version(ctx context.Context) (string, error) {
	out, err := c.contract.call(ctx, "version")
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func (c *PaymentCoreClient) ProtocolFee(ctx context.Context) (uint64, error) {
	out, err := c.contract.call(ctx, "getProtocolFee")
	if err != nil {
		return 0, err
	}
	b, err := asBig(out[0])
	if err != nil {
		return 0, err
	}
	if !b.IsUint64() {
		return 0, fmt.Errorf("protocol fee %s out of range", b)
	}
	return b.Uint64(), nil
}

func (c *PaymentCoreClient) TreasuryWallet(ctx context.Context) (common.Address, error) {
	out, err := c.contract.call(ctx, "getTreasuryWallet")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (c *PaymentCoreClient) IsTokenSupported(ctx context.Context, token common.Address) (bool, error) {
	out, err := c.contract.call(ctx, "isTokenSupported", token)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// SupportedToken reads the supportedTokens(address) entry.
func (c *PaymentCoreClient) SupportedToken(ctx context.Context, token common.Address) (types.TokenInfo, error) {
	out, err := c.contract.call(ctx, "supportedTokens", token)
	if err != nil {
		return types.TokenInfo{}, err
	}
	return types.TokenInfo{
		Address:     token,
		IsSupported: out[0].(bool),
		Symbol:      out[1].(string),
	}, nil
}

func (c *PaymentCoreClient) SupportedTokens(ctx context.Context) ([]common.Address, error) {
	out, err := c.contract.call(ctx, "getSupportedTokens")
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

func (c *PaymentCoreClient) CalculateProtocolFees(ctx context.Context, amount *big.Int) (*big.Int, error) {
	out, err := c.contract.call(ctx, "calculateProtocolFees", amount)
	if err != nil {
		return nil, err
	}
	return asBig(out[0])
}

func (c *PaymentCoreClient) HasRole(ctx context.Context, role access.Role, account common.Address) (bool, error) {
	out, err := c.contract.call(ctx, "hasRole", [32]byte(role.ID()), account)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *PaymentCoreClient) AddSupportedToken(ctx context.Context, token common.Address, symbol string) (common.Hash, error) {
	return c.contract.transact(ctx, "addSupportedToken", token, symbol)
}

func (c *PaymentCoreClient) RemoveSupportedToken(ctx context.Context, token common.Address) (common.Hash, error) {
	return c.contract.transact(ctx, "removeSupportedToken", token)
}

func (c *PaymentCoreClient) SetProtocolFee(ctx context.Context, bps uint64) (common.Hash, error) {
	return c.contract.transact(ctx, "setProtocolFee", new(big.Int).SetUint64(bps))
}

func (c *PaymentCoreClient) SetTreasuryWallet(ctx context.Context, wallet common.Address) (common.Hash, error) {
	return c.contract.transact(ctx, "setTreasuryWallet", wallet)
}

func (c *PaymentCoreClient) GrantAdmin(ctx context.Context, account common.Address) (common.Hash, error) {
	return c.contract.transact(ctx, "grantAdmin", account)
}

func (c *PaymentCoreClient) RevokeAdmin(ctx context.Context, account common.Address) (common.Hash, error) {
	return c.contract.transact(ctx, "revokeAdmin", account)
}

// ProcessPayment submits a settlement. The signer must hold an operator role.
func (c *PaymentCoreClient) ProcessPayment(ctx context.Context, intent *types.PaymentIntent) (common.Hash, error) {
	if err := intent.Validate(); err != nil {
		return common.Hash{}, types.NewError(types.ErrCodeInvalidPayment, "invalid payment intent", err)
	}
	return c.contract.transact(ctx, "processPayment", intent.Payer, intent.Payee, intent.Token, intent.Amount)
}
