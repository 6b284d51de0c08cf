// Package paycore provides the payment settlement and access-control engine
// behind PaymentCore and GridPaymentGateway deployments: fee-splitting
// settlement of ERC20-style payments, a token registry, and role-gated
// administration.
package paycore

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/paycore/access"
	"github.com/vitwit/paycore/events"
	"github.com/vitwit/paycore/ledger"
	"github.com/vitwit/paycore/logger"
	"github.com/vitwit/paycore/metrics"
	"github.com/vitwit/paycore/settlement"
	"github.com/vitwit/paycore/storage"
	"github.com/vitwit/paycore/storage/memory"
	"github.com/vitwit/paycore/types"
	"github.com/vitwit/paycore/utils"
	"github.com/vitwit/paycore/verification"
)

// Version information
const (
	Version       = settlement.Version
	SchemaVersion = types.SchemaVersion
)

// Gateway wires the settlement engine to its store, event bus, preflight
// verifier and value-transfer backend.
type Gateway struct {
	engine   *settlement.Engine
	verifier *verification.VerificationService
	config   *types.Config

	store     storage.Store
	bus       *events.Bus
	ledger    *ledger.Ledger
	transfers settlement.Transfers
	reader    verification.BalanceReader

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
}

// New creates a Gateway for config. The engine is not usable until Start.
func New(config *types.Config, opts ...Option) (*Gateway, error) {
	if config == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfiguration, "config is required", nil)
	}
	if err := utils.ValidateConfig(config); err != nil {
		return nil, err
	}

	l := ledger.New()
	g := &Gateway{
		config:    config,
		store:     memory.NewStore(),
		bus:       events.NewBus(),
		ledger:    l,
		transfers: l,
		reader:    l,
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		timeout:   config.DefaultTimeout,
	}
	if g.timeout <= 0 {
		g.timeout = settlement.DefaultTimeout
	}
	for _, opt := range opts {
		opt(g)
	}

	g.engine = settlement.NewEngine(g.transfers,
		settlement.WithStore(g.store),
		settlement.WithBus(g.bus),
		settlement.WithLogger(g.logger),
		settlement.WithMetrics(g.metrics),
		settlement.WithTimeout(g.timeout),
		settlement.WithMinAdmins(config.MinAdmins),
	)
	if g.reader != nil {
		g.verifier = verification.NewVerificationService(g.engine, g.reader, g.timeout)
	}
	return g, nil
}

// Start restores persisted state, or initializes a fresh deployment from the
// config when the store is empty.
func (g *Gateway) Start(ctx context.Context) error {
	err := g.engine.Load(ctx)
	if err == nil {
		g.logger.Info("restored deployment", map[string]any{"version": Version})
		return nil
	}
	if !errors.Is(err, types.ErrNotInitialized) {
		return err
	}

	params, err := InitParams(g.config)
	if err != nil {
		return err
	}
	return g.engine.Initialize(ctx, params)
}

// InitParams converts a validated config into engine initialization params.
func InitParams(config *types.Config) (settlement.InitParams, error) {
	p := settlement.InitParams{FeeBasisPoints: config.FeeBasisPoints}

	var err error
	if p.Admin, err = utils.ParseAddress(config.Admin); err != nil {
		return p, types.NewError(types.ErrCodeInvalidConfiguration, "admin", err)
	}
	if p.Treasury, err = utils.ParseAddress(config.Treasury); err != nil {
		return p, types.NewError(types.ErrCodeInvalidConfiguration, "treasury", err)
	}
	if p.Custody, err = utils.ParseAddress(config.Custody); err != nil {
		return p, types.NewError(types.ErrCodeInvalidConfiguration, "custody", err)
	}
	if config.Relayer != "" {
		p.Relayer = common.HexToAddress(config.Relayer)
	}
	if config.Entrypoint != "" {
		p.Entrypoint = common.HexToAddress(config.Entrypoint)
	}
	for _, t := range config.Tokens {
		p.Tokens = append(p.Tokens, settlement.TokenParam{
			Address: common.HexToAddress(t.Address),
			Symbol:  t.Symbol,
		})
	}
	return p, nil
}

// Engine returns the settlement engine for reads and administration.
func (g *Gateway) Engine() *settlement.Engine {
	return g.engine
}

// Ledger returns the in-memory ledger, or nil when a custom transfer
// backend is configured.
func (g *Gateway) Ledger() *ledger.Ledger {
	return g.ledger
}

// Bus returns the event bus committed events are published on.
func (g *Gateway) Bus() *events.Bus {
	return g.bus
}

// ProcessPayment settles intent on behalf of caller.
func (g *Gateway) ProcessPayment(
	ctx context.Context,
	caller common.Address,
	intent *types.PaymentIntent,
) (*types.SettlementResult, error) {
	return g.engine.ProcessPayment(ctx, caller, intent)
}

// BatchProcess settles intents concurrently.
func (g *Gateway) BatchProcess(
	ctx context.Context,
	caller common.Address,
	intents []*types.PaymentIntent,
) ([]*types.SettlementResult, error) {
	return g.engine.BatchProcess(ctx, caller, intents)
}

// Verify predicts whether intent would settle, without moving funds.
func (g *Gateway) Verify(ctx context.Context, intent *types.PaymentIntent) (*types.VerificationResult, error) {
	if g.verifier == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfiguration, "no balance reader configured", nil)
	}
	return g.verifier.Verify(ctx, intent)
}

// HasRole reports whether account holds role.
func (g *Gateway) HasRole(role access.Role, account common.Address) bool {
	return g.engine.HasRole(role, account)
}

// Subscribe registers h for committed events.
func (g *Gateway) Subscribe(h events.Handler) (unsubscribe func()) {
	return g.bus.Subscribe(h)
}

// Close releases the store.
func (g *Gateway) Close() {
	g.store.Close()
}

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version": Version,
		"schema_version":  SchemaVersion,
		"roles": []string{
			access.RoleAdmin.String(),
			access.RoleRelayer.String(),
		},
		"supported_standards": []string{"erc20"},
	}
}
