// Package settlement implements the payment engine: fee-splitting settlement
// of payments plus the administrative operations that configure it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vitwit/paycore/access"
	"github.com/vitwit/paycore/events"
	"github.com/vitwit/paycore/fee"
	"github.com/vitwit/paycore/logger"
	"github.com/vitwit/paycore/metrics"
	"github.com/vitwit/paycore/registry"
	"github.com/vitwit/paycore/storage"
	"github.com/vitwit/paycore/storage/memory"
	"github.com/vitwit/paycore/types"
)

// Version is reported by Engine.Version.
const Version = "1.0.0"

// DefaultTimeout bounds a single settlement.
const DefaultTimeout = 30 * time.Second

// Engine settles payments and holds the protocol configuration, token
// registry and role assignments. Every call is serialized by one mutex so
// each settlement or administrative change is observed as a single atomic
// step. Reads do not take that mutex.
type Engine struct {
	mu sync.Mutex

	initialized atomic.Bool
	config      atomic.Pointer[types.ProtocolConfig]

	registry  *registry.Registry
	access    *access.Controller
	transfers Transfers
	store     storage.Store
	bus       *events.Bus
	outbox    *events.Outbox
	log       logger.Logger
	metrics   metrics.Recorder
	timeout   time.Duration
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists state and events in s. Defaults to an in-memory store.
func WithStore(s storage.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithBus publishes committed events on b.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) {
		if b != nil {
			e.bus = b
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = logger.OrNoop(l)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTimeout bounds each settlement. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMinAdmins refuses admin revocations that would leave fewer than n
// admins. Zero leaves revocation unguarded.
func WithMinAdmins(n int) Option {
	return func(e *Engine) {
		e.access = access.NewController(n)
	}
}

// NewEngine creates an uninitialized engine that moves value through t.
// Call Initialize for a fresh deployment or Load to restore persisted state.
func NewEngine(t Transfers, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry.New(),
		access:    access.NewController(0),
		transfers: t,
		store:     memory.NewStore(),
		bus:       events.NewBus(),
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.outbox = events.NewOutbox(e.bus)
	e.config.Store(&types.ProtocolConfig{SchemaVersion: types.SchemaVersion})
	return e
}

// TokenParam registers a token at initialization.
type TokenParam struct {
	Address common.Address
	Symbol  string
}

// InitParams is the one-time deployment configuration.
type InitParams struct {
	Admin          common.Address
	Treasury       common.Address
	Custody        common.Address
	Relayer        common.Address
	Entrypoint     common.Address
	FeeBasisPoints uint64
	Tokens         []TokenParam
}

func (p InitParams) validate() error {
	if p.Admin == (common.Address{}) {
		return invalidConfig("admin cannot be the zero address")
	}
	if p.Treasury == (common.Address{}) {
		return invalidConfig("treasury cannot be the zero address")
	}
	if p.Custody == (common.Address{}) {
		return invalidConfig("custody cannot be the zero address")
	}
	return fee.Validate(p.FeeBasisPoints)
}

// Initialize configures a fresh deployment: admin and optional relayer get
// their roles, fee, treasury, custody and entrypoint are recorded and the
// initial tokens are registered. It succeeds once per store.
func (e *Engine) Initialize(ctx context.Context, p InitParams) error {
	return e.run(func() ([]types.Event, error) {
		if e.initialized.Load() {
			return nil, types.ErrAlreadyInitialized
		}
		if _, err := e.store.LoadConfig(ctx); err == nil {
			return nil, types.NewError(types.ErrCodeAlreadyInitialized, "store already holds an initialized deployment", nil)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, storageErr("load config", err)
		}

		if err := p.validate(); err != nil {
			return nil, err
		}
		tokens := make([]types.TokenInfo, 0, len(p.Tokens))
		for _, t := range p.Tokens {
			info, err := e.registry.Prepare(t.Address, t.Symbol)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, info)
		}

		now := e.now().UTC()
		roles := []types.RoleAssignment{{Role: access.RoleAdmin.String(), Account: p.Admin, Active: true, UpdatedAt: now}}
		if p.Relayer != (common.Address{}) {
			roles = append(roles, types.RoleAssignment{Role: access.RoleRelayer.String(), Account: p.Relayer, Active: true, UpdatedAt: now})
		}
		cfg := types.ProtocolConfig{
			FeeBasisPoints: p.FeeBasisPoints,
			Treasury:       p.Treasury,
			Relayer:        p.Relayer,
			Entrypoint:     p.Entrypoint,
			Custody:        p.Custody,
			SchemaVersion:  types.SchemaVersion,
			UpdatedAt:      now,
		}

		// The config row marks the store initialized; it lands with the rest or not at all.
		if err := e.persist(ctx, storage.Mutation{Tokens: tokens, Roles: roles, Config: &cfg}); err != nil {
			return nil, err
		}

		for _, t := range tokens {
			e.registry.Put(t)
		}
		e.access.Grant(access.RoleAdmin, p.Admin)
		if p.Relayer != (common.Address{}) {
			e.access.Grant(access.RoleRelayer, p.Relayer)
		}
		e.config.Store(&cfg)
		e.initialized.Store(true)

		bps := cfg.FeeBasisPoints
		evs := []types.Event{e.record(ctx, p.Admin, types.Event{
			Kind:              types.EventInitialized,
			Treasury:          addr(cfg.Treasury),
			NewAddress:        addr(cfg.Custody),
			NewFeeBasisPoints: &bps,
		})}
		for _, r := range roles {
			evs = append(evs, e.record(ctx, p.Admin, types.Event{Kind: types.EventRoleGranted, Role: r.Role, Account: addr(r.Account)}))
		}
		for _, t := range tokens {
			evs = append(evs, e.record(ctx, p.Admin, types.Event{Kind: types.EventTokenAdded, Token: addr(t.Address), Symbol: t.Symbol}))
		}

		e.log.Info("engine initialized", map[string]any{
			"admin":    p.Admin.Hex(),
			"treasury": cfg.Treasury.Hex(),
			"custody":  cfg.Custody.Hex(),
			"fee_bps":  cfg.FeeBasisPoints,
			"tokens":   len(tokens),
		})
		return evs, nil
	})
}

// Load restores state from the store. It returns ErrNotInitialized when the
// store holds no deployment.
func (e *Engine) Load(ctx context.Context) error {
	return e.run(func() ([]types.Event, error) {
		cfg, err := e.store.LoadConfig(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, types.ErrNotInitialized
			}
			return nil, storageErr("load config", err)
		}
		if cfg.SchemaVersion > types.SchemaVersion {
			return nil, invalidConfig(fmt.Sprintf("stored schema version %d is newer than supported version %d", cfg.SchemaVersion, types.SchemaVersion))
		}
		if err := fee.Validate(cfg.FeeBasisPoints); err != nil {
			return nil, err
		}
		tokens, err := e.store.LoadTokens(ctx)
		if err != nil {
			return nil, storageErr("load tokens", err)
		}
		roles, err := e.store.LoadRoles(ctx)
		if err != nil {
			return nil, storageErr("load roles", err)
		}

		e.registry.Reset()
		for _, t := range tokens {
			e.registry.Put(t)
		}
		e.access.Reset()
		for _, r := range roles {
			if !r.Active {
				continue
			}
			role, err := access.ParseRole(r.Role)
			if err != nil {
				e.log.Warn("skipping stored role", map[string]any{"role": r.Role, "account": r.Account.Hex()})
				continue
			}
			e.access.Grant(role, r.Account)
		}
		cfg.SchemaVersion = types.SchemaVersion
		e.config.Store(cfg)
		e.initialized.Store(true)

		e.log.Info("engine state restored", map[string]any{
			"tokens":  len(tokens),
			"roles":   len(roles),
			"fee_bps": cfg.FeeBasisPoints,
		})
		return nil, nil
	})
}

// run executes fn under the engine lock. The events fn returns are staged
// before the lock is released and delivered after it, so subscribers see
// them in commit order and may call back into the engine.
func (e *Engine) run(fn func() ([]types.Event, error)) error {
	e.mu.Lock()
	evs, err := fn()
	e.outbox.Stage(evs...)
	e.mu.Unlock()

	e.outbox.Flush()
	return err
}

// record stamps ev and appends it to the audit log. The change it describes
// is already committed, so a failed append is logged rather than returned.
func (e *Engine) record(ctx context.Context, caller common.Address, ev types.Event) types.Event {
	ev.ID = uuid.NewString()
	ev.Caller = caller
	ev.Timestamp = e.now().UTC()

	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.log.Error("failed to append event", map[string]any{
			"event": string(ev.Kind),
			"id":    ev.ID,
			"error": err,
		})
	}
	return ev
}

func (e *Engine) requireInitialized() error {
	if !e.initialized.Load() {
		return types.ErrNotInitialized
	}
	return nil
}

func (e *Engine) cfg() types.ProtocolConfig {
	return *e.config.Load()
}

func invalidConfig(msg string) *types.PaycoreError {
	return types.NewError(types.ErrCodeInvalidConfiguration, msg, nil)
}

func storageErr(op string, err error) *types.PaycoreError {
	return types.NewError(types.ErrCodeStorage, op, err)
}

func addr(a common.Address) *common.Address {
	return &a
}

// Reads. None of these require a role.

// Initialized reports whether the engine holds a deployment.
func (e *Engine) Initialized() bool {
	return e.initialized.Load()
}

// Version returns the engine version string.
func (e *Engine) Version() string {
	return Version
}

// Config returns a copy of the protocol configuration.
func (e *Engine) Config() types.ProtocolConfig {
	return e.cfg()
}

// IsTokenSupported reports whether token is currently accepted.
func (e *Engine) IsTokenSupported(token common.Address) bool {
	return e.registry.IsSupported(token)
}

// SupportedToken returns the registry entry for token, or the zero value.
func (e *Engine) SupportedToken(token common.Address) types.TokenInfo {
	info, _ := e.registry.Get(token)
	return info
}

// GetSupportedTokens lists supported tokens in the order they were added.
func (e *Engine) GetSupportedTokens() []common.Address {
	return e.registry.List()
}

// AllTokens returns every registry entry, removed tokens included.
func (e *Engine) AllTokens() []types.TokenInfo {
	return e.registry.All()
}

// GetProtocolFee returns the fee rate in basis points.
func (e *Engine) GetProtocolFee() uint64 {
	return e.cfg().FeeBasisPoints
}

// GetTreasuryWallet returns the fee recipient.
func (e *Engine) GetTreasuryWallet() common.Address {
	return e.cfg().Treasury
}

// GetRelayer returns the configured relayer.
func (e *Engine) GetRelayer() common.Address {
	return e.cfg().Relayer
}

// GetEntrypoint returns the permit helper address recorded at initialization.
func (e *Engine) GetEntrypoint() common.Address {
	return e.cfg().Entrypoint
}

// GetCustody returns the address that holds funds during settlement.
func (e *Engine) GetCustody() common.Address {
	return e.cfg().Custody
}

// CalculateProtocolFee returns the fee ProcessPayment would charge on amount.
func (e *Engine) CalculateProtocolFee(amount *big.Int) *big.Int {
	return fee.Calculator{BasisPoints: e.GetProtocolFee()}.Fee(amount)
}

// HasRole reports whether account holds role.
func (e *Engine) HasRole(role access.Role, account common.Address) bool {
	return e.access.HasRole(role, account)
}

// Members lists the holders of role.
func (e *Engine) Members(role access.Role) []common.Address {
	return e.access.Members(role)
}

// Events returns audit log entries, newest first.
func (e *Engine) Events(ctx context.Context, f types.EventFilter) ([]types.Event, error) {
	evs, err := e.store.ListEvents(ctx, f)
	if err != nil {
		return nil, storageErr("list events", err)
	}
	return evs, nil
}

// Subscribe registers h for events committed after this call. Events arrive
// in commit order; a handler may call back into the engine.
func (e *Engine) Subscribe(h events.Handler) (unsubscribe func()) {
	return e.bus.Subscribe(h)
}
