package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/paycore/access"
	"github.com/vitwit/paycore/fee"
	"github.com/vitwit/paycore/metrics"
	"github.com/vitwit/paycore/storage"
	"github.com/vitwit/paycore/types"
)

// admin runs an administrative mutation: the engine must be initialized and
// caller must hold the admin role. fn persists its change before applying it
// in memory, so a failed call leaves no trace.
func (e *Engine) admin(op string, caller common.Address, fn func() ([]types.Event, error)) error {
	start := time.Now()
	err := e.run(func() ([]types.Event, error) {
		if err := e.requireInitialized(); err != nil {
			return nil, err
		}
		if err := e.access.Require(access.RoleAdmin, caller); err != nil {
			e.metrics.IncCounter(metrics.AdminRejected, map[string]string{"outcome": op})
			e.log.Warn("admin call rejected", map[string]any{
				"operation": op,
				"caller":    caller.Hex(),
			})
			return nil, err
		}
		return fn()
	})

	outcome := "success"
	if err != nil {
		outcome = string(types.CodeOf(err))
	}
	e.metrics.IncCounter(metrics.AdminCalls, map[string]string{"outcome": outcome})
	e.metrics.ObserveLatency(op, time.Since(start), nil)
	return err
}

// AddSupportedToken registers token under symbol. Re-adding a removed token
// revives it; re-adding a supported one overwrites its symbol.
func (e *Engine) AddSupportedToken(ctx context.Context, caller, token common.Address, symbol string) error {
	return e.admin("add_supported_token", caller, func() ([]types.Event, error) {
		info, err := e.registry.Prepare(token, symbol)
		if err != nil {
			return nil, err
		}
		if err := e.persist(ctx, storage.Mutation{Tokens: []types.TokenInfo{info}}); err != nil {
			return nil, err
		}
		e.registry.Put(info)

		e.log.Info("token added", map[string]any{"token": token.Hex(), "symbol": info.Symbol})
		return []types.Event{e.record(ctx, caller, types.Event{
			Kind:   types.EventTokenAdded,
			Token:  addr(token),
			Symbol: info.Symbol,
		})}, nil
	})
}

// RemoveSupportedToken stops accepting token. The entry and its symbol are
// kept. Tokens that were never added yield ErrNotFound.
func (e *Engine) RemoveSupportedToken(ctx context.Context, caller, token common.Address) error {
	return e.admin("remove_supported_token", caller, func() ([]types.Event, error) {
		info, err := e.registry.PrepareRemoval(token)
		if err != nil {
			return nil, err
		}
		if err := e.persist(ctx, storage.Mutation{Tokens: []types.TokenInfo{info}}); err != nil {
			return nil, err
		}
		e.registry.Put(info)

		e.log.Info("token removed", map[string]any{"token": token.Hex(), "symbol": info.Symbol})
		return []types.Event{e.record(ctx, caller, types.Event{
			Kind:   types.EventTokenRemoved,
			Token:  addr(token),
			Symbol: info.Symbol,
		})}, nil
	})
}

// SetProtocolFee changes the fee rate. bps must not exceed fee.MaxBasisPoints.
func (e *Engine) SetProtocolFee(ctx context.Context, caller common.Address, bps uint64) error {
	return e.admin("set_protocol_fee", caller, func() ([]types.Event, error) {
		if err := fee.Validate(bps); err != nil {
			return nil, err
		}
		cfg := e.cfg()
		old := cfg.FeeBasisPoints
		cfg.FeeBasisPoints = bps
		if err := e.saveConfig(ctx, &cfg, nil); err != nil {
			return nil, err
		}

		e.log.Info("protocol fee changed", map[string]any{"old_bps": old, "new_bps": bps})
		return []types.Event{e.record(ctx, caller, types.Event{
			Kind:              types.EventProtocolFeeChanged,
			OldFeeBasisPoints: &old,
			NewFeeBasisPoints: &bps,
		})}, nil
	})
}

// SetTreasuryWallet changes the fee recipient.
func (e *Engine) SetTreasuryWallet(ctx context.Context, caller, treasury common.Address) error {
	return e.admin("set_treasury_wallet", caller, func() ([]types.Event, error) {
		if treasury == (common.Address{}) {
			return nil, invalidConfig("treasury cannot be the zero address")
		}
		cfg := e.cfg()
		old := cfg.Treasury
		cfg.Treasury = treasury
		if err := e.saveConfig(ctx, &cfg, nil); err != nil {
			return nil, err
		}

		e.log.Info("treasury changed", map[string]any{"old": old.Hex(), "new": treasury.Hex()})
		return []types.Event{e.record(ctx, caller, types.Event{
			Kind:       types.EventTreasuryChanged,
			OldAddress: addr(old),
			NewAddress: addr(treasury),
		})}, nil
	})
}

// SetRelayer replaces the configured relayer. The relayer role moves from the
// previous relayer to the new one.
func (e *Engine) SetRelayer(ctx context.Context, caller, relayer common.Address) error {
	return e.admin("set_relayer", caller, func() ([]types.Event, error) {
		if relayer == (common.Address{}) {
			return nil, invalidConfig("relayer cannot be the zero address")
		}
		cfg := e.cfg()
		old := cfg.Relayer
		if old == relayer {
			return nil, nil
		}
		now := e.now().UTC()

		grant := types.RoleAssignment{Role: access.RoleRelayer.String(), Account: relayer, Active: true, UpdatedAt: now}
		roles := []types.RoleAssignment{grant}
		revokeOld := old != (common.Address{}) && e.access.HasRole(access.RoleRelayer, old)
		if revokeOld {
			roles = append(roles, types.RoleAssignment{Role: access.RoleRelayer.String(), Account: old, Active: false, UpdatedAt: now})
		}
		cfg.Relayer = relayer
		if err := e.saveConfig(ctx, &cfg, roles); err != nil {
			return nil, err
		}

		granted, _ := e.access.Grant(access.RoleRelayer, relayer)
		if revokeOld {
			e.access.Revoke(access.RoleRelayer, old)
		}

		e.log.Info("relayer changed", map[string]any{"old": old.Hex(), "new": relayer.Hex()})
		evs := []types.Event{e.record(ctx, caller, types.Event{
			Kind:       types.EventRelayerChanged,
			OldAddress: addr(old),
			NewAddress: addr(relayer),
		})}
		if granted {
			evs = append(evs, e.record(ctx, caller, types.Event{Kind: types.EventRoleGranted, Role: grant.Role, Account: addr(relayer)}))
		}
		if revokeOld {
			evs = append(evs, e.record(ctx, caller, types.Event{Kind: types.EventRoleRevoked, Role: grant.Role, Account: addr(old)}))
		}
		return evs, nil
	})
}

// GrantAdmin gives account the admin role. Granting to an existing admin is a no-op.
func (e *Engine) GrantAdmin(ctx context.Context, caller, account common.Address) error {
	return e.GrantRole(ctx, caller, access.RoleAdmin, account)
}

// RevokeAdmin removes the admin role from account. Revoking from a non-admin
// is a no-op. Whether the last admin may be revoked depends on WithMinAdmins.
func (e *Engine) RevokeAdmin(ctx context.Context, caller, account common.Address) error {
	return e.RevokeRole(ctx, caller, access.RoleAdmin, account)
}

// GrantRole gives account role.
func (e *Engine) GrantRole(ctx context.Context, caller common.Address, role access.Role, account common.Address) error {
	return e.admin("grant_role", caller, func() ([]types.Event, error) {
		if !role.Valid() {
			return nil, invalidConfig(fmt.Sprintf("unknown role %s", role))
		}
		if account == (common.Address{}) {
			return nil, invalidConfig("cannot grant a role to the zero address")
		}
		if e.access.HasRole(role, account) {
			return nil, nil
		}
		if err := e.persistRole(ctx, role, account, true); err != nil {
			return nil, err
		}
		if _, err := e.access.Grant(role, account); err != nil {
			return nil, err
		}

		e.log.Info("role granted", map[string]any{"role": role.String(), "account": account.Hex()})
		return []types.Event{e.record(ctx, caller, types.Event{
			Kind:    types.EventRoleGranted,
			Role:    role.String(),
			Account: addr(account),
		})}, nil
	})
}

// RevokeRole removes role from account.
func (e *Engine) RevokeRole(ctx context.Context, caller common.Address, role access.Role, account common.Address) error {
	return e.admin("revoke_role", caller, func() ([]types.Event, error) {
		if err := e.access.CanRevoke(role, account); err != nil {
			return nil, err
		}
		if !e.access.HasRole(role, account) {
			return nil, nil
		}
		if err := e.persistRole(ctx, role, account, false); err != nil {
			return nil, err
		}
		if _, err := e.access.Revoke(role, account); err != nil {
			return nil, err
		}

		fields := map[string]any{"role": role.String(), "account": account.Hex()}
		if role == access.RoleAdmin && len(e.access.Members(access.RoleAdmin)) == 0 {
			e.log.Warn("last admin revoked, administrative functions are now locked", fields)
		} else {
			e.log.Info("role revoked", fields)
		}
		return []types.Event{e.record(ctx, caller, types.Event{
			Kind:    types.EventRoleRevoked,
			Role:    role.String(),
			Account: addr(account),
		})}, nil
	})
}

// saveConfig persists cfg together with roles and publishes cfg to readers
// only once the write has landed.
func (e *Engine) saveConfig(ctx context.Context, cfg *types.ProtocolConfig, roles []types.RoleAssignment) error {
	cfg.UpdatedAt = e.now().UTC()
	cfg.SchemaVersion = types.SchemaVersion
	if err := e.persist(ctx, storage.Mutation{Roles: roles, Config: cfg}); err != nil {
		return err
	}
	e.config.Store(cfg)
	return nil
}

func (e *Engine) persistRole(ctx context.Context, role access.Role, account common.Address, active bool) error {
	return e.persist(ctx, storage.Mutation{Roles: []types.RoleAssignment{
		{Role: role.String(), Account: account, Active: active, UpdatedAt: e.now().UTC()},
	}})
}

// persist applies m as one store write.
func (e *Engine) persist(ctx context.Context, m storage.Mutation) error {
	if err := e.store.Apply(ctx, m); err != nil {
		return storageErr("apply", err)
	}
	return nil
}
