package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/vitwit/paycore/storage"
	"github.com/vitwit/paycore/types"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a Store on an existing pool. The schema must already be migrated.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Apply writes m in one transaction.
func (s *Store) Apply(ctx context.Context, m storage.Mutation) error {
	if m.Empty() {
		return nil
	}
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		for _, t := range m.Tokens {
			if err := saveToken(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, r := range m.Roles {
			if err := saveRole(ctx, tx, r); err != nil {
				return err
			}
		}
		if m.Config != nil {
			return saveConfig(ctx, tx, *m.Config)
		}
		return nil
	})
}

func saveToken(ctx context.Context, tx pgx.Tx, t types.TokenInfo) error {
	query := `
		INSERT INTO supported_tokens (address, symbol, is_supported, added_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			symbol       = EXCLUDED.symbol,
			is_supported = EXCLUDED.is_supported,
			added_at     = EXCLUDED.added_at,
			updated_at   = EXCLUDED.updated_at
	`
	_, err := tx.Exec(ctx, query, t.Address.Hex(), t.Symbol, t.IsSupported, t.AddedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save token %s: %w", t.Address.Hex(), err)
	}
	return nil
}

func (s *Store) LoadTokens(ctx context.Context) ([]types.TokenInfo, error) {
	query := `
		SELECT address, symbol, is_supported, added_at, updated_at
		FROM supported_tokens
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	var out []types.TokenInfo
	for rows.Next() {
		var (
			t    types.TokenInfo
			addr string
		)
		if err := rows.Scan(&addr, &t.Symbol, &t.IsSupported, &t.AddedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		t.Address = common.HexToAddress(addr)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return out, nil
}

func saveRole(ctx context.Context, tx pgx.Tx, r types.RoleAssignment) error {
	query := `
		INSERT INTO role_assignments (role, account, active, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role, account) DO UPDATE SET
			active     = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err := tx.Exec(ctx, query, r.Role, r.Account.Hex(), r.Active, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save role %s for %s: %w", r.Role, r.Account.Hex(), err)
	}
	return nil
}

func (s *Store) LoadRoles(ctx context.Context) ([]types.RoleAssignment, error) {
	query := `
		SELECT role, account, active, updated_at
		FROM role_assignments
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	defer rows.Close()

	var out []types.RoleAssignment
	for rows.Next() {
		var (
			r       types.RoleAssignment
			account string
		)
		if err := rows.Scan(&r.Role, &account, &r.Active, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		r.Account = common.HexToAddress(account)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return out, nil
}

func saveConfig(ctx context.Context, tx pgx.Tx, c types.ProtocolConfig) error {
	query := `
		INSERT INTO protocol_config (
			id, fee_basis_points, treasury, relayer, entrypoint, custody, schema_version, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			fee_basis_points = EXCLUDED.fee_basis_points,
			treasury         = EXCLUDED.treasury,
			relayer          = EXCLUDED.relayer,
			entrypoint       = EXCLUDED.entrypoint,
			custody          = EXCLUDED.custody,
			schema_version   = EXCLUDED.schema_version,
			updated_at       = EXCLUDED.updated_at
	`
	_, err := tx.Exec(ctx, query,
		int64(c.FeeBasisPoints),
		c.Treasury.Hex(),
		c.Relayer.Hex(),
		c.Entrypoint.Hex(),
		c.Custody.Hex(),
		c.SchemaVersion,
		c.UpdatedAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return storage.ErrRejected
		}
		return fmt.Errorf("save protocol config: %w", err)
	}
	return nil
}

func (s *Store) LoadConfig(ctx context.Context) (*types.ProtocolConfig, error) {
	query := `
		SELECT fee_basis_points, treasury, relayer, entrypoint, custody, schema_version, updated_at
		FROM protocol_config
		WHERE id = 1
	`
	var (
		c                                      types.ProtocolConfig
		bps                                    int64
		treasury, relayer, entrypoint, custody string
	)
	err := s.pool.QueryRow(ctx, query).Scan(&bps, &treasury, &relayer, &entrypoint, &custody, &c.SchemaVersion, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load protocol config: %w", err)
	}
	c.FeeBasisPoints = uint64(bps)
	c.Treasury = common.HexToAddress(treasury)
	c.Relayer = common.HexToAddress(relayer)
	c.Entrypoint = common.HexToAddress(entrypoint)
	c.Custody = common.HexToAddress(custody)
	return &c, nil
}

func (s *Store) AppendEvent(ctx context.Context, e types.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}

	query := `
		INSERT INTO engine_events (id, kind, caller, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.pool.Exec(ctx, query, e.ID, string(e.Kind), e.Caller.Hex(), payload, e.Timestamp)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append event %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, f types.EventFilter) ([]types.Event, error) {
	query := `
		SELECT payload
		FROM engine_events
		WHERE ($1 = '' OR kind = $1)
		ORDER BY seq DESC
		LIMIT $2
	`
	// LIMIT NULL means no limit.
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}

	rows, err := s.pool.Query(ctx, query, string(f.Kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Event, error) {
		var (
			payload []byte
			e       types.Event
		)
		if err := row.Scan(&payload); err != nil {
			return e, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &e); err != nil {
			return e, fmt.Errorf("decode event: %w", err)
		}
		e.Timestamp = e.Timestamp.In(time.UTC)
		return e, nil
	})
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
