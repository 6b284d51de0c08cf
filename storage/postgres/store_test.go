package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paycore/storage"
	"github.com/vitwit/paycore/types"
)

var (
	usdc     = common.HexToAddress("0xd33602Ce228aDBc90625e4FC8071aAE0CAd11Fe9")
	dai      = common.HexToAddress("0x3eA3EfA40DB89571E9d0bbF123678E90647644EE")
	admin    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	treasury = common.HexToAddress("0x4768d9c51b152153d29efe003aebf19f88152ce9")
	payer    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func TestStore_Tokens(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, s.Apply(ctx, storage.Mutation{Tokens: []types.TokenInfo{
		{Address: usdc, Symbol: "USDC", IsSupported: true, AddedAt: now, UpdatedAt: now},
		{Address: dai, Symbol: "DAI", IsSupported: true, AddedAt: now, UpdatedAt: now},
	}}))

	later := now.Add(time.Minute)
	require.NoError(t, s.Apply(ctx, storage.Mutation{Tokens: []types.TokenInfo{
		{Address: usdc, Symbol: "USDC", IsSupported: false, AddedAt: now, UpdatedAt: later},
	}}))

	tokens, err := s.LoadTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, usdc, tokens[0].Address, "update keeps original position")
	assert.False(t, tokens[0].IsSupported)
	assert.True(t, tokens[0].UpdatedAt.Equal(later))
	assert.True(t, tokens[0].AddedAt.Equal(now))
	assert.Equal(t, dai, tokens[1].Address)
}

func TestStore_Roles(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Apply(ctx, storage.Mutation{Roles: []types.RoleAssignment{
		{Role: "PG_ADMIN_ROLE", Account: admin, Active: true, UpdatedAt: now},
		{Role: "PG_RELAYER_ROLE", Account: admin, Active: true, UpdatedAt: now},
	}}))
	require.NoError(t, s.Apply(ctx, storage.Mutation{Roles: []types.RoleAssignment{
		{Role: "PG_ADMIN_ROLE", Account: admin, Active: false, UpdatedAt: now},
	}}))

	roles, err := s.LoadRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "PG_ADMIN_ROLE", roles[0].Role)
	assert.False(t, roles[0].Active)
	assert.Equal(t, admin, roles[0].Account)
	assert.True(t, roles[1].Active)
}

func TestStore_Config(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.LoadConfig(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	cfg := types.ProtocolConfig{
		FeeBasisPoints: 100,
		Treasury:       treasury,
		Relayer:        admin,
		Custody:        payer,
		SchemaVersion:  types.SchemaVersion,
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.Apply(ctx, storage.Mutation{Config: &cfg}))

	cfg.FeeBasisPoints = 10
	require.NoError(t, s.Apply(ctx, storage.Mutation{Config: &cfg}))

	got, err := s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.FeeBasisPoints)
	assert.Equal(t, treasury, got.Treasury)
	assert.Equal(t, admin, got.Relayer)
	assert.Equal(t, common.Address{}, got.Entrypoint)
	assert.Equal(t, types.SchemaVersion, got.SchemaVersion)

	cfg.FeeBasisPoints = 10_001
	assert.ErrorIs(t, s.Apply(ctx, storage.Mutation{Config: &cfg}), storage.ErrRejected)
}

func TestStore_ApplyRollsBackOnRejectedRow(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.Apply(ctx, storage.Mutation{
		Tokens: []types.TokenInfo{{Address: usdc, Symbol: "USDC", IsSupported: true, AddedAt: now, UpdatedAt: now}},
		Roles:  []types.RoleAssignment{{Role: "PG_RELAYER_ROLE", Account: admin, Active: true, UpdatedAt: now}},
		Config: &types.ProtocolConfig{FeeBasisPoints: 10_001, Treasury: treasury, SchemaVersion: types.SchemaVersion, UpdatedAt: now},
	})
	require.ErrorIs(t, err, storage.ErrRejected)

	tokens, err := s.LoadTokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, tokens, "token row rolled back with the config")

	roles, err := s.LoadRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles, "role row rolled back with the config")

	_, err = s.LoadConfig(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ApplyEmptyIsNoop(t *testing.T) {
	s := setupTestDB(t)
	require.NoError(t, s.Apply(context.Background(), storage.Mutation{}))
}

func TestStore_Events(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	gross, _ := new(big.Int).SetString("100000000000000000000", 10)
	paid := types.Event{
		ID:        uuid.NewString(),
		Kind:      types.EventPaymentProcessed,
		Caller:    admin,
		Timestamp: now,
		Payer:     &payer,
		Token:     &usdc,
		Gross:     gross,
		Fee:       big.NewInt(1),
	}
	added := types.Event{
		ID:        uuid.NewString(),
		Kind:      types.EventTokenAdded,
		Caller:    admin,
		Timestamp: now,
		Token:     &usdc,
		Symbol:    "USDC",
	}

	require.NoError(t, s.AppendEvent(ctx, paid))
	require.NoError(t, s.AppendEvent(ctx, added))
	assert.ErrorIs(t, s.AppendEvent(ctx, added), storage.ErrDuplicateKey)

	all, err := s.ListEvents(ctx, types.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, added.ID, all[0].ID, "newest first")

	payments, err := s.ListEvents(ctx, types.EventFilter{Kind: types.EventPaymentProcessed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, 0, payments[0].Gross.Cmp(gross), "amounts survive JSONB round trip")
	assert.Equal(t, payer, *payments[0].Payer)

	limited, err := s.ListEvents(ctx, types.EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
