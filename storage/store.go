// Package storage defines persistence for engine state and the event audit log.
package storage

import (
	"context"
	"errors"

	"github.com/vitwit/paycore/types"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateKey is returned when an append-only record already exists.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrRejected is returned when the backend refuses a value as out of range.
	ErrRejected = errors.New("storage: value rejected")
)

// Mutation is a set of state writes that must land together. Rows are
// written tokens first, then roles, then the config.
type Mutation struct {
	Tokens []types.TokenInfo
	Roles  []types.RoleAssignment
	Config *types.ProtocolConfig
}

// Empty reports whether m writes nothing.
func (m Mutation) Empty() bool {
	return len(m.Tokens) == 0 && len(m.Roles) == 0 && m.Config == nil
}

// Rows returns the number of rows m writes.
func (m Mutation) Rows() int {
	n := len(m.Tokens) + len(m.Roles)
	if m.Config != nil {
		n++
	}
	return n
}

// Store persists registry entries, role assignments, protocol configuration
// and events. Writes are upserts keyed by natural identity; nothing is ever
// deleted.
type Store interface {
	// Apply writes every row of m or none of them. Tokens are upserted by
	// address and keep their original listing position; roles are upserted
	// by (role, account); the config replaces the previous one.
	Apply(ctx context.Context, m Mutation) error

	// LoadTokens returns every entry in the order tokens were first saved.
	LoadTokens(ctx context.Context) ([]types.TokenInfo, error)

	// LoadRoles returns all assignments, inactive ones included.
	LoadRoles(ctx context.Context) ([]types.RoleAssignment, error)

	// LoadConfig returns the protocol configuration. Returns ErrNotFound before the first save.
	LoadConfig(ctx context.Context) (*types.ProtocolConfig, error)

	// AppendEvent adds e to the audit log.
	AppendEvent(ctx context.Context, e types.Event) error

	// ListEvents returns matching events, newest first.
	ListEvents(ctx context.Context, f types.EventFilter) ([]types.Event, error)

	Close()
}
