// Package memory is an in-process implementation of storage.Store.
package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/paycore/storage"
	"github.com/vitwit/paycore/types"
)

type roleKey struct {
	role    string
	account common.Address
}

// Store keeps everything in maps guarded by one RWMutex. Values are copied on
// the way in and out.
type Store struct {
	mu         sync.RWMutex
	tokens     map[common.Address]types.TokenInfo
	tokenOrder []common.Address
	roles      map[roleKey]types.RoleAssignment
	roleOrder  []roleKey
	config     *types.ProtocolConfig
	events     []types.Event
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tokens: make(map[common.Address]types.TokenInfo),
		roles:  make(map[roleKey]types.RoleAssignment),
	}
}

var _ storage.Store = (*Store)(nil)

// Apply writes m under the store lock. It cannot fail.
func (s *Store) Apply(_ context.Context, m storage.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range m.Tokens {
		if _, ok := s.tokens[t.Address]; !ok {
			s.tokenOrder = append(s.tokenOrder, t.Address)
		}
		s.tokens[t.Address] = t
	}
	for _, r := range m.Roles {
		k := roleKey{r.Role, r.Account}
		if _, ok := s.roles[k]; !ok {
			s.roleOrder = append(s.roleOrder, k)
		}
		s.roles[k] = r
	}
	if m.Config != nil {
		c := *m.Config
		s.config = &c
	}
	return nil
}

func (s *Store) LoadTokens(_ context.Context) ([]types.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.TokenInfo, 0, len(s.tokenOrder))
	for _, a := range s.tokenOrder {
		out = append(out, s.tokens[a])
	}
	return out, nil
}

func (s *Store) LoadRoles(_ context.Context) ([]types.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.RoleAssignment, 0, len(s.roleOrder))
	for _, k := range s.roleOrder {
		out = append(out, s.roles[k])
	}
	return out, nil
}

func (s *Store) LoadConfig(_ context.Context) (*types.ProtocolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, storage.ErrNotFound
	}
	c := *s.config
	return &c, nil
}

func (s *Store) AppendEvent(_ context.Context, e types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	return nil
}

func (s *Store) ListEvents(_ context.Context, f types.EventFilter) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() {}
