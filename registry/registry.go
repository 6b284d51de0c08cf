// Package registry keeps the set of payment tokens the engine accepts.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/paycore/types"
)

// Registry maps token address to TokenInfo. Entries are soft deleted: a
// removed token keeps its symbol and its position in the listing.
type Registry struct {
	mu      sync.RWMutex
	entries map[common.Address]*types.TokenInfo
	order   []common.Address
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[common.Address]*types.TokenInfo),
		now:     time.Now,
	}
}

// Prepare validates an add request and returns the entry Add would store,
// without changing the registry.
func (r *Registry) Prepare(token common.Address, symbol string) (types.TokenInfo, error) {
	symbol = strings.TrimSpace(symbol)
	if token == (common.Address{}) {
		return types.TokenInfo{}, types.NewError(types.ErrCodeInvalidConfiguration, "token address cannot be the zero address", nil)
	}
	if symbol == "" {
		return types.TokenInfo{}, types.NewError(types.ErrCodeInvalidConfiguration, "token symbol cannot be empty", nil)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now().UTC()
	info := types.TokenInfo{
		Address:     token,
		Symbol:      symbol,
		IsSupported: true,
		AddedAt:     now,
		UpdatedAt:   now,
	}
	if prev, ok := r.entries[token]; ok {
		info.AddedAt = prev.AddedAt
	}
	return info, nil
}

// PrepareRemoval returns the entry Remove would store. Tokens that were never
// added yield ErrNotFound.
func (r *Registry) PrepareRemoval(token common.Address) (types.TokenInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prev, ok := r.entries[token]
	if !ok {
		return types.TokenInfo{}, types.NewError(types.ErrCodeNotFound, fmt.Sprintf("token %s was never added", token.Hex()), nil)
	}
	info := *prev
	info.IsSupported = false
	info.UpdatedAt = r.now().UTC()
	return info, nil
}

// Put stores info as-is, appending new tokens to the listing order.
func (r *Registry) Put(info types.TokenInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[info.Address]; !ok {
		r.order = append(r.order, info.Address)
	}
	c := info
	r.entries[info.Address] = &c
}

// Add marks token as supported with the given symbol. Re-adding overwrites
// the symbol.
func (r *Registry) Add(token common.Address, symbol string) (types.TokenInfo, error) {
	info, err := r.Prepare(token, symbol)
	if err != nil {
		return types.TokenInfo{}, err
	}
	r.Put(info)
	return info, nil
}

// Remove marks token as unsupported.
func (r *Registry) Remove(token common.Address) (types.TokenInfo, error) {
	info, err := r.PrepareRemoval(token)
	if err != nil {
		return types.TokenInfo{}, err
	}
	r.Put(info)
	return info, nil
}

// IsSupported reports whether token is currently accepted.
func (r *Registry) IsSupported(token common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[token]
	return ok && e.IsSupported
}

// Get returns the entry for token. Unknown tokens return the zero value and false.
func (r *Registry) Get(token common.Address) (types.TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[token]
	if !ok {
		return types.TokenInfo{}, false
	}
	return *e, true
}

// List returns supported tokens in insertion order.
func (r *Registry) List() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, 0, len(r.order))
	for _, a := range r.order {
		if r.entries[a].IsSupported {
			out = append(out, a)
		}
	}
	return out
}

// All returns every entry, removed ones included, in insertion order.
func (r *Registry) All() []types.TokenInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.TokenInfo, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, *r.entries[a])
	}
	return out
}

// Reset drops all entries.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[common.Address]*types.TokenInfo)
	r.order = nil
}
