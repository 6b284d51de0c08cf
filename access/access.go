// Package access implements the role-based permission checks that guard every
// mutating paycore operation.
package access

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vitwit/paycore/types"
)

// Role is a permission tag.
type Role int

const (
	RoleAdmin Role = iota + 1
	RoleRelayer
)

var roleNames = map[Role]string{
	RoleAdmin:   "PG_ADMIN_ROLE",
	RoleRelayer: "PG_RELAYER_ROLE",
}

// String returns the on-chain role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ID returns keccak256(name), the identifier used by the contract's hasRole.
func (r Role) ID() common.Hash {
	return crypto.Keccak256Hash([]byte(r.String()))
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole maps a role name back to its tag.
func ParseRole(name string) (Role, error) {
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

// Controller tracks role membership. It is safe for concurrent use.
type Controller struct {
	mu        sync.RWMutex
	members   map[Role]map[common.Address]struct{}
	minAdmins int
}

// NewController creates an empty controller. minAdmins > 0 refuses any revoke
// that would leave fewer admins than that.
func NewController(minAdmins int) *Controller {
	return &Controller{
		members:   make(map[Role]map[common.Address]struct{}),
		minAdmins: minAdmins,
	}
}

// HasRole reports whether account holds role.
func (c *Controller) HasRole(role Role, account common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.members[role][account]
	return ok
}

// Grant adds account to role. It returns false if the account already held it.
func (c *Controller) Grant(role Role, account common.Address) (bool, error) {
	if !role.Valid() {
		return false, types.NewError(types.ErrCodeInvalidConfiguration, fmt.Sprintf("unknown role %s", role), nil)
	}
	if account == (common.Address{}) {
		return false, types.NewError(types.ErrCodeInvalidConfiguration, "cannot grant a role to the zero address", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		c.members[role] = set
	}
	if _, held := set[account]; held {
		return false, nil
	}
	set[account] = struct{}{}
	return true, nil
}

// CanRevoke reports whether revoking role from account is allowed, without
// changing anything.
func (c *Controller) CanRevoke(role Role, account common.Address) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.canRevokeLocked(role, account)
}

func (c *Controller) canRevokeLocked(role Role, account common.Address) error {
	if !role.Valid() {
		return types.NewError(types.ErrCodeInvalidConfiguration, fmt.Sprintf("unknown role %s", role), nil)
	}
	if role != RoleAdmin || c.minAdmins <= 0 {
		return nil
	}
	if _, held := c.members[role][account]; !held {
		return nil
	}
	if len(c.members[role])-1 < c.minAdmins {
		return types.NewError(
			types.ErrCodeInvalidConfiguration,
			fmt.Sprintf("revoking %s would leave fewer than %d admins", account.Hex(), c.minAdmins),
			nil,
		)
	}
	return nil
}

// Revoke removes account from role. It returns false if the account did not
// hold it.
func (c *Controller) Revoke(role Role, account common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.canRevokeLocked(role, account); err != nil {
		return false, err
	}
	if _, held := c.members[role][account]; !held {
		return false, nil
	}
	delete(c.members[role], account)
	return true, nil
}

// Members lists the holders of role sorted by address.
func (c *Controller) Members(role Role) []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]common.Address, 0, len(c.members[role]))
	for a := range c.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// Require fails with ErrUnauthorized unless caller holds role.
func (c *Controller) Require(role Role, caller common.Address) error {
	return c.RequireAny(caller, role)
}

// RequireAny fails with ErrUnauthorized unless caller holds at least one of roles.
func (c *Controller) RequireAny(caller common.Address, roles ...Role) error {
	for _, r := range roles {
		if c.HasRole(r, caller) {
			return nil
		}
	}
	return Unauthorized(caller, roles...)
}

// Unauthorized builds the rejection returned to callers missing a role.
func Unauthorized(caller common.Address, roles ...Role) *types.PaycoreError {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return types.NewError(types.ErrCodeUnauthorized, types.MsgNotOperator, nil).
		WithDetails("caller", caller.Hex()).
		WithDetails("required", names)
}

// Reset drops all memberships. Used when restoring persisted state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.members = make(map[Role]map[common.Address]struct{})
}
