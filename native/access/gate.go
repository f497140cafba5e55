package access

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Role names. Configuration manages markets, substrates, fuses, and roles;
// execution submits arbitrary batches; reward-claim is the narrow execution
// right over reward-harvesting fuses.
const (
	RoleConfiguration = "vault.configuration"
	RoleExecution     = "vault.execution"
	RoleRewardClaim   = "vault.rewards"
)

// ErrUnauthorized is returned whenever the caller lacks the role an
// operation requires.
var ErrUnauthorized = errors.New("access: unauthorized")

// RoleView answers role membership against the current state.
type RoleView interface {
	HasRole(role string, addr common.Address) bool
}

// Gate enforces the role model at operation boundaries. Authorization fails
// closed: a nil view, a missing membership, or a failed read all deny.
type Gate struct {
	view RoleView
}

func NewGate(view RoleView) *Gate {
	return &Gate{view: view}
}

// RequireConfiguration admits only configuration-role holders.
func (g *Gate) RequireConfiguration(caller common.Address) error {
	return g.require(RoleConfiguration, caller)
}

// RequireExecution admits only execution-role holders.
func (g *Gate) RequireExecution(caller common.Address) error {
	return g.require(RoleExecution, caller)
}

// AuthorizeBatch admits execution-role holders unconditionally. A caller
// holding only the reward-claim role passes when every action in the batch
// targets a reward fuse; one non-reward action denies the whole batch.
func (g *Gate) AuthorizeBatch(caller common.Address, rewardOnly bool) error {
	if g == nil || g.view == nil {
		return fmt.Errorf("%w: gate not configured", ErrUnauthorized)
	}
	if g.view.HasRole(RoleExecution, caller) {
		return nil
	}
	if rewardOnly && g.view.HasRole(RoleRewardClaim, caller) {
		return nil
	}
	return fmt.Errorf("%w: %s may not execute this batch", ErrUnauthorized, caller.Hex())
}

func (g *Gate) require(role string, caller common.Address) error {
	if g == nil || g.view == nil {
		return fmt.Errorf("%w: gate not configured", ErrUnauthorized)
	}
	if !g.view.HasRole(role, caller) {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, caller.Hex(), role)
	}
	return nil
}
