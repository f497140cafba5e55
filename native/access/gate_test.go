package access

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type stubRoleView map[string]map[common.Address]bool

func (v stubRoleView) HasRole(role string, addr common.Address) bool {
	return v[role][addr]
}

func grant(v stubRoleView, role string, addr common.Address) {
	if v[role] == nil {
		v[role] = make(map[common.Address]bool)
	}
	v[role][addr] = true
}

func TestGateFailsClosed(t *testing.T) {
	var gate *Gate
	caller := common.HexToAddress("0x01")
	if err := gate.RequireExecution(caller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("nil gate should deny, got %v", err)
	}
	gate = NewGate(nil)
	if err := gate.AuthorizeBatch(caller, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("nil view should deny, got %v", err)
	}
}

func TestGateRoles(t *testing.T) {
	view := stubRoleView{}
	operator := common.HexToAddress("0x0a")
	keeper := common.HexToAddress("0x0b")
	stranger := common.HexToAddress("0x0c")
	grant(view, RoleConfiguration, operator)
	grant(view, RoleExecution, keeper)
	gate := NewGate(view)

	if err := gate.RequireConfiguration(operator); err != nil {
		t.Fatalf("operator should configure: %v", err)
	}
	if err := gate.RequireConfiguration(keeper); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("keeper should not configure, got %v", err)
	}
	if err := gate.RequireExecution(keeper); err != nil {
		t.Fatalf("keeper should execute: %v", err)
	}
	if err := gate.RequireExecution(stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger should not execute, got %v", err)
	}
}

func TestGateAuthorizeBatchRewardScope(t *testing.T) {
	view := stubRoleView{}
	keeper := common.HexToAddress("0x1a")
	harvester := common.HexToAddress("0x1b")
	grant(view, RoleExecution, keeper)
	grant(view, RoleRewardClaim, harvester)
	gate := NewGate(view)

	if err := gate.AuthorizeBatch(keeper, false); err != nil {
		t.Fatalf("execution role should pass mixed batches: %v", err)
	}
	if err := gate.AuthorizeBatch(harvester, true); err != nil {
		t.Fatalf("reward role should pass reward-only batches: %v", err)
	}
	if err := gate.AuthorizeBatch(harvester, false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reward role must not pass mixed batches, got %v", err)
	}
}
