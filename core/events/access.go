package events

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/types"
)

const (
	// TypeRoleGranted is emitted when an account gains a vault role.
	TypeRoleGranted = "access.roleGranted"
	// TypeRoleRevoked is emitted when an account loses a vault role.
	TypeRoleRevoked = "access.roleRevoked"
)

// RoleGranted records a role assignment.
type RoleGranted struct {
	Role    string
	Account common.Address
}

// EventType satisfies the Event interface.
func (RoleGranted) EventType() string { return TypeRoleGranted }

// Event converts the structured payload into a broadcastable event.
func (e RoleGranted) Event() *types.Event {
	return &types.Event{Type: TypeRoleGranted, Attributes: roleAttrs(e.Role, e.Account)}
}

// RoleRevoked records a role removal.
type RoleRevoked struct {
	Role    string
	Account common.Address
}

// EventType satisfies the Event interface.
func (RoleRevoked) EventType() string { return TypeRoleRevoked }

// Event converts the structured payload into a broadcastable event.
func (e RoleRevoked) Event() *types.Event {
	return &types.Event{Type: TypeRoleRevoked, Attributes: roleAttrs(e.Role, e.Account)}
}

func roleAttrs(role string, account common.Address) map[string]string {
	attrs := map[string]string{
		"addr": formatAddress(account),
	}
	if trimmed := strings.TrimSpace(role); trimmed != "" {
		attrs["role"] = trimmed
	}
	return attrs
}
