package fuses

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrUnsupportedSubstrate rejects any action whose arguments reference
	// an address outside the market's whitelist. The dispatcher lets it
	// propagate so the whole batch rolls back.
	ErrUnsupportedSubstrate = errors.New("fuses: unsupported substrate")

	// ErrNoTransientInputs is returned by a transient entry point invoked
	// without a preceding action having staged its arguments.
	ErrNoTransientInputs = errors.New("fuses: no staged transient inputs")

	// ErrFuseInstalled is returned when registering a fuse address twice.
	ErrFuseInstalled = errors.New("fuses: fuse already installed")

	// ErrFuseNotInstalled is returned when resolving an address with no
	// registered implementation.
	ErrFuseNotInstalled = errors.New("fuses: fuse not installed")
)

// InsufficientOutputError reports a violated output floor together with the
// floor and the amount actually produced.
type InsufficientOutputError struct {
	Expected *big.Int
	Actual   *big.Int
}

func (e *InsufficientOutputError) Error() string {
	return fmt.Sprintf("fuses: insufficient output: floor %s, produced %s", e.Expected, e.Actual)
}
