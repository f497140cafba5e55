package dispatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"

	"omnivault/core/state"
	"omnivault/native/fuses"
)

// Op selects which entry point of a fuse an action invokes.
type Op uint8

const (
	OpEnter Op = iota + 1
	OpExit
	OpEnterTransient
	OpExitTransient
)

var opNames = map[Op]string{
	OpEnter:          "enter",
	OpExit:           "exit",
	OpEnterTransient: "enterTransient",
	OpExitTransient:  "exitTransient",
}

func (op Op) Valid() bool {
	_, ok := opNames[op]
	return ok
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

func ParseOp(value string) (Op, error) {
	trimmed := strings.TrimSpace(value)
	for op, name := range opNames {
		if strings.EqualFold(trimmed, name) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("dispatch: unknown op %q", value)
}

// Action is one fuse invocation inside a batch.
type Action struct {
	Fuse common.Address
	Op   Op
	Args []byte
}

var (
	ErrEmptyBatch = errors.New("dispatch: batch carries no actions")
)

// InstalledView is the read surface consulted when classifying a batch
// before execution.
type InstalledView interface {
	FuseGet(addr common.Address) (state.FuseRecord, bool, error)
}

// State is the mutable surface a batch executes against. Satisfied by
// *state.Manager; execution always receives the batch's working copy,
// never the canonical trie.
type State interface {
	fuses.State
	FuseGet(addr common.Address) (state.FuseRecord, bool, error)
}

// Dispatcher routes batch actions to installed fuses. Resolution requires
// both halves: an implementation in the bank and a durable record in
// state. Either missing means the action, and with it the batch, fails.
type Dispatcher struct {
	bank *fuses.Bank
}

func NewDispatcher(bank *fuses.Bank) *Dispatcher {
	return &Dispatcher{bank: bank}
}

// Execute runs every action in order against the supplied state. The
// first failing action aborts the batch; the caller is expected to
// discard the state copy it handed in. All actions observe the same
// caller-scoped transient arena.
func (d *Dispatcher) Execute(st State, arena *TransientContext, vault, caller common.Address, actions []Action) ([]*fuses.Receipt, error) {
	if d == nil || d.bank == nil {
		return nil, errors.New("dispatch: dispatcher not initialised")
	}
	if st == nil {
		return nil, errors.New("dispatch: state not initialised")
	}
	if len(actions) == 0 {
		return nil, ErrEmptyBatch
	}
	if arena == nil {
		arena = NewTransientContext()
	}
	scope := arena.Scope(caller)
	receipts := make([]*fuses.Receipt, 0, len(actions))
	for i, action := range actions {
		receipt, err := d.run(st, scope, vault, caller, action)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s %s): %w", i, action.Op, action.Fuse.Hex(), err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func (d *Dispatcher) run(st State, scope fuses.Transient, vault, caller common.Address, action Action) (*fuses.Receipt, error) {
	impl, ok := d.bank.Fuse(action.Fuse)
	if !ok {
		return nil, fmt.Errorf("%w: %s", fuses.ErrFuseNotInstalled, action.Fuse.Hex())
	}
	record, ok, err := st.FuseGet(action.Fuse)
	if err != nil {
		return nil, fmt.Errorf("load fuse record: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", fuses.ErrFuseNotInstalled, action.Fuse.Hex())
	}
	if record.Market != impl.Market() {
		return nil, fmt.Errorf("dispatch: fuse %s recorded for market %d but implementation serves market %d", action.Fuse.Hex(), record.Market, impl.Market())
	}
	ctx := &fuses.Context{
		Vault:     vault,
		Caller:    caller,
		State:     st,
		Transient: scope,
	}
	switch action.Op {
	case OpEnter:
		return impl.Enter(ctx, action.Args)
	case OpExit:
		return impl.Exit(ctx, action.Args)
	case OpEnterTransient:
		tf, ok := impl.(fuses.TransientFuse)
		if !ok {
			return nil, fmt.Errorf("dispatch: fuse %s does not support transient entry", action.Fuse.Hex())
		}
		return tf.EnterTransient(ctx)
	case OpExitTransient:
		tf, ok := impl.(fuses.TransientFuse)
		if !ok {
			return nil, fmt.Errorf("dispatch: fuse %s does not support transient exit", action.Fuse.Hex())
		}
		return tf.ExitTransient(ctx)
	default:
		return nil, fmt.Errorf("dispatch: unknown op %d", uint8(action.Op))
	}
}

// RewardOnly reports whether every action in the batch targets a fuse
// whose durable record carries the reward flag. Unknown fuses count as
// non-reward so authorization stays closed.
func RewardOnly(view InstalledView, actions []Action) (bool, error) {
	if view == nil || len(actions) == 0 {
		return false, nil
	}
	for _, action := range actions {
		record, ok, err := view.FuseGet(action.Fuse)
		if err != nil {
			return false, fmt.Errorf("load fuse record: %w", err)
		}
		if !ok || !record.Reward {
			return false, nil
		}
	}
	return true, nil
}

// DigestBatch derives the canonical identifier of a batch. Field order
// and length prefixes are fixed, so the same caller and actions always
// produce the same digest regardless of where the batch was assembled.
func DigestBatch(caller common.Address, actions []Action) common.Hash {
	buf := bytes.NewBuffer(nil)
	buf.Write(caller.Bytes())
	binary.Write(buf, binary.BigEndian, uint32(len(actions)))
	for _, action := range actions {
		buf.Write(action.Fuse.Bytes())
		buf.WriteByte(byte(action.Op))
		writeDelimited(buf, action.Args)
	}
	return common.Hash(blake3.Sum256(buf.Bytes()))
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	length := uint32(0)
	if data != nil {
		length = uint32(len(data))
	}
	binary.Write(buf, binary.BigEndian, length)
	if length > 0 {
		buf.Write(data)
	}
}
