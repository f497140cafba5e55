package dispatch

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/native/fuses"
)

type transientKey struct {
	caller common.Address
	fuse   common.Address
}

// TransientContext is the scratch space shared by the fuses of one batch.
// Words are keyed by (caller, fuse) so concurrent batches from different
// callers never observe each other. The dispatcher allocates a fresh
// arena per batch and drops it when the batch settles, which is what
// keeps staged words from leaking across batches.
type TransientContext struct {
	mu      sync.Mutex
	inputs  map[transientKey][]fuses.Word
	outputs map[transientKey][]fuses.Word
}

func NewTransientContext() *TransientContext {
	return &TransientContext{
		inputs:  make(map[transientKey][]fuses.Word),
		outputs: make(map[transientKey][]fuses.Word),
	}
}

func (t *TransientContext) setInputs(caller, fuse common.Address, words []fuses.Word) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputs[transientKey{caller, fuse}] = cloneWords(words)
}

func (t *TransientContext) inputsFor(caller, fuse common.Address) []fuses.Word {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneWords(t.inputs[transientKey{caller, fuse}])
}

func (t *TransientContext) takeInputs(caller, fuse common.Address) []fuses.Word {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := transientKey{caller, fuse}
	words := t.inputs[key]
	delete(t.inputs, key)
	return words
}

func (t *TransientContext) setOutputs(caller, fuse common.Address, words []fuses.Word) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputs[transientKey{caller, fuse}] = cloneWords(words)
}

func (t *TransientContext) outputsFor(caller, fuse common.Address) []fuses.Word {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneWords(t.outputs[transientKey{caller, fuse}])
}

// Scope binds the arena to one caller. Fuses receive the scoped view so
// they can only stage words under their own caller's key.
func (t *TransientContext) Scope(caller common.Address) fuses.Transient {
	return &callerScoped{arena: t, caller: caller}
}

type callerScoped struct {
	arena  *TransientContext
	caller common.Address
}

func (c *callerScoped) SetInputs(fuse common.Address, words []fuses.Word) {
	c.arena.setInputs(c.caller, fuse, words)
}

func (c *callerScoped) Inputs(fuse common.Address) []fuses.Word {
	return c.arena.inputsFor(c.caller, fuse)
}

func (c *callerScoped) Input(fuse common.Address, index int) (fuses.Word, error) {
	words := c.arena.inputsFor(c.caller, fuse)
	if len(words) == 0 {
		return fuses.Word{}, fuses.ErrNoTransientInputs
	}
	if index < 0 || index >= len(words) {
		return fuses.Word{}, fmt.Errorf("dispatch: transient input %d out of range (%d staged)", index, len(words))
	}
	return words[index], nil
}

func (c *callerScoped) TakeInputs(fuse common.Address) []fuses.Word {
	return c.arena.takeInputs(c.caller, fuse)
}

func (c *callerScoped) SetOutputs(fuse common.Address, words []fuses.Word) {
	c.arena.setOutputs(c.caller, fuse, words)
}

func (c *callerScoped) Outputs(fuse common.Address) []fuses.Word {
	return c.arena.outputsFor(c.caller, fuse)
}

func cloneWords(words []fuses.Word) []fuses.Word {
	if len(words) == 0 {
		return nil
	}
	out := make([]fuses.Word, len(words))
	copy(out, words)
	return out
}
