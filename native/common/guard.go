package common

import "errors"

// ErrModulePaused is returned by Guard when the named module is halted.
var ErrModulePaused = errors.New("module paused")

// PauseView answers whether a module is currently halted. A nil view means
// nothing is paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when the module is halted.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a fixed pause set sourced from configuration.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool {
	return s[module]
}
