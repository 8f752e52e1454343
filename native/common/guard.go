package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module flow has been halted by the
// operator.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseSet is a static PauseView built from configuration.
type PauseSet map[string]bool

// IsPaused implements PauseView.
func (s PauseSet) IsPaused(module string) bool { return s[module] }

// Guard rejects the call when the module is paused. A nil view or empty module
// name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
