package measure

import (
	"runtime"
	"runtime/debug"
)

// Window brackets the measured kernel calls.
type Window interface {
	Begin()
	End()
}

// NewWindow returns the uninterruptible window when privileged is set and a
// no-op window otherwise.
func NewWindow(privileged bool) Window {
	if privileged {
		return &privilegedWindow{}
	}
	return noWindow{}
}

type noWindow struct{}

func (noWindow) Begin() {}
func (noWindow) End()   {}

// privilegedWindow pins the goroutine to its thread and suspends the garbage
// collector while the window is open.
type privilegedWindow struct {
	gcPercent int
}

func (w *privilegedWindow) Begin() {
	runtime.LockOSThread()
	w.gcPercent = debug.SetGCPercent(-1)
}

func (w *privilegedWindow) End() {
	debug.SetGCPercent(w.gcPercent)
	runtime.UnlockOSThread()
}
