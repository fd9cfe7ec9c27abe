package sleeptight

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
)

// FatalSignal is sent by a dying worker to its parent.
const FatalSignal = syscall.Signal(40)

// CrashSignals are the runtime signals that kill a worker abnormally. A
// worker killed by one of them is handled as if it had sent FatalSignal.
var CrashSignals = []syscall.Signal{
	syscall.SIGABRT, syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGFPE, syscall.SIGILL,
}

// IsCrash reports whether sig is one of CrashSignals.
func IsCrash(sig syscall.Signal) bool {
	return slices.Contains(CrashSignals, sig)
}

// NotifyParent sends FatalSignal to the parent process.
func NotifyParent() error {
	return unix.Kill(os.Getppid(), FatalSignal)
}

// KillGroup sends SIGKILL to every process in group pgid.
func KillGroup(pgid int) error {
	if pgid <= 0 {
		return fmt.Errorf("invalid process group %d", pgid)
	}
	return unix.Kill(-pgid, unix.SIGKILL)
}

// Guard converts a worker panic into the fatal protocol.
type Guard struct {
	logger *logging.Logger
	notify func() error
	exit   func(code int)
}

// NewGuard returns a guard that notifies the real parent and exits.
func NewGuard(logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Guard{logger: logger, notify: NotifyParent, exit: os.Exit}
}

// WithHooks replaces the parent notification and exit, for tests.
func (g *Guard) WithHooks(notify func() error, exit func(code int)) *Guard {
	g.notify = notify
	g.exit = exit
	return g
}

// Recover must be deferred directly. A panic is logged, the parent is
// notified with FatalSignal and the process exits with status 1.
func (g *Guard) Recover() {
	r := recover()
	if r == nil {
		return
	}
	g.Fail(fmt.Errorf("panic: %v", r), zap.ByteString("stack", debug.Stack()))
}

// Fail runs the fatal protocol for err.
func (g *Guard) Fail(err error, fields ...zap.Field) {
	g.logger.Error("Worker failed", append(fields, zap.Error(err))...)
	if nerr := g.notify(); nerr != nil {
		g.logger.Error("Failed to notify parent", zap.Error(nerr))
	}
	_ = g.logger.Sync()
	g.exit(1)
}

// WatchAbort runs the fatal protocol when SIGABRT reaches the process, until
// the returned stop function is called. An abort raised from C code may still
// kill the process first; the parent then sees the crash in the exit status.
func (g *Guard) WatchAbort() (stop func()) {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, syscall.SIGABRT)
	go func() {
		select {
		case sig := <-sigs:
			g.Fail(fmt.Errorf("received %v", sig))
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// WatchFatal calls onFatal each time FatalSignal arrives, until the returned
// stop function is called.
func WatchFatal(onFatal func()) (stop func()) {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, FatalSignal)
	go func() {
		for {
			select {
			case <-sigs:
				onFatal()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
