package orchestrator

import (
	"errors"
	"fmt"
	"os"

	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microlauncher/internal/plugin"
	"github.com/GriffinCanCode/microlauncher/internal/sleeptight"
)

// RunChild is the body of a re-executed worker process. It reads the
// snapshot from the inherited files, listens for control signals and runs
// the worker. A panic or SIGABRT notifies the orchestrator with the fatal
// signal, and so does any failure other than plugin resolution. The result is the exit code.
func RunChild(open plugin.Opener) int {
	ready, release, snapshot, err := InheritedFiles()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	spec, err := DecodeSpec(snapshot)
	snapshot.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = sleeptight.NotifyParent()
		return 1
	}

	logger, err := logging.New(logging.Config{
		Level:       spec.Env.Logging.Level,
		Development: spec.Env.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	guard := sleeptight.NewGuard(logger.ForWorker(spec.Index, spec.Printer))
	defer guard.Recover()
	stopAbort := guard.WatchAbort()
	defer stopAbort()

	control := sleeptight.New(logger)
	control.Listen()
	defer control.Close()

	err = RunWorker(spec, ready, release, WorkerEnv{Open: open, Control: control, Logger: logger})
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrPlugin):
		return 1
	default:
		guard.Fail(err)
		return 1
	}
}
