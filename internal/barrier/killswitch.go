package barrier

import (
	"os"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
)

// DefaultKillFile is the sentinel checked when no other path is configured.
const DefaultKillFile = "/tmp/microlauncher.kill"

// KillSwitch terminates the process when its sentinel file exists. A nil
// KillSwitch never fires.
type KillSwitch struct {
	path   string
	logger *logging.Logger
	exit   func(code int)
}

// NewKillSwitch watches path, or DefaultKillFile when path is empty.
func NewKillSwitch(path string, logger *logging.Logger) *KillSwitch {
	if path == "" {
		path = DefaultKillFile
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &KillSwitch{path: path, logger: logger, exit: os.Exit}
}

// WithExit replaces the exit function. Tests use it to observe a trip
// without leaving the process.
func (k *KillSwitch) WithExit(exit func(code int)) *KillSwitch {
	k.exit = exit
	return k
}

// Path returns the sentinel file.
func (k *KillSwitch) Path() string {
	if k == nil {
		return ""
	}
	return k.path
}

// Tripped reports whether the sentinel file exists.
func (k *KillSwitch) Tripped() bool {
	if k == nil {
		return false
	}
	_, err := os.Stat(k.path)
	return err == nil
}

// Check exits with status 1 if the switch is tripped.
func (k *KillSwitch) Check() {
	if !k.Tripped() {
		return
	}
	k.logger.Error("Kill file present, terminating", zap.String("path", k.path))
	_ = k.logger.Sync()
	k.exit(1)
}
