package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/microlauncher/internal/barrier"
	"github.com/GriffinCanCode/microlauncher/internal/checkpoint"
	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microlauncher/internal/measure"
	"github.com/GriffinCanCode/microlauncher/internal/plugin"
	"github.com/GriffinCanCode/microlauncher/internal/report"
	"github.com/GriffinCanCode/microlauncher/internal/sleeptight"
)

// ErrPlugin wraps every plugin resolution failure. A worker that fails this
// way exits non-zero without the fatal notification.
var ErrPlugin = errors.New("plugin resolution failed")

// WorkerEnv holds what a worker takes from its process rather than from its
// snapshot.
type WorkerEnv struct {
	// Open loads plugin libraries; nil means plugin.Open.
	Open plugin.Opener
	// Control receives sleep, wake and stop requests; nil never pauses.
	Control *sleeptight.Controller
	Logger  *logging.Logger
	// Exit replaces os.Exit for the kill switch.
	Exit func(code int)
}

// RunWorker walks the experiment space of spec, measuring every step in
// lockstep with the other workers through ready and release. Both channels
// are closed on return.
func RunWorker(spec *WorkerSpec, ready io.WriteCloser, release io.ReadCloser, env WorkerEnv) error {
	cfg := &spec.Experiment
	logger := env.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.ForWorker(spec.Index, spec.Printer)

	kill := barrier.NewKillSwitch(spec.Env.Run.KillFile, logger)
	if env.Exit != nil {
		kill.WithExit(env.Exit)
	}
	bar := barrier.NewWorker(ready, release, kill)
	defer bar.Close()

	if cfg.CPU >= 0 {
		if err := pin(cfg.CPU + spec.Index); err != nil {
			return err
		}
		defer runtime.UnlockOSThread()
	}

	set, err := plugin.Load(cfg, env.Open, logger)
	if err != nil {
		if spec.Printer {
			logger.Error("Failed to resolve plugins", zap.Error(err))
		}
		return fmt.Errorf("%w: %w", ErrPlugin, err)
	}
	defer set.Close()

	var pause measure.Pauser
	if env.Control != nil {
		pause = env.Control
	}
	engine := measure.New(measure.OptionsFrom(cfg, spec.Env.Run.FlushSize), set, bar, pause, logger)

	var writer *report.Writer
	if spec.Printer {
		header := report.Header{Evaluators: make([]string, len(set.Evaluators)), Vectors: cfg.Vectors}
		for i, ev := range set.Evaluators {
			header.Evaluators[i] = ev.Name()
		}
		if writer, err = report.Create(report.FileName(cfg, spec.Index), cfg.Compression, header); err != nil {
			return err
		}
		defer writer.Close()
	}

	var store *checkpoint.Store
	if spec.Checkpointer && cfg.CheckpointDir != "" {
		store = checkpoint.NewStore(cfg.CheckpointDir)
	}

	metrics := monitoring.NewMetrics()
	metrics.SetExperiment(spec.ExperimentID.String())

	space := experiment.NewSpace(cfg)
	var resume *experiment.ResumeState
	if spec.Resume != nil {
		resume = experiment.NewResumeState(spec.Resume.State(space))
		logger.Info("Resuming experiment",
			zap.Stringer("experiment", spec.ExperimentID),
			zap.Int("run", spec.Resume.Runs),
			zap.Int("meta", spec.Resume.Meta),
			zap.Int("resume_count", spec.ResumeCount))
	}

	err = space.Walk(resume, func(st experiment.State) error {
		timer := monitoring.NewTimer(metrics)
		step, err := engine.Run(st)
		if err != nil {
			return fmt.Errorf("run %d: %w", st.Runs, err)
		}
		timer.Stop(step.Retries(), step.Problems())

		if writer != nil && !st.Verify {
			if err := writer.WriteStep(step, spec.ResumeCount); err != nil {
				return err
			}
		}
		if store != nil {
			next := st.Clone()
			space.Next(&next)
			if err := store.SaveProgress(checkpoint.ProgressAt(next, spec.ResumeCount)); err != nil {
				return err
			}
		}
		if env.Control != nil && env.Control.Stopping() {
			logger.Info("Stopping after step", zap.Int("run", st.Runs))
			return experiment.ErrStop
		}
		return nil
	})
	if err != nil {
		return err
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			return err
		}
	}
	if spec.Checkpointer && spec.Env.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(spec.Env.Metrics.Textfile); err != nil {
			logger.Warn("Failed to write metrics", zap.Error(err))
		}
	}
	return set.Close()
}

// pin binds the calling thread to cpu and keeps the goroutine on it.
func pin(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("failed to pin worker to cpu %d: %w", cpu, err)
	}
	return nil
}
