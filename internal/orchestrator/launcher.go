package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/microlauncher/internal/barrier"
	"github.com/GriffinCanCode/microlauncher/internal/checkpoint"
	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/config"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/server"
	"github.com/GriffinCanCode/microlauncher/internal/plugin"
	"github.com/GriffinCanCode/microlauncher/internal/shared/id"
	"github.com/GriffinCanCode/microlauncher/internal/sleeptight"
)

var (
	// ErrWorkerFailed means at least one worker exited abnormally.
	ErrWorkerFailed = errors.New("worker failed")
	// ErrIncomplete means every worker left before the last barrier round
	// without being asked to stop.
	ErrIncomplete = errors.New("workers exited before the experiment finished")
)

// Launcher runs one experiment across a fleet of worker processes.
type Launcher struct {
	cfg     *experiment.Config
	env     *config.Config
	spawner Spawner
	logger  *logging.Logger
	metrics *monitoring.Metrics
	kill    *barrier.KillSwitch
	exit    func(code int)

	stopping atomic.Bool
}

// New creates a launcher for cfg. The configuration is copied; cfg itself is
// never modified.
func New(cfg *experiment.Config, env *config.Config, spawner Spawner, logger *logging.Logger) *Launcher {
	if env == nil {
		env = config.Default()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Launcher{
		cfg:     cloneConfig(cfg),
		env:     env,
		spawner: spawner,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
		kill:    barrier.NewKillSwitch(env.Run.KillFile, logger),
		exit:    os.Exit,
	}
}

// WithExit replaces os.Exit for the kill switch and the fatal path.
func (l *Launcher) WithExit(exit func(code int)) *Launcher {
	l.exit = exit
	l.kill.WithExit(exit)
	return l
}

// Metrics returns the launcher's metrics.
func (l *Launcher) Metrics() *monitoring.Metrics {
	return l.metrics
}

// plan is a validated run: the configuration every worker receives and where
// the walk starts.
type plan struct {
	id          id.ExperimentID
	cfg         *experiment.Config
	resume      *checkpoint.Progress
	resumeCount int
	rounds      int
}

// Run validates the experiment, spawns the workers, drives the barrier and
// waits for every worker. Cancelling ctx asks the workers to stop after
// their current step, the same as SIGTERM.
func (l *Launcher) Run(ctx context.Context) error {
	p, err := l.prepare()
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	l.metrics.SetExperiment(p.id.String())
	l.metrics.PlanRounds(p.rounds)

	if l.env.Metrics.Addr != "" {
		srv := server.New(l.env.Metrics.Addr, l.metrics, l.logger, l.env.Logging.Development)
		if _, err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Close(shutdownCtx); err != nil {
				l.logger.Warn("Failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	l.kill.Check()

	stopFatal := sleeptight.WatchFatal(l.onFatal)
	defer stopFatal()

	coord := barrier.NewCoordinator(l.kill, l.logger)
	defer coord.Close()
	procs, err := l.spawn(p, coord)
	if err != nil {
		return err
	}
	l.metrics.SetWorkersLive(len(procs))
	l.logger.Info("Workers started",
		zap.Stringer("experiment", p.id),
		zap.Int("workers", len(procs)),
		zap.Int("rounds", p.rounds))

	stopForward := l.forwardStop(ctx, procs)
	defer stopForward()

	l.kill.Check()

	progress := newProgressReporter(p.rounds, l.env.Run.ProgressInterval, l.metrics, l.logger)
	var failed atomic.Int32
	var g errgroup.Group
	g.Go(func() error {
		err := coord.Run(context.WithoutCancel(ctx), p.rounds, func(done int) {
			progress.Round(done)
			l.metrics.SetWorkersLive(coord.Live())
		})
		if errors.Is(err, barrier.ErrNoWorkers) {
			if l.stopping.Load() {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrIncomplete, err)
		}
		return err
	})
	for i, proc := range procs {
		g.Go(func() error {
			if l.wait(i, proc) != monitoring.ExitOK {
				failed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	if n := failed.Load(); n > 0 {
		return errors.Join(fmt.Errorf("%w: %d of %d workers", ErrWorkerFailed, n, len(procs)), err)
	}
	if err != nil {
		return err
	}
	l.logger.Info("Experiment finished", zap.Stringer("experiment", p.id), zap.Bool("stopped", l.stopping.Load()))
	return nil
}

// prepare validates the configuration or restores it from the checkpoint.
// It returns nil when a resumed experiment has nothing left to run.
func (l *Launcher) prepare() (*plan, error) {
	if l.cfg.Resume {
		return l.prepareResume()
	}

	cfg := cloneConfig(l.cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := expandEvaluators(cfg); err != nil {
		return nil, err
	}
	p := &plan{id: id.NewExperimentID(), cfg: cfg}
	if cfg.CheckpointDir != "" {
		if err := checkpoint.NewStore(cfg.CheckpointDir).SaveConfig(p.id, cfg); err != nil {
			return nil, err
		}
	}
	space := experiment.NewSpace(cfg)
	p.rounds = space.BarrierRounds(cfg.MetaRepetitions, space.First())
	return p, nil
}

func (l *Launcher) prepareResume() (*plan, error) {
	rec, err := checkpoint.NewStore(l.cfg.CheckpointDir).Load()
	if err != nil {
		return nil, err
	}
	if rec.Complete() {
		l.logger.Info("Experiment already complete", zap.Stringer("experiment", rec.ID))
		return nil, nil
	}

	cfg := cloneConfig(&rec.Config)
	cfg.CheckpointDir = l.cfg.CheckpointDir
	cfg.Resume = true
	progress := rec.Progress
	p := &plan{
		id:          rec.ID,
		cfg:         cfg,
		resume:      &progress,
		resumeCount: progress.ResumeCount + 1,
	}
	space := experiment.NewSpace(cfg)
	p.rounds = space.BarrierRounds(cfg.MetaRepetitions, progress.State(space))
	fields := []zap.Field{
		zap.Stringer("experiment", rec.ID),
		zap.Int("run", progress.Runs),
		zap.Int("meta", progress.Meta),
		zap.Int("resume_count", p.resumeCount),
	}
	if started, err := rec.ID.Started(); err == nil {
		fields = append(fields, zap.Time("started", started))
	} else {
		l.logger.Warn("Checkpoint carries a foreign experiment id", zap.Error(err))
	}
	l.logger.Info("Resuming experiment", fields...)
	return p, nil
}

// spawn starts every worker and registers its channels with coord. If a
// spawn fails the workers already running are killed.
func (l *Launcher) spawn(p *plan, coord *barrier.Coordinator) ([]Process, error) {
	procs := make([]Process, 0, p.cfg.Processes)
	for i := range p.cfg.Processes {
		spec := &WorkerSpec{
			Index:        i,
			Printer:      i == 0 || p.cfg.AllPrintOut,
			Checkpointer: i == 0,
			ExperimentID: p.id,
			Experiment:   *cloneConfig(p.cfg),
			Resume:       p.resume,
			ResumeCount:  p.resumeCount,
			Env:          *l.env,
		}
		h, err := l.spawner.Spawn(spec)
		if err != nil {
			if kerr := l.spawner.Kill(); kerr != nil {
				l.logger.Warn("Failed to kill workers", zap.Error(kerr))
			}
			for _, proc := range procs {
				_ = proc.Wait()
			}
			return nil, err
		}
		coord.Add(i, h.Ready, h.Release)
		procs = append(procs, h.Process)
	}
	return procs, nil
}

// forwardStop sends SIGTERM to every worker once the orchestrator itself is
// asked to stop, by a signal or by ctx.
func (l *Launcher) forwardStop(ctx context.Context, procs []Process) (stop func()) {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, syscall.SIGTERM, os.Interrupt)
	go func() {
		select {
		case sig := <-sigs:
			l.logger.Info("Stop requested", zap.Stringer("signal", sig))
		case <-ctx.Done():
			l.logger.Info("Stop requested", zap.Error(ctx.Err()))
		case <-done:
			return
		}
		l.stopping.Store(true)
		for i, proc := range procs {
			if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
				l.logger.Warn("Failed to signal worker", zap.Int("worker", i), zap.Error(err))
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// onFatal runs when a worker reports a fatal failure: the whole fleet is
// killed and the orchestrator exits.
func (l *Launcher) onFatal() {
	l.metrics.IncFatalSignals()
	l.logger.Error("Worker reported a fatal failure, killing all workers")
	if err := l.spawner.Kill(); err != nil {
		l.logger.Error("Failed to kill workers", zap.Error(err))
	}
	_ = l.logger.Sync()
	l.exit(1)
}

// wait reaps worker i and classifies its exit. A worker killed by a crash
// signal takes the fatal path, since it may have died before notifying.
func (l *Launcher) wait(i int, proc Process) string {
	err := proc.Wait()
	status := exitStatus(err)
	l.metrics.RecordWorkerExit(status)
	if sig, ok := crashSignal(err); ok {
		l.logger.Error("Worker crashed", zap.Int("worker", i), zap.Stringer("signal", sig))
		l.onFatal()
		return status
	}
	if status == monitoring.ExitOK {
		l.logger.Debug("Worker exited", zap.Int("worker", i), zap.Int("pid", proc.Pid()))
	} else {
		l.logger.Warn("Worker exited abnormally",
			zap.Int("worker", i),
			zap.Int("pid", proc.Pid()),
			zap.String("status", status),
			zap.Error(err))
	}
	return status
}

func exitStatus(err error) string {
	if err == nil {
		return monitoring.ExitOK
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return monitoring.ExitSignaled
		}
	}
	return monitoring.ExitFailed
}

// crashSignal returns the signal that killed a worker, if it is a crash.
func crashSignal(err error) (syscall.Signal, bool) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() || !sleeptight.IsCrash(ws.Signal()) {
		return 0, false
	}
	return ws.Signal(), true
}

// expandEvaluators replaces glob patterns among the evaluator paths by the
// libraries they match. Each match keeps the display mode of its pattern.
func expandEvaluators(cfg *experiment.Config) error {
	var out []experiment.EvaluatorSpec
	for _, ev := range cfg.Evaluators {
		paths, err := plugin.ExpandPaths([]string{ev.Path})
		if err != nil {
			return fmt.Errorf("%w: evaluator: %w", experiment.ErrInvalidConfig, err)
		}
		for _, path := range paths {
			out = append(out, experiment.EvaluatorSpec{Path: path, Display: ev.Display})
		}
	}
	cfg.Evaluators = out
	return nil
}

func cloneConfig(cfg *experiment.Config) *experiment.Config {
	c := *cfg
	c.Args = slices.Clone(cfg.Args)
	c.Alignments = slices.Clone(cfg.Alignments)
	c.Evaluators = slices.Clone(cfg.Evaluators)
	return &c
}
