package orchestrator

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	goplugin "plugin"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/microlauncher/internal/checkpoint"
	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/config"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microlauncher/internal/plugin"
	"github.com/GriffinCanCode/microlauncher/internal/report"
	"github.com/GriffinCanCode/microlauncher/internal/sleeptight"
)

// fakeLib is an in-memory library.
type fakeLib map[string]goplugin.Symbol

func (f fakeLib) Lookup(name string) (goplugin.Symbol, error) {
	sym, ok := f[name]
	if !ok {
		return nil, errors.New("symbol " + name + " not found")
	}
	return sym, nil
}

// scaleKernel counts its calls and runs hook, if set, on every call.
func scaleKernel(calls *atomic.Int64, hook func()) plugin.Opener {
	lib := fakeLib{
		"scale": func(size, elemSize int, v []byte) uint64 {
			calls.Add(1)
			if hook != nil {
				hook()
			}
			for i := range v {
				v[i] *= 3
			}
			return uint64(size)
		},
	}
	return func(path string) (plugin.Lookuper, error) {
		if path != "scale.so" {
			return nil, errors.New("no library " + path)
		}
		return lib, nil
	}
}

// goProc is a worker running as a goroutine.
type goProc struct {
	index    int
	control  *sleeptight.Controller
	ready    io.ReadCloser
	release  io.WriteCloser
	done     chan struct{}
	err      error
	onSignal func()
}

func (p *goProc) Pid() int { return 1000 + p.index }

func (p *goProc) Signal(sig os.Signal) error {
	if sig == syscall.SIGTERM {
		p.control.RequestStop()
		p.onSignal()
	}
	return nil
}

func (p *goProc) Wait() error {
	<-p.done
	return p.err
}

// inProcess spawns workers as goroutines connected by io.Pipe. Each worker
// gets its snapshot through the same encoding the real child uses.
type inProcess struct {
	open   plugin.Opener
	failAt int
	// crashAt is the worker that dies with crashErr instead of running.
	crashAt  int
	crashErr error

	mu       sync.Mutex
	procs    []*goProc
	signals  int
	signaled chan struct{}
	killed   bool
}

func newInProcess(open plugin.Opener) *inProcess {
	return &inProcess{open: open, failAt: -1, crashAt: -1, signaled: make(chan struct{})}
}

func (s *inProcess) Spawn(spec *WorkerSpec) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == s.failAt {
		return nil, errors.New("spawn failed")
	}

	var buf bytes.Buffer
	if err := EncodeSpec(&buf, spec); err != nil {
		return nil, err
	}
	decoded, err := DecodeSpec(&buf)
	if err != nil {
		return nil, err
	}

	readyR, readyW := io.Pipe()
	releaseR, releaseW := io.Pipe()
	p := &goProc{
		index:    spec.Index,
		control:  sleeptight.New(nil),
		ready:    readyR,
		release:  releaseW,
		done:     make(chan struct{}),
		onSignal: s.signal,
	}
	if len(s.procs) == s.crashAt {
		go func() {
			defer close(p.done)
			readyW.Close()
			releaseR.Close()
			p.err = s.crashErr
		}()
		s.procs = append(s.procs, p)
		return &Handle{Ready: readyR, Release: releaseW, Process: p}, nil
	}
	go func() {
		defer close(p.done)
		p.err = RunWorker(decoded, readyW, releaseR, WorkerEnv{Open: s.open, Control: p.control, Logger: logging.Nop()})
	}()
	s.procs = append(s.procs, p)
	return &Handle{Ready: readyR, Release: releaseW, Process: p}, nil
}

// signal closes signaled once every worker has been asked to stop.
func (s *inProcess) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals++
	if s.signals == len(s.procs) {
		close(s.signaled)
	}
}

func (s *inProcess) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = true
	for _, p := range s.procs {
		p.ready.Close()
		p.release.Close()
	}
	return nil
}

func (s *inProcess) wasKilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func (s *inProcess) spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func testExperiment(t *testing.T) *experiment.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := experiment.Default()
	cfg.Kernel = experiment.KernelSpec{Path: "scale.so", Function: "scale", Init: "kernelInit"}
	cfg.Alignments = []experiment.Range{{Start: 0, Stop: 2, Step: 1}}
	cfg.VectorSize = experiment.Range{Start: 64, Stop: 128, Step: 64}
	cfg.Repetitions = 3
	cfg.MetaRepetitions = 2
	cfg.Processes = 2
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.CheckpointDir = filepath.Join(dir, "ckpt")
	return cfg
}

func testEnv(t *testing.T) *config.Config {
	t.Helper()
	env := config.Default()
	env.Run.KillFile = filepath.Join(t.TempDir(), "kill")
	env.Run.FlushSize = 4096
	env.Run.ProgressInterval = 0
	return env
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestLauncherRunsFleet(t *testing.T) {
	var calls atomic.Int64
	cfg := testExperiment(t)
	cfg.AllPrintOut = true
	spawner := newInProcess(scaleKernel(&calls, nil))

	l := New(cfg, testEnv(t), spawner, logging.Nop())
	require.NoError(t, l.Run(context.Background()))

	// 6 steps x 2 metas x (1 overhead + 3 measured calls) per worker
	assert.Equal(t, int64(96), calls.Load())

	for i := range 2 {
		rows := readRows(t, report.FileName(cfg, i))
		require.Len(t, rows, 13)
		assert.Equal(t, []string{"clock", "run", "resume", "vector_size", "align_0", "problem"}, rows[0])
		assert.Equal(t, []string{"0", "0", "64", "0"}, rows[1][1:5])
		assert.Equal(t, []string{"5", "0", "128", "2"}, rows[12][1:5])
	}

	rec, err := checkpoint.NewStore(cfg.CheckpointDir).Load()
	require.NoError(t, err)
	assert.True(t, rec.Complete())

	m := l.Metrics()
	assert.Equal(t, 24.0, testutil.ToFloat64(m.RoundsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkerExits.WithLabelValues(monitoring.ExitOK)))
	assert.Equal(t, 24, m.Snapshot().RoundsDone)
}

func TestLauncherLeavesConfigUntouched(t *testing.T) {
	var calls atomic.Int64
	cfg := testExperiment(t)
	cfg.Processes = 1
	cfg.Alignments = []experiment.Range{{Start: 0, Stop: 2}}

	require.NoError(t, New(cfg, testEnv(t), newInProcess(scaleKernel(&calls, nil)), nil).Run(context.Background()))
	assert.Zero(t, cfg.Alignments[0].Step)
	assert.Empty(t, cfg.Evaluators)
}

func TestLauncherResumes(t *testing.T) {
	var calls atomic.Int64
	cfg := testExperiment(t)
	cfg.Processes = 1
	open := scaleKernel(&calls, nil)

	require.NoError(t, New(cfg, testEnv(t), newInProcess(open), nil).Run(context.Background()))

	// Pretend the run was interrupted in the second meta-repetition of run 4.
	store := checkpoint.NewStore(cfg.CheckpointDir)
	require.NoError(t, store.SaveProgress(checkpoint.Progress{Alignments: []int{1}, VectorSize: 128, Runs: 4, Meta: 1}))

	resumed := &experiment.Config{CheckpointDir: cfg.CheckpointDir, Resume: true}
	l := New(resumed, testEnv(t), newInProcess(open), nil)
	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 6.0, testutil.ToFloat64(l.Metrics().RoundsTotal))

	rows := readRows(t, report.FileName(cfg, 0))
	require.Len(t, rows, 16)
	assert.Equal(t, []string{"4", "1", "128", "1"}, rows[13][1:5])
	assert.Equal(t, []string{"5", "1", "128", "2"}, rows[14][1:5])
	assert.Equal(t, []string{"5", "1", "128", "2"}, rows[15][1:5])

	rec, err := store.Load()
	require.NoError(t, err)
	assert.True(t, rec.Complete())
	assert.Equal(t, 1, rec.Progress.ResumeCount)
}

func TestLauncherLogsExperimentStartOnResume(t *testing.T) {
	var calls atomic.Int64
	cfg := testExperiment(t)
	cfg.Processes = 1
	open := scaleKernel(&calls, nil)

	before := time.Now().Add(-time.Second)
	require.NoError(t, New(cfg, testEnv(t), newInProcess(open), nil).Run(context.Background()))
	store := checkpoint.NewStore(cfg.CheckpointDir)
	require.NoError(t, store.SaveProgress(checkpoint.Progress{Alignments: []int{1}, VectorSize: 128, Runs: 4, Meta: 1}))

	core, logs := observer.New(zap.InfoLevel)
	resumed := &experiment.Config{CheckpointDir: cfg.CheckpointDir, Resume: true}
	l := New(resumed, testEnv(t), newInProcess(open), &logging.Logger{Logger: zap.New(core)})
	require.NoError(t, l.Run(context.Background()))

	entries := logs.FilterMessage("Resuming experiment").All()
	require.Len(t, entries, 1)
	started, ok := entries[0].ContextMap()["started"].(time.Time)
	require.True(t, ok)
	assert.True(t, started.After(before))
	assert.True(t, started.Before(time.Now()))
}

func TestLauncherSkipsCompleteExperiment(t *testing.T) {
	var calls atomic.Int64
	cfg := testExperiment(t)
	cfg.Processes = 1
	open := scaleKernel(&calls, nil)
	require.NoError(t, New(cfg, testEnv(t), newInProcess(open), nil).Run(context.Background()))

	spawner := newInProcess(open)
	resumed := &experiment.Config{CheckpointDir: cfg.CheckpointDir, Resume: true}
	require.NoError(t, New(resumed, testEnv(t), spawner, nil).Run(context.Background()))
	assert.Zero(t, spawner.spawned())
}

func TestLauncherResumeWithoutCheckpoint(t *testing.T) {
	spawner := newInProcess(nil)
	resumed := &experiment.Config{CheckpointDir: t.TempDir(), Resume: true}

	err := New(resumed, testEnv(t), spawner, nil).Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, spawner.spawned())
}

func TestLauncherRejectsInvalidConfig(t *testing.T) {
	cfg := testExperiment(t)
	cfg.Processes = 0
	spawner := newInProcess(nil)

	err := New(cfg, testEnv(t), spawner, nil).Run(context.Background())
	assert.ErrorIs(t, err, experiment.ErrInvalidConfig)
	assert.Zero(t, spawner.spawned())
}

func TestLauncherStopsAfterStep(t *testing.T) {
	var calls atomic.Int64
	var once sync.Once
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testExperiment(t)
	spawner := newInProcess(nil)
	// The first kernel call cancels the run and holds until every worker
	// has been told to stop.
	spawner.open = scaleKernel(&calls, func() {
		once.Do(func() {
			cancel()
			<-spawner.signaled
		})
	})

	l := New(cfg, testEnv(t), spawner, nil)
	require.NoError(t, l.Run(ctx))

	rows := readRows(t, report.FileName(cfg, 0))
	assert.Len(t, rows, 3)

	rec, err := checkpoint.NewStore(cfg.CheckpointDir).Load()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Progress.Runs)
	assert.False(t, rec.Complete())
}

func TestLauncherSpawnFailure(t *testing.T) {
	var calls atomic.Int64
	cfg := testExperiment(t)
	cfg.Processes = 3
	spawner := newInProcess(scaleKernel(&calls, nil))
	spawner.failAt = 2

	err := New(cfg, testEnv(t), spawner, nil).Run(context.Background())
	assert.EqualError(t, err, "spawn failed")
	assert.True(t, spawner.wasKilled())
}

func TestLauncherKillsFleetOnCrash(t *testing.T) {
	crash := exec.Command("sh", "-c", "kill -ABRT $$").Run()
	sig, ok := crashSignal(crash)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGABRT, sig)

	var calls atomic.Int64
	var code atomic.Int32
	cfg := testExperiment(t)
	spawner := newInProcess(scaleKernel(&calls, nil))
	spawner.crashAt = 1
	spawner.crashErr = crash

	l := New(cfg, testEnv(t), spawner, nil).WithExit(func(c int) { code.Store(int32(c)) })
	assert.Error(t, l.Run(context.Background()))
	assert.True(t, spawner.wasKilled())
	assert.Equal(t, int32(1), code.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(l.Metrics().FatalSignals))
}

func TestCrashSignal(t *testing.T) {
	_, ok := crashSignal(nil)
	assert.False(t, ok)
	_, ok = crashSignal(exec.Command("sh", "-c", "exit 3").Run())
	assert.False(t, ok)
	_, ok = crashSignal(exec.Command("sh", "-c", "kill -KILL $$").Run())
	assert.False(t, ok, "killed by the orchestrator, not crashed")
}

func TestLauncherKillsFleetOnFatal(t *testing.T) {
	var calls atomic.Int64
	var once sync.Once
	var code atomic.Int32
	exited := make(chan struct{})

	cfg := testExperiment(t)
	spawner := newInProcess(nil)
	// The first kernel call reports a fatal failure and holds until the
	// launcher has reacted to it.
	spawner.open = scaleKernel(&calls, func() {
		once.Do(func() {
			require.NoError(t, syscall.Kill(os.Getpid(), sleeptight.FatalSignal))
			<-exited
		})
	})

	var exitOnce sync.Once
	l := New(cfg, testEnv(t), spawner, nil).WithExit(func(c int) {
		code.Store(int32(c))
		exitOnce.Do(func() { close(exited) })
	})

	assert.Error(t, l.Run(context.Background()))
	assert.True(t, spawner.wasKilled())
	assert.Equal(t, int32(1), code.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(l.Metrics().FatalSignals))
}

func TestLauncherReportsPluginFailure(t *testing.T) {
	cfg := testExperiment(t)
	cfg.Kernel.Function = "missing"
	var calls atomic.Int64
	l := New(cfg, testEnv(t), newInProcess(scaleKernel(&calls, nil)), nil)

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, ErrWorkerFailed)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 2.0, testutil.ToFloat64(l.Metrics().WorkerExits.WithLabelValues(monitoring.ExitFailed)))
}

func TestWorkerPluginError(t *testing.T) {
	cfg := testExperiment(t)
	cfg.Kernel.Path = "absent.so"
	require.NoError(t, cfg.Validate())

	readyR, readyW := io.Pipe()
	releaseR, releaseW := io.Pipe()
	defer readyR.Close()
	defer releaseW.Close()

	spec := &WorkerSpec{Index: 0, Printer: true, Experiment: *cfg, Env: *testEnv(t)}
	var calls atomic.Int64
	err := RunWorker(spec, readyW, releaseR, WorkerEnv{Open: scaleKernel(&calls, nil)})
	assert.ErrorIs(t, err, ErrPlugin)
	assert.NoFileExists(t, report.FileName(cfg, 0))
}

func TestExpandEvaluators(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"tsc.so", "pmu.so", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	cfg := &experiment.Config{Evaluators: []experiment.EvaluatorSpec{
		{Path: plugin.BuiltinClock, Display: experiment.DisplayRaw},
		{Path: filepath.Join(dir, "*.so"), Display: experiment.DisplayPerCall},
	}}

	require.NoError(t, expandEvaluators(cfg))
	assert.Equal(t, []experiment.EvaluatorSpec{
		{Path: plugin.BuiltinClock, Display: experiment.DisplayRaw},
		{Path: filepath.Join(dir, "pmu.so"), Display: experiment.DisplayPerCall},
		{Path: filepath.Join(dir, "tsc.so"), Display: experiment.DisplayPerCall},
	}, cfg.Evaluators)

	cfg.Evaluators = []experiment.EvaluatorSpec{{Path: filepath.Join(dir, "*.dylib")}}
	assert.ErrorIs(t, expandEvaluators(cfg), experiment.ErrInvalidConfig)
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, monitoring.ExitOK, exitStatus(nil))
	assert.Equal(t, monitoring.ExitFailed, exitStatus(errors.New("boom")))

	err := exec.Command("sh", "-c", "exit 3").Run()
	assert.Equal(t, monitoring.ExitFailed, exitStatus(err))

	cmd := exec.Command("sleep", "10")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Process.Kill())
	assert.Equal(t, monitoring.ExitSignaled, exitStatus(cmd.Wait()))
}

func TestProgressReporterThrottles(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := monitoring.NewMetrics()
	p := newProgressReporter(3, time.Hour, metrics, &logging.Logger{Logger: zap.New(core)})
	p.now = func() time.Time { return p.start.Add(90 * time.Second) }

	p.Round(1)
	p.Round(2)
	p.Round(3)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "[1/3 1m30s]", entries[0].Message)
	assert.Equal(t, "[3/3 1m30s]", entries[1].Message)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.RoundsTotal))
}

func TestSnapshotKeepsResumePosition(t *testing.T) {
	spec := &WorkerSpec{
		Index:        1,
		Printer:      true,
		ExperimentID: "exp_01J",
		Experiment:   *testExperiment(t),
		Resume:       &checkpoint.Progress{Alignments: []int{2}, VectorSize: 128, Runs: 5, Meta: 1, ResumeCount: 2},
		ResumeCount:  3,
		Env:          *config.Default(),
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeSpec(&buf, spec))

	got, err := DecodeSpec(&buf)
	require.NoError(t, err)
	assert.Equal(t, spec, got)

	_, err = DecodeSpec(bytes.NewBufferString("{"))
	assert.Error(t, err)
}

// TestHelperWorker is the body of the worker processes started by
// TestExecSpawnerRunsFleet.
func TestHelperWorker(t *testing.T) {
	if os.Getenv("MICROLAUNCHER_HELPER_WORKER") != "1" {
		t.Skip("runs only as a spawned worker")
	}
	os.Exit(RunChild(nil))
}

func TestExecSpawnerRunsFleet(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	t.Setenv("MICROLAUNCHER_HELPER_WORKER", "1")

	cfg := experiment.Default()
	cfg.Kernel = experiment.KernelSpec{}
	cfg.Executable = "true"
	cfg.Repetitions = 2
	cfg.MetaRepetitions = 2
	cfg.Processes = 2
	cfg.OutputDir = t.TempDir()

	spawner := NewCommandSpawner(os.Args[0], "-test.run=^TestHelperWorker$")
	l := New(cfg, testEnv(t), spawner, nil)
	require.NoError(t, l.Run(context.Background()))

	rows := readRows(t, report.FileName(cfg, 0))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"0", "0", "1", "0"}, rows[1][1:5])
	assert.Equal(t, 2.0, testutil.ToFloat64(l.Metrics().WorkerExits.WithLabelValues(monitoring.ExitOK)))
}
