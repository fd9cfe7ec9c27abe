package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/microlauncher/internal/barrier"
	"github.com/GriffinCanCode/microlauncher/internal/sleeptight"
)

// File descriptors a re-executed worker inherits.
const (
	ReadyFD    = 3
	ReleaseFD  = 4
	SnapshotFD = 5
)

// WorkerCommand is the hidden subcommand a re-executed worker runs.
const WorkerCommand = "worker"

// ErrNotWorker means the worker entry point was started by hand instead of
// by the orchestrator.
var ErrNotWorker = errors.New("not started by the orchestrator")

// Process is a running worker.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	// Wait blocks until the worker has exited and returns its failure, if any.
	Wait() error
}

// Handle is the orchestrator's side of a spawned worker.
type Handle struct {
	Ready   io.ReadCloser
	Release io.WriteCloser
	Process Process
}

// Spawner starts workers.
type Spawner interface {
	Spawn(spec *WorkerSpec) (*Handle, error)
	// Kill ends every worker spawned so far without waiting for it.
	Kill() error
}

// ExecSpawner starts each worker by re-executing a binary with the worker
// subcommand. All workers share one process group led by the first.
type ExecSpawner struct {
	path   string
	args   []string
	stdout io.Writer
	stderr io.Writer

	mu   sync.Mutex
	pgid int
}

// NewExecSpawner spawns workers from the running executable.
func NewExecSpawner() (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return NewCommandSpawner(path, WorkerCommand), nil
}

// NewCommandSpawner spawns workers by running path with args. The command
// must end up in RunWorker with the inherited files.
func NewCommandSpawner(path string, args ...string) *ExecSpawner {
	return &ExecSpawner{
		path:   path,
		args:   args,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Spawn starts one worker and hands it spec on SnapshotFD.
func (s *ExecSpawner) Spawn(spec *WorkerSpec) (*Handle, error) {
	pipes, err := barrier.NewPipes()
	if err != nil {
		return nil, err
	}
	snapR, snapW, err := os.Pipe()
	if err != nil {
		pipes.CloseAll()
		return nil, fmt.Errorf("failed to create snapshot pipe: %w", err)
	}

	s.mu.Lock()
	cmd := exec.Command(s.path, s.args...)
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	cmd.ExtraFiles = []*os.File{pipes.ReadyW, pipes.ReleaseR, snapR}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: s.pgid}
	err = cmd.Start()
	if err == nil && s.pgid == 0 {
		s.pgid = cmd.Process.Pid
	}
	s.mu.Unlock()

	snapR.Close()
	if err != nil {
		pipes.CloseAll()
		snapW.Close()
		return nil, fmt.Errorf("failed to start worker %d: %w", spec.Index, err)
	}
	pipes.CloseWorkerEnds()

	err = EncodeSpec(snapW, spec)
	if cerr := snapW.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		pipes.CloseAll()
		return nil, fmt.Errorf("worker %d: %w", spec.Index, err)
	}

	return &Handle{
		Ready:   pipes.ReadyR,
		Release: pipes.ReleaseW,
		Process: &execProcess{cmd: cmd},
	}, nil
}

// Kill sends SIGKILL to the worker process group.
func (s *ExecSpawner) Kill() error {
	s.mu.Lock()
	pgid := s.pgid
	s.mu.Unlock()
	if pgid == 0 {
		return nil
	}
	return sleeptight.KillGroup(pgid)
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Wait() error                { return p.cmd.Wait() }

// InheritedFiles returns the channel and snapshot files of a re-executed
// worker.
func InheritedFiles() (ready, release, snapshot *os.File, err error) {
	for _, fd := range []int{ReadyFD, ReleaseFD, SnapshotFD} {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: fd %d: %w", ErrNotWorker, fd, err)
		}
	}
	return os.NewFile(ReadyFD, "ready"), os.NewFile(ReleaseFD, "release"), os.NewFile(SnapshotFD, "snapshot"), nil
}
