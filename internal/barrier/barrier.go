package barrier

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
)

var (
	// ErrChannel wraps every I/O failure on a barrier channel.
	ErrChannel = errors.New("barrier channel failure")
	// ErrNoWorkers is returned when every worker has left the barrier.
	ErrNoWorkers = errors.New("no workers left at barrier")
)

// TokenSize is the length of a ready or release token.
const TokenSize = 4

var token = [TokenSize]byte{'s', 'y', 'n', 'c'}

// Worker is the worker side of one channel pair.
type Worker struct {
	ready   io.WriteCloser
	release io.ReadCloser
	kill    *KillSwitch
}

// NewWorker wraps the write end of the ready channel and the read end of the
// release channel.
func NewWorker(ready io.WriteCloser, release io.ReadCloser, kill *KillSwitch) *Worker {
	return &Worker{ready: ready, release: release, kill: kill}
}

// Wait signals readiness and blocks until the coordinator releases every
// worker together.
func (w *Worker) Wait() error {
	w.kill.Check()
	if err := writeToken(w.ready); err != nil {
		w.kill.Check()
		return fmt.Errorf("%w: ready: %w", ErrChannel, err)
	}
	if err := readToken(w.release); err != nil {
		w.kill.Check()
		return fmt.Errorf("%w: release: %w", ErrChannel, err)
	}
	return nil
}

// Close closes both ends.
func (w *Worker) Close() error {
	return errors.Join(w.ready.Close(), w.release.Close())
}

type peer struct {
	index   int
	ready   io.ReadCloser
	release io.WriteCloser
	gone    bool
}

// Coordinator is the orchestrator side of every worker's channel pair.
type Coordinator struct {
	peers  []*peer
	kill   *KillSwitch
	logger *logging.Logger
}

// NewCoordinator creates a coordinator without peers.
func NewCoordinator(kill *KillSwitch, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{kill: kill, logger: logger}
}

// Add registers worker index with the read end of its ready channel and the
// write end of its release channel.
func (c *Coordinator) Add(index int, ready io.ReadCloser, release io.WriteCloser) {
	c.peers = append(c.peers, &peer{index: index, ready: ready, release: release})
}

// Live returns the number of workers still taking part.
func (c *Coordinator) Live() int {
	n := 0
	for _, p := range c.peers {
		if !p.gone {
			n++
		}
	}
	return n
}

// Round collects a ready token from every worker, then releases them all.
// A worker whose channel reached end of file has exited; it is dropped and
// the others carry on.
func (c *Coordinator) Round() error {
	for _, p := range c.peers {
		if p.gone {
			continue
		}
		if err := readToken(p.ready); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				c.depart(p, err)
				continue
			}
			c.kill.Check()
			return fmt.Errorf("%w: worker %d ready: %w", ErrChannel, p.index, err)
		}
	}
	for _, p := range c.peers {
		if p.gone {
			continue
		}
		if err := writeToken(p.release); err != nil {
			if errors.Is(err, unix.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
				c.depart(p, err)
				continue
			}
			c.kill.Check()
			return fmt.Errorf("%w: worker %d release: %w", ErrChannel, p.index, err)
		}
	}
	if c.Live() == 0 {
		return ErrNoWorkers
	}
	return nil
}

func (c *Coordinator) depart(p *peer, err error) {
	p.gone = true
	_ = p.ready.Close()
	_ = p.release.Close()
	c.logger.Warn("Worker left the barrier", zap.Int("worker", p.index), zap.Error(err))
}

// Run drives rounds barrier rounds. progress, if set, is called after every
// round with the number completed. Any error closes every channel so blocked
// workers fail instead of hanging.
func (c *Coordinator) Run(ctx context.Context, rounds int, progress func(done int)) error {
	for i := range rounds {
		if err := ctx.Err(); err != nil {
			c.Close()
			return err
		}
		if err := c.Round(); err != nil {
			c.Close()
			return fmt.Errorf("barrier round %d of %d: %w", i+1, rounds, err)
		}
		if progress != nil {
			progress(i + 1)
		}
	}
	return nil
}

// Close closes every channel still open.
func (c *Coordinator) Close() error {
	var errs []error
	for _, p := range c.peers {
		if p.gone {
			continue
		}
		p.gone = true
		errs = append(errs, p.ready.Close(), p.release.Close())
	}
	return errors.Join(errs...)
}

func writeToken(w io.Writer) error {
	buf := token[:]
	for len(buf) > 0 {
		n, err := w.Write(buf)
		buf = buf[n:]
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
	}
	return nil
}

func readToken(r io.Reader) error {
	var buf [TokenSize]byte
	got := 0
	for got < TokenSize {
		n, err := r.Read(buf[got:])
		got += n
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if got == TokenSize {
				break
			}
			if errors.Is(err, io.EOF) && got > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	if buf != token {
		return fmt.Errorf("unexpected token %q", buf[:])
	}
	return nil
}
