package barrier

import (
	"errors"
	"fmt"
	"os"
)

// Pipes are the four ends of one worker's channel pair. After spawning, the
// orchestrator keeps ReadyR and ReleaseW and closes the other two; the worker
// does the opposite.
type Pipes struct {
	ReadyR, ReadyW     *os.File
	ReleaseR, ReleaseW *os.File
}

// NewPipes creates both channels.
func NewPipes() (*Pipes, error) {
	readyR, readyW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ready pipe: %w", ErrChannel, err)
	}
	releaseR, releaseW, err := os.Pipe()
	if err != nil {
		readyR.Close()
		readyW.Close()
		return nil, fmt.Errorf("%w: release pipe: %w", ErrChannel, err)
	}
	return &Pipes{ReadyR: readyR, ReadyW: readyW, ReleaseR: releaseR, ReleaseW: releaseW}, nil
}

// CloseWorkerEnds closes the ends handed to the worker process.
func (p *Pipes) CloseWorkerEnds() error {
	return errors.Join(p.ReadyW.Close(), p.ReleaseR.Close())
}

// CloseAll closes all four ends.
func (p *Pipes) CloseAll() error {
	return errors.Join(p.ReadyR.Close(), p.ReadyW.Close(), p.ReleaseR.Close(), p.ReleaseW.Close())
}
