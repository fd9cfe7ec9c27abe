package plugin

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
)

// Set holds every plugin a worker uses during one experiment.
type Set struct {
	Kernel     *Kernel
	Evaluators []Evaluator
	Allocator  Allocator
	// Verifier is nil unless a verification library is configured.
	Verifier Verifier

	closers []closer
	logger  *logging.Logger
}

type closer struct {
	name string
	fn   func() error
}

// Load opens the libraries cfg names, resolves their symbols and runs the
// allocator and evaluator init hooks. On failure everything already
// initialized is closed again before the error is returned.
func Load(cfg *experiment.Config, open Opener, logger *logging.Logger) (*Set, error) {
	if open == nil {
		open = Open
	}
	s := &Set{logger: logger}
	if err := s.load(cfg, open); err != nil {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	return s, nil
}

func (s *Set) load(cfg *experiment.Config, open Opener) error {
	if cfg.Allocator == "" {
		s.Allocator = Aligned()
	} else {
		l, err := open(cfg.Allocator)
		if err != nil {
			return err
		}
		if s.Allocator, err = ResolveAllocator(l); err != nil {
			return fmt.Errorf("allocator %s: %w", cfg.Allocator, err)
		}
	}
	if err := s.Allocator.Init(); err != nil {
		return fmt.Errorf("allocator init failed: %w", err)
	}
	s.push("allocator", s.Allocator.Close)

	for _, spec := range cfg.Evaluators {
		ev, err := s.evaluator(spec.Path, open)
		if err != nil {
			return err
		}
		if err := ev.Init(); err != nil {
			return fmt.Errorf("evaluator %s init failed: %w", ev.Name(), err)
		}
		s.Evaluators = append(s.Evaluators, ev)
		s.push("evaluator "+ev.Name(), ev.Close)
	}

	if cfg.Verifying() {
		l, err := open(cfg.Verifier)
		if err != nil {
			return err
		}
		if s.Verifier, err = ResolveVerifier(l); err != nil {
			return fmt.Errorf("verifier %s: %w", cfg.Verifier, err)
		}
		s.push("verifier", s.Verifier.Close)
	}

	if cfg.ExecMode() {
		s.Kernel = ExecKernel(cfg.Executable, cfg.Args, cfg.Vectors, s.logger)
		return nil
	}
	l, err := open(cfg.Kernel.Path)
	if err != nil {
		return err
	}
	s.Kernel, err = ResolveKernel(l, cfg.Kernel.Function, cfg.Kernel.Init, cfg.Vectors, cfg.Variadic)
	if err != nil {
		return fmt.Errorf("kernel %s: %w", cfg.Kernel.Path, err)
	}
	return nil
}

func (s *Set) evaluator(path string, open Opener) (Evaluator, error) {
	if path == "" || path == BuiltinClock {
		return Clock(), nil
	}
	l, err := open(path)
	if err != nil {
		return nil, err
	}
	ev, err := ResolveEvaluator(path, l)
	if err != nil {
		return nil, fmt.Errorf("evaluator %s: %w", path, err)
	}
	return ev, nil
}

func (s *Set) push(name string, fn func() error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Close runs the close hooks in reverse order of initialization. Every hook
// runs exactly once, even if an earlier one failed.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.fn(); err != nil {
			if s.logger != nil {
				s.logger.Warn("Plugin close hook failed", zap.String("plugin", c.name), zap.Error(err))
			}
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
