package measure

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microlauncher/internal/plugin"
)

// ErrVerification wraps a failure reported by the verifier.
var ErrVerification = errors.New("verification failed")

// Barrier blocks until every worker reaches the same point.
type Barrier interface {
	Wait() error
}

// Pauser blocks while the worker is asked to sleep.
type Pauser interface {
	WaitAwake()
}

// Options are the measurement parameters taken from the experiment.
type Options struct {
	Repetitions     int
	MetaRepetitions int
	ElementSize     int
	EvalStack       bool
	Privileged      bool
	FlushSize       int
	Displays        []experiment.DisplayMode
}

// OptionsFrom extracts the engine options from a validated configuration.
func OptionsFrom(cfg *experiment.Config, flushSize int) Options {
	displays := make([]experiment.DisplayMode, len(cfg.Evaluators))
	for i, ev := range cfg.Evaluators {
		displays[i] = ev.Display
	}
	return Options{
		Repetitions:     cfg.Repetitions,
		MetaRepetitions: cfg.MetaRepetitions,
		ElementSize:     cfg.ElementSize,
		EvalStack:       cfg.EvalStack,
		Privileged:      cfg.Privileged,
		FlushSize:       flushSize,
		Displays:        displays,
	}
}

// Engine runs the timing loop of one worker. It is not safe for concurrent
// use.
type Engine struct {
	opts      Options
	kernel    *plugin.Kernel
	evals     []plugin.Evaluator
	allocator plugin.Allocator
	verifier  plugin.Verifier
	infos     []EvaluatorInfo

	barrier Barrier
	pause   Pauser
	window  Window
	flusher *Flusher
	logger  *logging.Logger

	starts, stops []float64
}

// New creates an engine over the plugins in set. A nil barrier or pauser
// never blocks.
func New(opts Options, set *plugin.Set, barrier Barrier, pause Pauser, logger *logging.Logger) *Engine {
	if barrier == nil {
		barrier = noBarrier{}
	}
	if pause == nil {
		pause = noPause{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	e := &Engine{
		opts:      opts,
		kernel:    set.Kernel,
		evals:     set.Evaluators,
		allocator: set.Allocator,
		verifier:  set.Verifier,
		barrier:   barrier,
		pause:     pause,
		window:    NewWindow(opts.Privileged),
		flusher:   NewFlusher(opts.FlushSize),
		logger:    logger,
		starts:    make([]float64, len(set.Evaluators)),
		stops:     make([]float64, len(set.Evaluators)),
	}
	e.infos = make([]EvaluatorInfo, len(set.Evaluators))
	for i, ev := range set.Evaluators {
		e.infos[i] = EvaluatorInfo{OverheadRelevant: ev.OverheadRelevant(), Display: experiment.DisplayRaw}
		if i < len(opts.Displays) {
			e.infos[i].Display = opts.Displays[i]
		}
	}
	return e
}

// Run measures every remaining meta-repetition of st, starting at st.Meta,
// and returns the corrected results. For the verification pass the verifier
// sees the vectors of the first meta-repetition before and after the kernel.
func (e *Engine) Run(st experiment.State) (*Step, error) {
	step := &Step{State: st}
	for meta := st.Meta; meta < e.opts.MetaRepetitions; meta++ {
		s, err := e.meta(st, meta, st.Verify && meta == st.Meta)
		if err != nil {
			return nil, err
		}
		step.Samples = append(step.Samples, s)
	}
	step.Results = Correct(step.Samples, e.infos, e.opts.Repetitions)
	return step, nil
}

func (e *Engine) meta(st experiment.State, meta int, verify bool) (Sample, error) {
	s := Sample{Meta: meta, Values: make([]Value, len(e.evals)), Overhead: make([]float64, len(e.evals))}

	e.flusher.Flush()
	vecs := e.allocate(st)
	defer e.free(vecs)

	if verify {
		if err := e.verifier.Init(st.VectorSize, e.opts.ElementSize, vecs); err != nil {
			return s, fmt.Errorf("%w: init: %w", ErrVerification, err)
		}
	}

	e.pause.WaitAwake()
	if err := e.barrier.Wait(); err != nil {
		return s, fmt.Errorf("barrier before overhead pass: %w", err)
	}
	e.overheadPass(st, vecs, s.Overhead)

	e.pause.WaitAwake()
	if err := e.barrier.Wait(); err != nil {
		return s, fmt.Errorf("barrier before measured pass: %w", err)
	}
	s.Attempts = 1
	for !e.measuredPass(st, vecs, s.Values) {
		e.logger.Debug("Negative delta, measuring again",
			zap.Int("meta", meta), zap.Int("attempt", s.Attempts))
		e.pause.WaitAwake()
		e.overheadPass(st, vecs, s.Overhead)
		s.Attempts++
	}

	if verify {
		if err := e.verifier.Display(st.VectorSize, e.opts.ElementSize, vecs); err != nil {
			return s, fmt.Errorf("%w: %w", ErrVerification, err)
		}
	}
	return s, nil
}

func (e *Engine) allocate(st experiment.State) [][]byte {
	size := st.VectorSize * e.opts.ElementSize
	vecs := make([][]byte, len(st.Alignments))
	for i, align := range st.Alignments {
		vecs[i] = e.allocator.Malloc(size, align*e.opts.ElementSize)
		e.kernel.Init(i, st.VectorSize, e.opts.ElementSize, vecs[i])
	}
	return vecs
}

func (e *Engine) free(vecs [][]byte) {
	for _, v := range vecs {
		e.allocator.Free(v)
	}
}

// overheadPass times a single kernel call and stores each evaluator's delta
// in out.
func (e *Engine) overheadPass(st experiment.State, vecs [][]byte, out []float64) {
	e.start()
	e.kernel.Call(st.VectorSize, e.opts.ElementSize, vecs)
	e.stop()
	for i := range out {
		out[i] = e.stops[i] - e.starts[i]
	}
}

// measuredPass times the repeated kernel calls. It reports false, leaving
// out unspecified, when any evaluator went backwards.
func (e *Engine) measuredPass(st experiment.State, vecs [][]byte, out []Value) bool {
	var total, prev uint64
	mismatch := false

	e.start()
	e.window.Begin()
	for r := range e.opts.Repetitions {
		n := e.kernel.Call(st.VectorSize, e.opts.ElementSize, vecs)
		if r > 0 && n != prev {
			mismatch = true
		}
		prev = n
		total += n
	}
	e.window.End()
	e.stop()

	if mismatch {
		e.logger.Warn("Kernel reported varying iteration counts",
			zap.Int("vector_size", st.VectorSize), zap.Ints("alignments", st.Alignments))
	}

	ok := true
	for i := range out {
		if e.stops[i] < e.starts[i] {
			ok = false
		}
		out[i] = Value{Elapsed: e.stops[i] - e.starts[i], Iterations: total}
	}
	return ok
}

func (e *Engine) start() {
	for i, ev := range e.evals {
		e.starts[i] = ev.Start()
	}
}

func (e *Engine) stop() {
	if e.opts.EvalStack {
		for i := len(e.evals) - 1; i >= 0; i-- {
			e.stops[i] = e.evals[i].Stop()
		}
		return
	}
	for i, ev := range e.evals {
		e.stops[i] = ev.Stop()
	}
}

type noBarrier struct{}

func (noBarrier) Wait() error { return nil }

type noPause struct{}

func (noPause) WaitAwake() {}
