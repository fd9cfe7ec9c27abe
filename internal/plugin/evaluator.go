package plugin

import (
	"fmt"
	"time"
)

// BuiltinClock names the evaluator that reads the monotonic clock.
const BuiltinClock = "clock"

// Evaluator symbol names.
const (
	EvaluationInit      = "evaluationInit"
	EvaluationStart     = "evaluationStart"
	EvaluationStop      = "evaluationStop"
	EvaluationClose     = "evaluationClose"
	OverheadRelevantVar = "IS_OVERHEAD_RELEVANT"
)

// Evaluator is a timing source. Start and Stop return readings whose
// difference is the measured quantity.
type Evaluator interface {
	Name() string
	Init() error
	Start() float64
	Stop() float64
	Close() error
	// OverheadRelevant reports whether overhead is subtracted from samples.
	OverheadRelevant() bool
}

type libEvaluator struct {
	name     string
	init     func() error
	start    func() float64
	stop     func() float64
	close    func() error
	relevant bool
}

func (e *libEvaluator) Name() string           { return e.name }
func (e *libEvaluator) Init() error            { return e.init() }
func (e *libEvaluator) Start() float64         { return e.start() }
func (e *libEvaluator) Stop() float64          { return e.stop() }
func (e *libEvaluator) Close() error           { return e.close() }
func (e *libEvaluator) OverheadRelevant() bool { return e.relevant }

// ResolveEvaluator builds an evaluator from a library. Every hook is
// optional; a missing one does nothing and reads zero. A hook exported with
// the wrong type is an error.
func ResolveEvaluator(name string, l Lookuper) (Evaluator, error) {
	e := &libEvaluator{
		name:     name,
		init:     func() error { return nil },
		start:    func() float64 { return 0 },
		stop:     func() float64 { return 0 },
		close:    func() error { return nil },
		relevant: true,
	}

	var err error
	if e.init, err = orDefault(l, EvaluationInit, "func() error", e.init); err != nil {
		return nil, err
	}
	if e.start, err = orDefault(l, EvaluationStart, "func() float64", e.start); err != nil {
		return nil, err
	}
	if e.stop, err = orDefault(l, EvaluationStop, "func() float64", e.stop); err != nil {
		return nil, err
	}
	if e.close, err = orDefault(l, EvaluationClose, "func() error", e.close); err != nil {
		return nil, err
	}

	if sym, ok := optional(l, OverheadRelevantVar); ok {
		switch v := sym.(type) {
		case *bool:
			e.relevant = *v
		case *int:
			e.relevant = *v != 0
		default:
			return nil, fmt.Errorf("%w: %s is %T, want *bool or *int", ErrSignature, OverheadRelevantVar, sym)
		}
	}
	return e, nil
}

func orDefault[T any](l Lookuper, name, want string, def T) (T, error) {
	fn, found, err := hook[T](l, name, want)
	if err != nil || !found {
		return def, err
	}
	return fn, nil
}

// clockEvaluator reads nanoseconds from the monotonic clock.
type clockEvaluator struct {
	epoch time.Time
}

// Clock returns the built-in evaluator. Its readings are nanoseconds since
// the evaluator was created.
func Clock() Evaluator {
	return &clockEvaluator{epoch: time.Now()}
}

func (c *clockEvaluator) Name() string           { return BuiltinClock }
func (c *clockEvaluator) Init() error            { return nil }
func (c *clockEvaluator) Start() float64         { return float64(time.Since(c.epoch)) }
func (c *clockEvaluator) Stop() float64          { return float64(time.Since(c.epoch)) }
func (c *clockEvaluator) Close() error           { return nil }
func (c *clockEvaluator) OverheadRelevant() bool { return true }
