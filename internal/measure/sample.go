package measure

import (
	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
)

// ProblemOverheadExceedsSignal marks a sample that is still negative after
// the mean overhead was subtracted.
const ProblemOverheadExceedsSignal = "overhead_exceeds_signal"

// Value is one evaluator's reading of a measured pass.
type Value struct {
	// Elapsed is the stop reading minus the start reading.
	Elapsed float64
	// Iterations is the sum of the iteration counts the kernel reported
	// over the pass.
	Iterations uint64
}

// Sample is one meta-repetition: a Value and an overhead delta per evaluator.
type Sample struct {
	Meta     int
	Values   []Value
	Overhead []float64
	// Attempts counts measured passes, including those rejected as noise.
	Attempts int
}

// Result is a sample in display units after overhead correction.
type Result struct {
	Meta    int
	Values  []float64
	Problem string
}

// Step is everything measured at one position of the experiment space.
type Step struct {
	State   experiment.State
	Samples []Sample
	Results []Result
}

// Retries returns the number of measured passes rejected as noise.
func (s *Step) Retries() int {
	n := 0
	for _, sm := range s.Samples {
		n += sm.Attempts - 1
	}
	return n
}

// Problems returns the number of results carrying a problem code.
func (s *Step) Problems() int {
	n := 0
	for _, r := range s.Results {
		if r.Problem != "" {
			n++
		}
	}
	return n
}

// EvaluatorInfo is what correction needs to know about an evaluator.
type EvaluatorInfo struct {
	OverheadRelevant bool
	Display          experiment.DisplayMode
}

// Correct subtracts each evaluator's mean overhead over all samples from its
// elapsed values, when the evaluator marks overhead as relevant, and converts
// the result to the evaluator's display unit. A value still negative after
// subtraction flags its sample; zero does not.
func Correct(samples []Sample, evals []EvaluatorInfo, repetitions int) []Result {
	means := make([]float64, len(evals))
	column := make([]float64, len(samples))
	for e := range evals {
		for i, s := range samples {
			column[i] = s.Overhead[e]
		}
		if len(column) > 0 {
			means[e] = stat.Mean(column, nil)
		}
	}

	results := make([]Result, len(samples))
	for i, s := range samples {
		r := Result{Meta: s.Meta, Values: make([]float64, len(evals))}
		for e, info := range evals {
			v := s.Values[e].Elapsed
			if info.OverheadRelevant {
				v -= means[e]
			}
			if v < 0 {
				r.Problem = ProblemOverheadExceedsSignal
			}
			r.Values[e] = Display(v, s.Values[e].Iterations, repetitions, info.Display)
		}
		results[i] = r
	}
	return results
}

// Display converts an elapsed value to mode's unit. Divisors of zero are
// treated as one.
func Display(elapsed float64, iterations uint64, repetitions int, mode experiment.DisplayMode) float64 {
	switch mode {
	case experiment.DisplayPerIteration:
		return elapsed / float64(max(iterations, 1))
	case experiment.DisplayPerCall:
		return elapsed / float64(max(repetitions, 1))
	default:
		return elapsed
	}
}
