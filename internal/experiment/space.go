package experiment

import (
	"errors"
	"slices"
)

// ErrStop is returned by a Walk callback to end the walk early without
// reporting a failure.
var ErrStop = errors.New("experiment walk stopped")

// State is a position in the experiment space together with the progress
// counters that are checkpointed with it.
type State struct {
	// Alignments holds one offset (in elements) per vector.
	Alignments []int
	VectorSize int
	// Runs counts completed alignment steps, including the verification pass.
	Runs int
	// Meta is the meta-repetition to start the step at.
	Meta int
	// Exec is the execute-repetition index within the meta-repetition.
	Exec int
	// Verify marks the verification pass, which runs once before the sweep
	// at the first position of the space.
	Verify bool
}

// Clone returns a copy that does not share the alignment slice.
func (s State) Clone() State {
	s.Alignments = slices.Clone(s.Alignments)
	return s
}

// A Space enumerates vector sizes in an outer loop and, for each size, a
// mixed-radix counter over the per-vector alignment ranges. The last vector
// is the fastest-changing digit.
type Space struct {
	alignments []Range
	sizes      Range
	verify     bool
}

// NewSpace builds the space described by cfg. Steps of zero are normalized
// to one.
func NewSpace(cfg *Config) *Space {
	s := &Space{
		alignments: make([]Range, len(cfg.Alignments)),
		sizes:      cfg.VectorSize.normalized(),
		verify:     cfg.Verifying(),
	}
	for i, r := range cfg.Alignments {
		s.alignments[i] = r.normalized()
	}
	return s
}

// InnerCount is the number of alignment combinations per vector size.
func (s *Space) InnerCount() int {
	n := 1
	for _, r := range s.alignments {
		n *= r.Count()
	}
	return n
}

// TotalRuns is the number of alignment steps the whole experiment needs,
// counting the verification pass when one is configured.
func (s *Space) TotalRuns() int {
	n := s.InnerCount() * s.sizes.Count()
	if s.verify {
		n++
	}
	return n
}

// First returns the starting position of the experiment.
func (s *Space) First() State {
	st := State{
		Alignments: make([]int, len(s.alignments)),
		VectorSize: s.sizes.Start,
		Verify:     s.verify,
	}
	for i, r := range s.alignments {
		st.Alignments[i] = r.Start
	}
	return st
}

// Advance increments the alignment counter in place. When vector 0 carries
// out, every alignment is back at its start and Advance reports true.
func (s *Space) Advance(align []int) (carry bool) {
	for i := len(align) - 1; i >= 0; i-- {
		r := s.alignments[i]
		align[i] += r.Step
		if align[i] <= r.Stop {
			return false
		}
		align[i] = r.Start
	}
	return true
}

// Next moves st to the following alignment step and counts the step just
// finished. It reports false once the space is exhausted.
func (s *Space) Next(st *State) bool {
	st.Runs++
	st.Meta = 0
	st.Exec = 0
	if st.Verify {
		st.Verify = false
		return true
	}
	if !s.Advance(st.Alignments) {
		return true
	}
	st.VectorSize += s.sizes.Step
	return st.VectorSize <= s.sizes.Stop
}

// Resumed derives the position a checkpoint describes. Only the progress
// counters are stored on disk; whether the position is the verification pass
// follows from the run counter.
func (s *Space) Resumed(align []int, vectorSize, runs, meta, exec int) State {
	return State{
		Alignments: slices.Clone(align),
		VectorSize: vectorSize,
		Runs:       runs,
		Meta:       meta,
		Exec:       exec,
		Verify:     s.verify && runs == 0,
	}
}

// Walk calls fn for every alignment step, starting from the pending resume
// position if there is one. The resume state is consumed here and nowhere
// else, so the position it describes is applied exactly once. Returning
// ErrStop from fn ends the walk with a nil error.
func (s *Space) Walk(resume *ResumeState, fn func(State) error) error {
	st := s.First()
	if saved, ok := resume.Take(); ok {
		st = saved
	}
	for {
		if err := fn(st.Clone()); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
		if !s.Next(&st) {
			return nil
		}
	}
}

// BarrierRounds is the number of barrier rounds a worker enters when it walks
// the space from position from: two per meta-repetition (overhead pass and
// measured pass) for every remaining alignment step. The orchestrator drives
// exactly this many rounds.
func (s *Space) BarrierRounds(metaRepetitions int, from State) int {
	return (s.TotalRuns()-from.Runs)*metaRepetitions*2 - from.Meta*2
}
